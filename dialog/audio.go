package dialog

import (
	"context"
	"errors"
	"io"
	"time"
)

// ReadChunks slices r into size-byte chunks and sends them on out, one per
// interval when interval is positive. A short final chunk is padded with
// silence. out is closed on return. io.EOF is not reported.
func ReadChunks(ctx context.Context, r io.Reader, size int, interval time.Duration, out chan<- []byte) error {
	defer close(out)
	if size <= 0 {
		size = DefaultChunkSize
	}

	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		chunk := make([]byte, size)
		n, err := io.ReadFull(r, chunk)
		if n == 0 {
			if err == nil || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		// Remaining bytes are already zero.
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
			return err
		}

		select {
		case out <- chunk:
		case <-ctx.Done():
			return ctx.Err()
		}

		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if tick != nil {
			select {
			case <-tick:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// StreamAudio sends chunks until the channel closes, ctx ends, or a send
// fails. Leaving StateSessionActive surfaces as ErrSessionNotReady.
func (c *Client) StreamAudio(ctx context.Context, chunks <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				return nil
			}
			if err := c.SendAudio(chunk); err != nil {
				return err
			}
		}
	}
}
