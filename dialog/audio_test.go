package dialog

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/room4-2/realtimedialog/protocol"
)

func TestReadChunks(t *testing.T) {
	tests := []struct {
		name   string
		input  int
		size   int
		chunks int
	}{
		{name: "exact", input: 1280, size: 640, chunks: 2},
		{name: "padded tail", input: 1500, size: 640, chunks: 3},
		{name: "empty", input: 0, size: 640, chunks: 0},
		{name: "default size", input: 700, size: 0, chunks: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := bytes.Repeat([]byte{0x5a}, tt.input)
			out := make(chan []byte, 8)
			if err := ReadChunks(context.Background(), bytes.NewReader(input), tt.size, 0, out); err != nil {
				t.Fatalf("ReadChunks failed: %v", err)
			}

			want := tt.size
			if want == 0 {
				want = DefaultChunkSize
			}
			var got [][]byte
			for c := range out {
				if len(c) != want {
					t.Errorf("chunk size mismatch: got %d, want %d", len(c), want)
				}
				got = append(got, c)
			}
			if len(got) != tt.chunks {
				t.Fatalf("chunk count mismatch: got %d, want %d", len(got), tt.chunks)
			}
			if tt.input%want != 0 {
				last := got[len(got)-1]
				tail := tt.input % want
				if last[tail-1] != 0x5a || last[tail] != 0 {
					t.Errorf("tail not padded with silence: %v", last[tail-1:tail+1])
				}
			}
		})
	}
}

func TestReadChunksPacing(t *testing.T) {
	out := make(chan []byte, 8)
	start := time.Now()
	if err := ReadChunks(context.Background(), bytes.NewReader(make([]byte, 4*64)), 64, 10*time.Millisecond, out); err != nil {
		t.Fatalf("ReadChunks failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("chunks not paced: took %v", elapsed)
	}
}

func TestReadChunksCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := make(chan []byte)
	err := ReadChunks(ctx, bytes.NewReader(make([]byte, 640)), 640, 0, out)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if _, ok := <-out; ok {
		t.Error("output channel not closed")
	}
}

func TestStreamAudio(t *testing.T) {
	c, fc := startActive(t, Options{})

	chunks := make(chan []byte, 3)
	for i := 0; i < 3; i++ {
		chunks <- bytes.Repeat([]byte{byte(i + 1)}, DefaultChunkSize)
	}
	close(chunks)

	if err := c.StreamAudio(context.Background(), chunks); err != nil {
		t.Fatalf("StreamAudio failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		f := fc.nextFrame(t)
		if f.Type != protocol.MsgAudioOnlyClient || f.Payload[0] != byte(i+1) {
			t.Errorf("frame %d mismatch: type %v, first byte %d", i, f.Type, f.Payload[0])
		}
	}
}

func TestStreamAudioStopsWhenSessionEnds(t *testing.T) {
	c, fc := startActive(t, Options{})
	fc.in <- serverEvent(t, protocol.EventSessionFinished, c.SessionID(), nil)
	waitState(t, c, StateClosed)

	chunks := make(chan []byte, 1)
	chunks <- make([]byte, DefaultChunkSize)
	if err := c.StreamAudio(context.Background(), chunks); !errors.Is(err, ErrSessionNotReady) {
		t.Errorf("expected ErrSessionNotReady, got %v", err)
	}
}

func TestQueueOrderAndDrain(t *testing.T) {
	q := newQueue[int]()
	for i := 0; i < 100; i++ {
		q.Push(i)
	}
	q.Close()

	i := 0
	for v := range q.C() {
		if v != i {
			t.Fatalf("value %d out of order: got %d", i, v)
		}
		i++
	}
	if i != 100 {
		t.Errorf("drained %d values, want 100", i)
	}
}

func TestQueueDiscard(t *testing.T) {
	q := newQueue[int]()
	for i := 0; i < 10; i++ {
		q.Push(i)
	}
	q.Discard()

	select {
	case v, ok := <-q.C():
		if ok {
			t.Errorf("value %d delivered after Discard", v)
		}
	case <-time.After(testTimeout):
		t.Fatal("consumer channel not closed after Discard")
	}

	// Neither call may block once the pump is gone.
	q.Push(10)
	q.Close()
}
