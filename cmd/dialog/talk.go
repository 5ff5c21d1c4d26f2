package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/room4-2/realtimedialog/audio"
	"github.com/room4-2/realtimedialog/dialog"
)

// Capture is 16 kHz s16le mono, sent as 20ms chunks.
const (
	inputSampleRate = 16000
	chunkInterval   = 20 * time.Millisecond
)

func talkCommand() *cli.Command {
	flags := append(connectionFlags(),
		&cli.StringFlag{
			Name:    "input",
			Aliases: []string{"i"},
			Usage:   "PCM or WAV file to send instead of the microphone (- for stdin)",
		},
		&cli.DurationFlag{
			Name:  "tail",
			Usage: "silence appended after --input so the server detects the end of speech",
			Value: 3 * time.Second,
		},
	)
	return &cli.Command{
		Name:      "talk",
		Usage:     "Hold a spoken conversation",
		ArgsUsage: " ",
		Flags:     flags,
		Action:    talkAction,
	}
}

func talkAction(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	source, err := openInput(c.String("input"), c.Duration("tail"))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	defer source.Close()

	cv, err := openConversation(ctx, c)
	if err != nil {
		return err
	}

	streamCtx, cancelStream := context.WithCancel(ctx)
	defer cancelStream()
	go streamCapture(streamCtx, cv, source)

	runErr := cv.run(ctx, cv.reachedLimit)
	cancelStream()
	source.Close()
	return cv.close(context.Background(), c, runErr)
}

// streamCapture paces source into the session until it ends or the session
// stops accepting audio.
func streamCapture(ctx context.Context, cv *conversation, source io.Reader) {
	chunks := make(chan []byte)
	go func() {
		err := dialog.ReadChunks(ctx, source, dialog.DefaultChunkSize, chunkInterval, chunks)
		if err != nil && !errors.Is(err, context.Canceled) {
			cv.log.Debug("capture ended", zap.Error(err))
		}
	}()

	err := cv.client.StreamAudio(ctx, chunks)
	switch {
	case err == nil:
		cv.log.Debug("capture finished")
	case errors.Is(err, context.Canceled), errors.Is(err, dialog.ErrSessionNotReady):
	default:
		cv.log.Warn("streaming audio failed", zap.Error(err))
	}
	// Unblock ReadChunks if StreamAudio stopped first.
	for range chunks {
	}
}

// openInput returns the capture source: the microphone, stdin or a file
// followed by tail of silence.
func openInput(input string, tail time.Duration) (io.ReadCloser, error) {
	switch input {
	case "":
		capture, err := audio.StartCapture(inputSampleRate)
		if err != nil {
			return nil, err
		}
		return capture, nil
	case "-":
		return io.NopCloser(os.Stdin), nil
	}

	pcm, err := audio.LoadPCM(input, inputSampleRate)
	if err != nil {
		return nil, err
	}
	silence := make([]byte, silenceBytes(tail))
	return io.NopCloser(io.MultiReader(bytes.NewReader(pcm), bytes.NewReader(silence))), nil
}

func silenceBytes(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(d.Milliseconds()) * inputSampleRate / 1000 * 2
}
