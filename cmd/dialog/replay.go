package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/room4-2/realtimedialog/audio"
	"github.com/room4-2/realtimedialog/dialog"
	"github.com/room4-2/realtimedialog/protocol"
	"github.com/room4-2/realtimedialog/recording"
	"github.com/room4-2/realtimedialog/render"
)

func replayCommand() *cli.Command {
	return &cli.Command{
		Name:      "replay",
		Usage:     "Print a recorded conversation",
		ArgsUsage: "<recording>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "print lifecycle events and TTS sentences",
			},
			&cli.BoolFlag{
				Name:  "realtime",
				Usage: "pause between events as they originally arrived",
			},
			&cli.StringFlag{
				Name:  "audio-out",
				Usage: "write the recorded synthesized audio to this file (.wav adds a header)",
			},
			&cli.IntFlag{
				Name:  "sample-rate",
				Usage: "sample rate written into the .wav header",
				Value: dialog.DefaultTTSSampleRate,
			},
		},
		Action: replayAction,
	}
}

func replayAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("replay takes exactly one recording file", 2)
	}
	f, err := os.Open(c.Args().First())
	if err != nil {
		return cli.Exit(fmt.Sprintf("open recording: %v", err), 2)
	}
	defer f.Close()

	entries, err := recording.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read %s: %w", c.Args().First(), err)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
	defer stop()

	r := render.New(c.App.Writer)
	r.Verbose = c.Bool("verbose")
	pcm, err := replay(ctx, r, entries, c.Bool("realtime"))
	if err != nil {
		return err
	}

	sessionID, rounds := tally(entries)
	out := c.String("audio-out")
	if out != "" {
		if err := writeAudio(out, c.Int("sample-rate"), pcm); err != nil {
			return err
		}
	}
	r.Summary(render.Summary{
		SessionID:  sessionID,
		Rounds:     rounds,
		AudioBytes: len(pcm),
		SampleRate: c.Int("sample-rate"),
		Output:     out,
	})
	return nil
}

// replay renders entries in order and returns the concatenated TTS audio.
// With realtime set it sleeps for the gap between recorded timestamps.
func replay(ctx context.Context, r *render.Renderer, entries []recording.Entry, realtime bool) ([]byte, error) {
	var pcm []byte
	var last time.Time
	for _, e := range entries {
		if realtime && !last.IsZero() {
			if gap := e.At.Sub(last); gap > 0 {
				select {
				case <-time.After(gap):
				case <-ctx.Done():
					return pcm, ctx.Err()
				}
			}
		}
		last = e.At

		ev := e.Event()
		r.Event(ev)
		pcm = append(pcm, ev.Audio()...)
	}
	return pcm, nil
}

// tally returns the first session id seen and the number of completed
// replies.
func tally(entries []recording.Entry) (sessionID string, rounds uint64) {
	for _, e := range entries {
		if sessionID == "" {
			sessionID = e.SessionID
		}
		if e.HasID && protocol.EventID(e.EventID) == protocol.EventTTSEnded {
			rounds++
		}
	}
	return sessionID, rounds
}

func writeAudio(path string, rate int, pcm []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create audio output: %w", err)
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".wav") {
		return audio.WriteWAV(f, audio.Format{SampleRate: rate, Channels: 1, BitDepth: 16}, pcm)
	}
	_, err = f.Write(pcm)
	return err
}
