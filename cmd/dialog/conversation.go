package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/room4-2/realtimedialog/archive"
	"github.com/room4-2/realtimedialog/audio"
	"github.com/room4-2/realtimedialog/dialog"
	"github.com/room4-2/realtimedialog/logging"
	"github.com/room4-2/realtimedialog/protocol"
	"github.com/room4-2/realtimedialog/recording"
	"github.com/room4-2/realtimedialog/render"
)

const (
	readyTimeout  = 10 * time.Second
	finishTimeout = 5 * time.Second
)

// conversation owns one client and everything attached to its output.
type conversation struct {
	client   *dialog.Client
	playback <-chan []byte
	log      *zap.Logger
	render   *render.Renderer
	rate     int
	maxRound uint64

	output   string
	outFile  *os.File
	wav      *bytes.Buffer
	player   *audio.Player
	audioLen int

	recordPath string
	recordFile *os.File
	recorder   *recording.Writer

	finishOnce sync.Once
}

// openConversation dials, starts the session and waits until it is active.
func openConversation(ctx context.Context, c *cli.Context) (*conversation, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, cli.Exit(err.Error(), 2)
	}
	logger, err := logging.NewConsole(cfg.LogLevel, c.App.ErrWriter)
	if err != nil {
		return nil, cli.Exit(err.Error(), 2)
	}
	start, err := cfg.StartSession()
	if err != nil {
		return nil, cli.Exit(err.Error(), 2)
	}

	cv := &conversation{
		log:        logger,
		render:     render.New(c.App.Writer),
		rate:       start.TTS.AudioConfig.SampleRate,
		maxRound:   uint64(max(c.Int("max-rounds"), 0)),
		output:     c.String("output"),
		recordPath: c.String("record"),
	}
	cv.render.Verbose = c.Bool("verbose")

	if err := cv.openSinks(c.Bool("no-play")); err != nil {
		cv.closeSinks()
		return nil, err
	}

	client, err := dialog.Dial(ctx, cfg.Dialog, dialog.Options{
		StartSession: start,
		Logger:       logger,
	})
	if err != nil {
		cv.closeSinks()
		return nil, err
	}
	cv.client = client
	// Subscribe before the session starts so no reply audio is missed.
	cv.playback = client.Playback()

	readyCtx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()
	if err := client.Start(readyCtx); err != nil {
		client.Close()
		cv.closeSinks()
		return nil, err
	}
	if err := client.Ready(readyCtx); err != nil {
		client.Close()
		cv.closeSinks()
		if cerr := client.Err(); cerr != nil {
			return nil, cerr
		}
		return nil, err
	}
	logger.Debug("session active",
		zap.String("connect_id", client.ConnectID()),
		zap.String("session_id", client.SessionID()),
	)
	return cv, nil
}

func (cv *conversation) openSinks(noPlay bool) error {
	if cv.output != "" {
		f, err := os.Create(cv.output)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		cv.outFile = f
		if strings.EqualFold(filepath.Ext(cv.output), ".wav") {
			cv.wav = &bytes.Buffer{}
		}
	}
	if cv.recordPath != "" {
		f, err := os.Create(cv.recordPath)
		if err != nil {
			return fmt.Errorf("create recording: %w", err)
		}
		cv.recordFile = f
		cv.recorder = recording.NewWriter(f)
	}
	if !noPlay {
		player, err := audio.NewPlayer(cv.rate)
		if err != nil {
			cv.log.Warn("playback disabled", zap.Error(err))
		} else {
			cv.player = player
		}
	}
	return nil
}

// finish ends the session once, in the background.
func (cv *conversation) finish() {
	cv.finishOnce.Do(func() {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), finishTimeout)
			defer cancel()
			if err := cv.client.Finish(ctx); err != nil {
				cv.log.Warn("finish not confirmed", zap.Error(err))
			}
		}()
	})
}

// run consumes events until the connection ends. onTurn is called after
// each completed reply; returning true finishes the session. Cancelling
// ctx also finishes it.
func (cv *conversation) run(ctx context.Context, onTurn func(rounds uint64) bool) error {
	playback := cv.playback
	if playback == nil {
		playback = cv.client.Playback()
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for chunk := range playback {
			cv.play(chunk)
		}
	}()

	done := ctx.Done()
	events := cv.client.Events()
	for events != nil {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if cv.recorder != nil {
				if err := cv.recorder.Record(ev); err != nil {
					cv.log.Warn("recording failed", zap.Error(err))
				}
			}
			cv.render.Event(ev)
			if ev.Err != nil {
				// The server may keep the socket open after a failure.
				cv.finish()
				continue
			}
			if ev.ID == protocol.EventTTSEnded && onTurn != nil && onTurn(cv.client.Rounds()) {
				cv.finish()
			}
		case <-done:
			done = nil
			cv.finish()
		}
	}

	wg.Wait()
	cv.render.State(cv.client.State())
	return cv.client.Err()
}

func (cv *conversation) play(chunk []byte) {
	cv.audioLen += len(chunk)
	if cv.wav != nil {
		cv.wav.Write(chunk)
	} else if cv.outFile != nil {
		if _, err := cv.outFile.Write(chunk); err != nil {
			cv.log.Warn("output write failed", zap.Error(err))
		}
	}
	if cv.player != nil {
		if _, err := cv.player.Write(chunk); err != nil {
			cv.log.Warn("playback failed", zap.Error(err))
			cv.player = nil
		}
	}
}

// reachedLimit reports whether rounds hit --max-rounds.
func (cv *conversation) reachedLimit(rounds uint64) bool {
	return cv.maxRound > 0 && rounds >= cv.maxRound
}

func (cv *conversation) closeSinks() {
	if cv.player != nil {
		cv.player.Close()
	}
	if cv.outFile != nil {
		if cv.wav != nil {
			err := audio.WriteWAV(cv.outFile, audio.Format{SampleRate: cv.rate, Channels: 1, BitDepth: 16}, cv.wav.Bytes())
			if err != nil {
				cv.log.Warn("write wav failed", zap.Error(err))
			}
		}
		cv.outFile.Close()
	}
	if cv.recordFile != nil {
		cv.recordFile.Close()
	}
}

// close flushes outputs, prints the summary and archives when asked.
func (cv *conversation) close(ctx context.Context, c *cli.Context, runErr error) error {
	cv.client.Close()
	cv.closeSinks()

	cv.render.Summary(render.Summary{
		SessionID:  cv.client.SessionID(),
		Rounds:     cv.client.Rounds(),
		AudioBytes: cv.audioLen,
		SampleRate: cv.rate,
		Output:     cv.output,
		Err:        runErr,
	})

	if target := c.String("archive"); target != "" {
		if err := cv.archive(ctx, c, target); err != nil {
			return err
		}
	}
	_ = cv.log.Sync()
	return runErr
}

func (cv *conversation) archive(ctx context.Context, c *cli.Context, target string) error {
	bucket, prefix := archive.ParseS3URL(target)
	uploader, err := archive.NewS3Uploader(ctx, archive.S3Config{
		Bucket:       bucket,
		Prefix:       prefix,
		Region:       c.String("archive-region"),
		Endpoint:     c.String("archive-endpoint"),
		UsePathStyle: c.Bool("archive-path-style"),
	})
	if err != nil {
		return err
	}
	return uploadArtifacts(ctx, uploader, cv.client.SessionID(), c.App.Writer, cv.output, cv.recordPath)
}

func uploadArtifacts(ctx context.Context, u *archive.Uploader, sessionID string, w io.Writer, files ...string) error {
	for _, file := range files {
		if file == "" {
			continue
		}
		loc, err := u.PutFile(ctx, sessionID, file)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "archived %s\n", loc)
	}
	return nil
}
