package main

import (
	"github.com/urfave/cli/v2"

	"github.com/room4-2/realtimedialog/config"
)

// connectionFlags are shared by the commands that open a session.
func connectionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "url",
			Usage: "dialogue endpoint (default $DIALOG_WS_URL or the public endpoint)",
		},
		&cli.StringFlag{
			Name:  "model",
			Usage: "dialogue model version",
		},
		&cli.StringFlag{
			Name:  "speaker",
			Usage: "TTS voice",
		},
		&cli.StringFlag{
			Name:  "profile",
			Usage: "YAML session profile",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "debug, info, warn or error",
			Value: "warn",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "print lifecycle events and TTS sentences",
		},
		&cli.IntFlag{
			Name:  "max-rounds",
			Usage: "finish after this many replies (0 for no limit)",
			Value: 2,
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "file receiving synthesized audio, .wav adds a header (empty to disable)",
			Value:   "output.pcm",
		},
		&cli.BoolFlag{
			Name:  "no-play",
			Usage: "do not play synthesized audio through sox",
		},
		&cli.StringFlag{
			Name:  "record",
			Usage: "write every event to this recording file",
		},
		&cli.StringFlag{
			Name:  "archive",
			Usage: "upload output and recording to s3://bucket/prefix",
		},
		&cli.StringFlag{
			Name:    "archive-region",
			Usage:   "AWS region for --archive",
			EnvVars: []string{"AWS_REGION"},
		},
		&cli.StringFlag{
			Name:  "archive-endpoint",
			Usage: "S3-compatible endpoint for --archive",
		},
		&cli.BoolFlag{
			Name:  "archive-path-style",
			Usage: "use path-style addressing for --archive",
		},
	}
}

// loadConfig reads the environment and applies flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadDialogConfig()
	if err != nil {
		return nil, err
	}
	if v := c.String("url"); v != "" {
		cfg.Dialog.URL = v
	}
	if v := c.String("model"); v != "" {
		cfg.Model = v
	}
	if v := c.String("speaker"); v != "" {
		cfg.Speaker = v
	}
	if v := c.String("profile"); v != "" {
		cfg.ProfilePath = v
	}
	if c.IsSet("log-level") || cfg.LogLevel == "" {
		cfg.LogLevel = c.String("log-level")
	}
	return cfg, nil
}
