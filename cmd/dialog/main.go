// Package main provides the dialog CLI: spoken and typed conversations
// with the realtime dialogue service, and offline replay of recordings.
//
// Usage:
//
//	dialog talk [--input file.wav] [--max-rounds 2] [--output output.pcm]
//	dialog text "你好" "讲个笑话"
//	dialog replay session.rec
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:           "dialog",
		Usage:          "Realtime spoken dialogue client",
		Version:        fmt.Sprintf("commit %s", commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			talkCommand(),
			textCommand(),
			replayCommand(),
		},
	}
}

// exitErrHandler preserves exit codes from cli.Exit.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
