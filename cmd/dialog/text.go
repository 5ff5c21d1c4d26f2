package main

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func textCommand() *cli.Command {
	return &cli.Command{
		Name:      "text",
		Usage:     "Send typed queries, one per round",
		ArgsUsage: "[query...]",
		Description: "Queries are taken from the arguments, or one per line from stdin.\n" +
			"Each query is sent after the previous reply finishes.",
		Flags:  connectionFlags(),
		Action: textAction,
	}
}

func textAction(c *cli.Context) error {
	queries := c.Args().Slice()
	if len(queries) == 0 {
		var err error
		queries, err = readQueries(c.App.Reader)
		if err != nil {
			return err
		}
	}
	if len(queries) == 0 {
		return cli.Exit("no queries given", 2)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cv, err := openConversation(ctx, c)
	if err != nil {
		return err
	}

	if err := cv.client.SendText(queries[0]); err != nil {
		return cv.close(context.Background(), c, err)
	}

	runErr := cv.run(ctx, textTurns(cv, queries))
	return cv.close(context.Background(), c, runErr)
}

// textTurns sends the next query after each reply and finishes after the
// last one or at --max-rounds.
func textTurns(cv *conversation, queries []string) func(uint64) bool {
	return func(rounds uint64) bool {
		if cv.reachedLimit(rounds) || rounds >= uint64(len(queries)) {
			return true
		}
		if err := cv.client.SendText(queries[rounds]); err != nil {
			cv.log.Warn("send text failed", zap.Error(err))
			return true
		}
		return false
	}
}

// readQueries returns the non-blank lines of r.
func readQueries(r io.Reader) ([]string, error) {
	if r == nil {
		return nil, nil
	}
	var queries []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			queries = append(queries, line)
		}
	}
	return queries, scanner.Err()
}
