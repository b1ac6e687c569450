// Command ragctl is an operator client for the ragline API.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "ragctl",
		Usage: "Enqueue documents, ask questions and manage dead letters",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "api",
				Usage:   "Base URL of the ragline API",
				Value:   "http://localhost:8081",
				EnvVars: []string{"RAGLINE_API"},
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "Bearer token sent with every request",
				EnvVars: []string{"RAGLINE_TOKEN"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "enqueue",
				Usage:  "Publish an ingestion job for an uploaded blob",
				Action: enqueueCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "key", Aliases: []string{"k"}, Usage: "Blob key of the document", Required: true},
					&cli.StringFlag{Name: "owner", Aliases: []string{"o"}, Usage: "Owner id (ignored when the token names one)"},
					&cli.StringFlag{Name: "file-name", Usage: "Original file name"},
					&cli.Int64Flag{Name: "size", Usage: "Size of the blob in bytes"},
				},
			},
			{
				Name:      "ask",
				Usage:     "Ask a question of one or more documents",
				ArgsUsage: "[question]",
				Action:    askCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "query", Aliases: []string{"q"}, Usage: "The question; the first argument is used when unset"},
					&cli.StringFlag{Name: "owner", Aliases: []string{"o"}, Usage: "Owner id (ignored when the token names one)"},
					&cli.StringSliceFlag{Name: "doc", Aliases: []string{"d"}, Usage: "Document key to search; repeat for more", Required: true},
				},
			},
			{
				Name:   "documents",
				Usage:  "List an owner's indexed documents",
				Action: documentsCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "owner", Aliases: []string{"o"}, Usage: "Owner id (ignored when the token names one)"},
				},
			},
			{
				Name:  "deadletters",
				Usage: "Inspect and replay failed ingestion jobs",
				Subcommands: []*cli.Command{
					{Name: "list", Usage: "List dead letters", Action: deadLettersListCommand},
					{
						Name:   "retry",
						Usage:  "Republish a dead letter's payload and remove it",
						Action: deadLettersRetryCommand,
						Flags:  []cli.Flag{&cli.StringFlag{Name: "id", Required: true}},
					},
					{
						Name:   "delete",
						Usage:  "Discard a dead letter",
						Action: deadLettersDeleteCommand,
						Flags:  []cli.Flag{&cli.StringFlag{Name: "id", Required: true}},
					},
				},
			},
			{
				Name:   "stats",
				Usage:  "Show document and dead letter counts",
				Action: statsCommand,
			},
		},
	}
}

func setupLogger(c *cli.Context) error {
	var level slog.Level
	switch strings.ToLower(c.String("log-level")) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", c.String("log-level"))
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return nil
}
