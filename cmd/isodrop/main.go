package main

import (
	"log/slog"
	"os"

	"github.com/isodrop/isodrop/cmd/isodrop/commands"
)

func main() {
	// Logs go to stderr so tables and results on stdout stay clean.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: commands.LogLevel,
	}))
	slog.SetDefault(logger)

	commands.Execute()
}
