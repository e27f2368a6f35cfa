// Package testutil provides servers, clients and polling helpers for testing
// Jsonipc peers.
package testutil

import (
	"log/slog"
	"os"
)

// DefaultLogger logs at debug level with source positions.
var DefaultLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
	Level:     slog.LevelDebug,
	AddSource: true,
}))
