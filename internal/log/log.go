// Package log builds the application logger: JSON slog output behind a
// redaction layer, optionally rotated on disk.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

type Options struct {
	Level    string
	Rotation *RotationConfig
}

func New(opts Options) (*slog.Logger, io.Closer, error) {
	level, err := parseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	var writer io.Writer = os.Stderr
	var closer io.Closer = io.NopCloser(nil)
	if opts.Rotation != nil {
		rotating, err := NewRotatingWriter(*opts.Rotation)
		if err != nil {
			return nil, nil, err
		}
		writer = rotating
		closer = rotating
	}

	handler := NewRedactingHandler(slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: level}))
	return slog.New(handler), closer, nil
}

func parseLevel(raw string) (slog.Level, error) {
	switch raw {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", raw)
	}
}
