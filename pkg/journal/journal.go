// Package journal keeps the durable, line-oriented operations log. It plugs
// into logrus as a hook so every component logging through logrus also lands
// in the file.
package journal

import (
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const TimestampFormat = "2006-01-02 15:04:05.000"

// Hook appends one plain-text line per entry. logrus fires hooks outside of
// its own lock, so formatting and writes are serialised here.
type Hook struct {
	mu        sync.Mutex
	w         io.WriteCloser
	formatter logrus.Formatter
	levels    []logrus.Level
}

// Open opens (or creates) path in append mode.
func Open(path string, level logrus.Level) (*Hook, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "open log file %s", path)
	}
	return New(f, level), nil
}

func New(w io.WriteCloser, level logrus.Level) *Hook {
	levels := make([]logrus.Level, 0, len(logrus.AllLevels))
	for _, l := range logrus.AllLevels {
		if l <= level {
			levels = append(levels, l)
		}
	}
	return &Hook{
		w: w,
		formatter: &logrus.TextFormatter{
			DisableColors:    true,
			FullTimestamp:    true,
			TimestampFormat:  TimestampFormat,
			DisableQuote:     true,
			QuoteEmptyFields: true,
		},
		levels: levels,
	}
}

func (h *Hook) Levels() []logrus.Level {
	return h.levels
}

func (h *Hook) Fire(e *logrus.Entry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.w == nil {
		return nil
	}
	line, err := h.formatter.Format(e)
	if err != nil {
		return err
	}
	_, err = h.w.Write(line)
	return err
}

func (h *Hook) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.w == nil {
		return nil
	}
	err := h.w.Close()
	h.w = nil
	return err
}
