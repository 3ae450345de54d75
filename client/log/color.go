// Copyright (C) 2024 Christian Rößner
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

package log

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
)

const ansiReset = "\x1b[0m"

var levelColors = map[slog.Level]string{
	slog.LevelDebug: "\x1b[36m",
	slog.LevelInfo:  "\x1b[32m",
	slog.LevelWarn:  "\x1b[33m",
	slog.LevelError: "\x1b[31m",
}

// lineColorHandler renders a record with slog.TextHandler and wraps the
// resulting line in the color of its level. The reset sequence is written
// before the trailing newline so colors never bleed into the next line.
type lineColorHandler struct {
	out  io.Writer
	mu   *sync.Mutex
	opts *slog.HandlerOptions

	// With* calls in the order they were made.
	chain []func(slog.Handler) slog.Handler
}

func newLineColorHandler(out io.Writer, opts *slog.HandlerOptions) *lineColorHandler {
	return &lineColorHandler{out: out, mu: &sync.Mutex{}, opts: opts}
}

func (h *lineColorHandler) Enabled(_ context.Context, lvl slog.Level) bool {
	if h.opts == nil || h.opts.Level == nil {
		return lvl >= slog.LevelInfo
	}

	return lvl >= h.opts.Level.Level()
}

func (h *lineColorHandler) Handle(ctx context.Context, r slog.Record) error {
	var buf bytes.Buffer

	var inner slog.Handler = slog.NewTextHandler(&buf, h.opts)

	for _, apply := range h.chain {
		inner = apply(inner)
	}

	if err := inner.Handle(ctx, r); err != nil {
		return err
	}

	line := bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})

	var out bytes.Buffer

	out.Grow(len(line) + 16)
	out.WriteString(colorFor(r.Level))
	out.Write(line)
	out.WriteString(ansiReset)
	out.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()

	_, err := h.out.Write(out.Bytes())

	return err
}

func (h *lineColorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}

	return h.with(func(inner slog.Handler) slog.Handler { return inner.WithAttrs(attrs) })
}

func (h *lineColorHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}

	return h.with(func(inner slog.Handler) slog.Handler { return inner.WithGroup(name) })
}

func (h *lineColorHandler) with(apply func(slog.Handler) slog.Handler) *lineColorHandler {
	cp := *h
	cp.chain = append(append([]func(slog.Handler) slog.Handler(nil), h.chain...), apply)

	return &cp
}

func colorFor(lvl slog.Level) string {
	if c, ok := levelColors[lvl]; ok {
		return c
	}

	switch {
	case lvl >= slog.LevelError:
		return levelColors[slog.LevelError]
	case lvl >= slog.LevelWarn:
		return levelColors[slog.LevelWarn]
	case lvl <= slog.LevelDebug:
		return levelColors[slog.LevelDebug]
	default:
		return levelColors[slog.LevelInfo]
	}
}

var _ slog.Handler = (*lineColorHandler)(nil)
