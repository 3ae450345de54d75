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
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		opts      Options
		logDebug  bool
		contains  []string
		wantEmpty bool
	}{
		{
			name:     "info text",
			opts:     Options{Level: "info", Format: FormatText, Instance: "text_plain"},
			contains: []string{"msg=hello", "instance=text_plain", "user_id=u1"},
		},
		{
			name:     "json",
			opts:     Options{Level: "debug", Format: FormatJSON},
			logDebug: true,
			contains: []string{`"msg":"hello"`, `"user_id":"u1"`},
		},
		{
			name:     "colored text",
			opts:     Options{Level: "info", UseColor: true},
			contains: []string{"\x1b[32m", "msg=hello", ansiReset + "\n"},
		},
		{
			name:      "debug filtered at warn",
			opts:      Options{Level: "warn"},
			logDebug:  true,
			wantEmpty: true,
		},
		{
			name:      "none",
			opts:      Options{Level: "none"},
			wantEmpty: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}

			logger, err := New(buf, tt.opts)
			require.NoError(t, err)

			if tt.logDebug {
				logger.Debug("hello", slog.String("user_id", "u1"))
			} else {
				logger.Info("hello", slog.String("user_id", "u1"))
			}

			if tt.wantEmpty {
				assert.Empty(t, buf.String())

				return
			}

			for _, c := range tt.contains {
				assert.Contains(t, buf.String(), c)
			}
		})
	}
}

func TestNewRejectsUnknownValues(t *testing.T) {
	_, err := New(&bytes.Buffer{}, Options{Level: "loud"})
	assert.Error(t, err)

	_, err = New(&bytes.Buffer{}, Options{Format: "xml"})
	assert.Error(t, err)
}

func TestColorHandlerKeepsAttrsAndGroups(t *testing.T) {
	buf := &bytes.Buffer{}

	logger, err := New(buf, Options{Level: "debug", UseColor: true})
	require.NoError(t, err)

	logger.With("task", "health").WithGroup("req").Error("failed", "status", 503)

	line := buf.String()
	assert.True(t, strings.HasPrefix(line, levelColors[slog.LevelError]))
	assert.Contains(t, line, " task=health")
	assert.NotContains(t, line, "req.task")
	assert.Contains(t, line, "req.status=503")
}
