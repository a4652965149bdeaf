package logger

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
)

func TestNewSetsGlobalLevelFromConfig(t *testing.T) {
	tests := []struct {
		level string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel}, // unrecognized levels fall back to info
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			New(Config{Level: tt.level})
			assert.Equal(t, tt.want, zerolog.GlobalLevel())
		})
	}
}

func TestNewPrettyDoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		New(Config{Level: "info", Pretty: true})
	})
}

func TestSetGlobalLoggerAssignsPackageLogger(t *testing.T) {
	l := New(Config{Level: "debug"})
	SetGlobalLogger(l)
	assert.Equal(t, l, log.Logger)
}
