package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseVerbosity(t *testing.T) {
	tests := []struct {
		verbosity string
		want      Level
	}{
		{"quiet", LevelError},
		{"normal", LevelInfo},
		{"", LevelInfo},
		{"verbose", LevelDebug},
		{"debug", LevelDebug},
		{"shouting", LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.verbosity, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseVerbosity(tt.verbosity))
		})
	}
}

func TestNopLoggerIsSafe(t *testing.T) {
	logger := Nop()
	logger.Debugf("ignored %d", 1)
	logger.Infof("ignored")
	logger.Warnf("ignored")
	logger.Errorf("ignored")
	assert.NoError(t, logger.Close())
}
