package logging

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/orneryd/cnpjgraph/pkg/config"
)

func TestNew(t *testing.T) {
	for _, format := range []string{"auto", "json", "console"} {
		t.Run(format, func(t *testing.T) {
			logger, err := New(config.LoggingConfig{Level: "warn", Format: format})
			require.NoError(t, err)
			assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
			assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
		})
	}
}

func TestNew_BadLevel(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "loud", Format: "json"})
	assert.Error(t, err)
}

func TestResolveFormat(t *testing.T) {
	assert.Equal(t, "json", resolveFormat("JSON", 0))
	assert.Equal(t, "console", resolveFormat("console", 0))

	// A regular file is never a terminal.
	f, err := os.CreateTemp(t.TempDir(), "log")
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, "json", resolveFormat("auto", f.Fd()))
}

func TestBadger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	bl := Badger(zap.New(core))

	bl.Errorf("compaction failed: %v\n", "disk full")
	bl.Warningf("slow write")
	bl.Infof("opened %d tables", 3)

	require.Equal(t, 3, logs.Len())
	entries := logs.All()
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, "compaction failed: disk full", entries[0].Message)
	assert.Equal(t, "badger", entries[0].LoggerName)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, zapcore.DebugLevel, entries[2].Level)
}
