package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("console", func(t *testing.T) {
		log, err := New(Config{Level: "info", Format: "console"})
		require.NoError(t, err)
		log.Named("test").Info("hello", String("k", "v"), Hex("addr", 0x40621d))
	})

	t.Run("invalid level", func(t *testing.T) {
		_, err := New(Config{Level: "loud"})
		assert.Error(t, err)
	})

	t.Run("invalid format", func(t *testing.T) {
		_, err := New(Config{Level: "info", Format: "xml"})
		assert.Error(t, err)
	})

	t.Run("file output", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "client.log")
		log, err := New(Config{Level: "debug", Format: "json", File: path, MaxSizeMB: 1})
		require.NoError(t, err)
		log.Info("written to file", Int("n", 1))
		_ = log.Sync()

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "written to file")
	})
}

func TestHexField(t *testing.T) {
	f := Hex("addr", 0x0000ab)
	assert.Equal(t, "0000ab", f.String)
}
