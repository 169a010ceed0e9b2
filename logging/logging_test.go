package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deployguard/config"
)

func TestInitLoggerToFile(t *testing.T) {
	defer logrus.SetOutput(os.Stderr)
	path := filepath.Join(t.TempDir(), "deployguard.log")

	closer := InitLogger(config.LoggingConfig{Level: "debug", Format: "json", Output: path})
	logrus.WithField("artifact", "drop.sql").Info("hello")
	require.NoError(t, closer.Close())

	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logrus.StandardLogger().Formatter)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"artifact":"drop.sql"`)
}

func TestInitLoggerFallbacks(t *testing.T) {
	defer logrus.SetOutput(os.Stderr)

	closer := InitLogger(config.LoggingConfig{Level: "loud", Format: "text", Output: filepath.Join(t.TempDir(), "missing", "x.log")})
	assert.NoError(t, closer.Close())
	assert.Equal(t, logrus.InfoLevel, logrus.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logrus.StandardLogger().Formatter)
	assert.Equal(t, os.Stderr, logrus.StandardLogger().Out)
}
