package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWritesJSONLines(t *testing.T) {
	orig := log.Logger
	defer func() { log.Logger = orig }()

	path := filepath.Join(t.TempDir(), "hvac.log")
	closer, err := Init(zerolog.InfoLevel, path, false)
	require.NoError(t, err)

	log.Debug().Msg("hidden")
	log.Info().Int("bus", 1).Msg("Cycle done")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "Cycle done", entry["message"])
	assert.Equal(t, 1.0, entry["bus"])
	assert.Contains(t, entry, "time")
}

func TestInitFailsOnUnwritablePath(t *testing.T) {
	orig := log.Logger
	defer func() { log.Logger = orig }()

	_, err := Init(zerolog.InfoLevel, filepath.Join(t.TempDir(), "missing", "hvac.log"), false)
	assert.Error(t, err)
}
