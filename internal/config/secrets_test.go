package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadCredentials_EnvTakesPriorityOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"api_key":"file-key","api_secret":"file-secret"}`), 0o600))

	t.Setenv("CB_API_KEY", "env-key")
	t.Setenv("CB_API_SECRET", "env-secret")

	creds, err := LoadCredentials(path)
	require.NoError(t, err)
	require.Equal(t, "env-key", creds.APIKey)
	require.Equal(t, "env-secret", creds.APISecret)
}

func TestLoadCredentials_FallsBackToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"api_key":"file-key","api_secret":"file-secret","api_passphrase":"pp"}`), 0o600))

	creds, err := LoadCredentials(path)
	require.NoError(t, err)
	require.Equal(t, "file-key", creds.APIKey)
	require.Equal(t, "pp", creds.APIPassphrase)
}

func TestLoadCredentials_MissingEverythingErrors(t *testing.T) {
	_, err := LoadCredentials(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}
