package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCredentials(t *testing.T, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credentials.toml")
	data := []byte("[servicemonitor]\napi_key = \"sm_test_key\"\n")
	require.NoError(t, os.WriteFile(path, data, mode))
	require.NoError(t, os.Chmod(path, mode))
	return path
}

func TestLoadAPIKeyFile(t *testing.T) {
	path := writeCredentials(t, 0o600)

	key, err := LoadAPIKeyFile(path)
	require.NoError(t, err)
	assert.Equal(t, "sm_test_key", key)
}

func TestLoadAPIKeyFile_InsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not enforced on windows")
	}
	path := writeCredentials(t, 0o644)

	_, err := LoadAPIKeyFile(path)
	assert.ErrorIs(t, err, ErrInsecurePermissions)
}

func TestResolveAPIKey(t *testing.T) {
	path := writeCredentials(t, 0o400)
	missing := filepath.Join(t.TempDir(), "absent.toml")

	o := DefaultOptions()
	used, err := ResolveAPIKey(&o, []string{missing, path})
	require.NoError(t, err)
	assert.Equal(t, path, used)
	assert.Equal(t, "sm_test_key", o.APIKey)
}

func TestResolveAPIKey_KeepsConfiguredKey(t *testing.T) {
	path := writeCredentials(t, 0o600)

	o := DefaultOptions()
	o.APIKey = "explicit"
	used, err := ResolveAPIKey(&o, []string{path})
	require.NoError(t, err)
	assert.Empty(t, used)
	assert.Equal(t, "explicit", o.APIKey)
}
