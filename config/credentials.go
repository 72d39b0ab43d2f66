package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
)

// ErrInsecurePermissions is returned when a credentials file is readable or
// writable by group or others.
var ErrInsecurePermissions = fmt.Errorf("credentials file has insecure permissions")

// credentialsFile is the on-disk layout:
//
//	[servicemonitor]
//	api_key = "sm_live_..."
type credentialsFile struct {
	ServiceMonitor struct {
		APIKey string `toml:"api_key"`
	} `toml:"servicemonitor"`
}

// CredentialPaths returns the credential file locations in priority order.
func CredentialPaths() []string {
	paths := []string{"credentials.toml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "servicemonitor", "credentials.toml"))
	}
	return paths
}

// LoadAPIKeyFile reads the dashboard API key from a credentials file.
// On Unix the file must not be accessible to group or others.
func LoadAPIKeyFile(path string) (string, error) {
	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			return "", err
		}
		if mode := info.Mode().Perm(); mode&0o077 != 0 {
			return "", fmt.Errorf("%w: %s has mode %04o (must be 0600 or stricter)",
				ErrInsecurePermissions, path, mode)
		}
	}

	var raw credentialsFile
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return "", fmt.Errorf("decoding %s: %w", path, err)
	}
	return raw.ServiceMonitor.APIKey, nil
}

// ResolveAPIKey fills an empty APIKey from the first credentials file found
// in paths (CredentialPaths when nil). It returns the file used, or "" when
// nothing was needed or found.
func ResolveAPIKey(o *Options, paths []string) (string, error) {
	if o.APIKey != "" {
		return "", nil
	}
	if paths == nil {
		paths = CredentialPaths()
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		key, err := LoadAPIKeyFile(p)
		if err != nil {
			return p, err
		}
		o.APIKey = key
		return p, nil
	}
	return "", nil
}
