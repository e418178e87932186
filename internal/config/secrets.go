package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Credentials holds the venue API key/secret/passphrase tstopd needs to
// sign requests (spec.md §6).
type Credentials struct {
	APIKey        string
	APISecret     string
	APIPassphrase string
}

// fileCredentials mirrors the JSON shape secrets.py writes via save_config.
type fileCredentials struct {
	APIKey        string `json:"api_key"`
	APISecret     string `json:"api_secret"`
	APIPassphrase string `json:"api_passphrase"`
}

// LoadCredentials resolves venue credentials, environment first
// (CB_API_KEY / CB_API_SECRET / CB_API_PASSPHRASE), falling
// back to a JSON config file (configPath, or TSTOPD_CONFIG_PATH, or
// ~/.tstopd_config.json). Matches
// original_source/trading/secrets.py's load_credentials precedence.
func LoadCredentials(configPath string) (Credentials, error) {
	creds := Credentials{
		APIKey:        os.Getenv("CB_API_KEY"),
		APISecret:     os.Getenv("CB_API_SECRET"),
		APIPassphrase: os.Getenv("CB_API_PASSPHRASE"),
	}
	if creds.APIKey != "" && creds.APISecret != "" {
		return creds, nil
	}

	if configPath == "" {
		configPath = os.Getenv("TSTOPD_CONFIG_PATH")
	}
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			configPath = filepath.Join(home, ".tstopd_config.json")
		}
	}

	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			var fc fileCredentials
			if err := json.Unmarshal(data, &fc); err != nil {
				return Credentials{}, fmt.Errorf("config: parse credentials file %s: %w", configPath, err)
			}
			if creds.APIKey == "" {
				creds.APIKey = fc.APIKey
			}
			if creds.APISecret == "" {
				creds.APISecret = fc.APISecret
			}
			if creds.APIPassphrase == "" {
				creds.APIPassphrase = fc.APIPassphrase
			}
		}
	}

	if creds.APIKey == "" || creds.APISecret == "" {
		return Credentials{}, fmt.Errorf(
			"config: missing venue credentials; set CB_API_KEY/CB_API_SECRET or provide %s", configPath)
	}
	return creds, nil
}
