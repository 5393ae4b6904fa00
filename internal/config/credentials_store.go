package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// Credentials are the persisted tokens of a signed-in forum user.
type Credentials struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func DefaultCredentialsPath() (string, error) {
	root, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, "membersonly", "credentials.json"), nil
}

func LoadCredentials(path string) (Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Credentials{}, err
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return Credentials{}, err
	}
	creds.AccessToken = strings.TrimSpace(creds.AccessToken)
	creds.RefreshToken = strings.TrimSpace(creds.RefreshToken)
	return creds, nil
}

// SaveCredentials writes creds through a temp file and rename so watchers
// never observe a half-written document.
func SaveCredentials(path string, creds Credentials) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".credentials-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// MergeCredentials prefers tokens given on the command line over saved ones.
func MergeCredentials(opts Options, saved Credentials) Credentials {
	merged := saved
	if token := strings.TrimSpace(opts.AccessToken); token != "" {
		merged.AccessToken = token
	}
	if token := strings.TrimSpace(opts.RefreshToken); token != "" {
		merged.RefreshToken = token
	}
	return merged
}
