package settings

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// SecretsStore persists user-managed secrets to a local file.
//
// It is intentionally separate from config.json so the config can be shared
// or checked in without leaking credentials. The file is chmod 0600.
type SecretsStore struct {
	path string
	mu   sync.Mutex
}

// Well-known secret keys.
const (
	KeyAnthropicAPIKey = "anthropic_api_key"
	KeyOpenAIAPIKey    = "openai_api_key"
	KeyBraveAPIKey     = "brave_api_key"
	KeySendgridAPIKey  = "sendgrid_api_key"
)

func NewSecretsStore(path string) *SecretsStore {
	return &SecretsStore{path: filepath.Clean(strings.TrimSpace(path))}
}

// DefaultSecretsPath returns the secrets path next to the given config path.
func DefaultSecretsPath(configPath string) string {
	return filepath.Join(filepath.Dir(filepath.Clean(strings.TrimSpace(configPath))), "secrets.json")
}

func (s *SecretsStore) Path() string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(s.path)
}

type secretsFile struct {
	SchemaVersion int               `json:"schema_version"`
	Keys          map[string]string `json:"keys,omitempty"`
}

// Get returns the secret for name. Missing or empty secrets report ok=false.
func (s *SecretsStore) Get(name string) (string, bool, error) {
	if s == nil {
		return "", false, errors.New("nil secrets store")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false, errors.New("missing secret name")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sf, err := s.loadLocked()
	if err != nil {
		return "", false, err
	}
	if sf == nil || len(sf.Keys) == 0 {
		return "", false, nil
	}
	v := strings.TrimSpace(sf.Keys[name])
	if v == "" {
		return "", false, nil
	}
	return v, true, nil
}

// Set stores or replaces the secret for name. An empty value clears it.
func (s *SecretsStore) Set(name string, value string) error {
	if s == nil {
		return errors.New("nil secrets store")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("missing secret name")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sf, err := s.loadLocked()
	if err != nil {
		return err
	}
	if sf == nil {
		sf = &secretsFile{SchemaVersion: 1}
	}
	if sf.Keys == nil {
		sf.Keys = make(map[string]string)
	}

	value = strings.TrimSpace(value)
	if value == "" {
		delete(sf.Keys, name)
	} else {
		sf.Keys[name] = value
	}
	return s.saveLocked(sf)
}

func (s *SecretsStore) loadLocked() (*secretsFile, error) {
	path := strings.TrimSpace(s.path)
	if path == "" {
		return nil, errors.New("missing secrets path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var sf secretsFile
	if err := json.Unmarshal(b, &sf); err != nil {
		return nil, err
	}
	return &sf, nil
}

func (s *SecretsStore) saveLocked(sf *secretsFile) error {
	path := strings.TrimSpace(s.path)
	if path == "" {
		return errors.New("missing secrets path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	b, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
