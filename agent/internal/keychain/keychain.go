// Package keychain stores the agent's session snapshot and legacy artifacts
package keychain

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/zalando/go-keyring"
)

// ErrNotFound is returned when a key doesn't exist
var ErrNotFound = errors.New("key not found in keychain")

// ServiceName namespaces every entry in the OS keychain
const ServiceName = "sen-alerte"

// Key constants
const (
	// KeySnapshot holds the versioned session snapshot
	KeySnapshot = "sen-alerte-auth"

	// Artifacts written by the pre-rotation client. They are read once by
	// the migration and deleted on every logout.
	KeyLegacyAdmin        = "admin_auth"
	KeyLegacyOrganization = "organization_auth"
	KeyLegacyToken        = "auth_token"
)

// LegacyKeys lists every pre-rotation artifact key
func LegacyKeys() []string {
	return []string{KeyLegacyAdmin, KeyLegacyOrganization, KeyLegacyToken}
}

// Keychain provides secure credential storage
type Keychain interface {
	Set(key, value string) error
	Get(key string) (string, error)
	Delete(key string) error
}

// MockKeychain is an in-memory keychain for testing
type MockKeychain struct {
	mu    sync.RWMutex
	store map[string]string
}

// NewMockKeychain creates a new mock keychain
func NewMockKeychain() *MockKeychain {
	return &MockKeychain{
		store: make(map[string]string),
	}
}

// Set stores a value in the mock keychain
func (m *MockKeychain) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store[key] = value
	return nil
}

// Get retrieves a value from the mock keychain
func (m *MockKeychain) Get(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.store[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

// Delete removes a value from the mock keychain
func (m *MockKeychain) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.store, key)
	return nil
}

// Len returns the number of stored keys
func (m *MockKeychain) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.store)
}

// SystemKeychain uses the OS keychain
type SystemKeychain struct{}

// NewSystemKeychain creates a new system keychain
func NewSystemKeychain() *SystemKeychain {
	return &SystemKeychain{}
}

// Set stores a value in the system keychain
func (s *SystemKeychain) Set(key, value string) error {
	if err := keyring.Set(ServiceName, key, value); err != nil {
		return fmt.Errorf("failed to store in keychain: %w", err)
	}
	return nil
}

// Get retrieves a value from the system keychain
func (s *SystemKeychain) Get(key string) (string, error) {
	value, err := keyring.Get(ServiceName, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to retrieve from keychain: %w", err)
	}
	return value, nil
}

// Delete removes a value from the system keychain
func (s *SystemKeychain) Delete(key string) error {
	if err := keyring.Delete(ServiceName, key); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil // Already deleted
		}
		return fmt.Errorf("failed to delete from keychain: %w", err)
	}
	return nil
}

// FileKeychain keeps entries in a 0600 JSON file, for hosts without an
// OS keychain (headless servers, containers).
type FileKeychain struct {
	mu   sync.Mutex
	path string
}

// NewFileKeychain creates a file keychain at path
func NewFileKeychain(path string) *FileKeychain {
	return &FileKeychain{path: path}
}

func (f *FileKeychain) load() (map[string]string, error) {
	entries := make(map[string]string)
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return entries, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}
	if len(data) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}
	return entries, nil
}

// save replaces the file through a rename so readers never see a partial write
func (f *FileKeychain) save(entries map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("failed to create credentials dir: %w", err)
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write credentials file: %w", err)
	}
	return os.Rename(tmp, f.path)
}

// Set stores a value in the file
func (f *FileKeychain) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries, err := f.load()
	if err != nil {
		return err
	}
	entries[key] = value
	return f.save(entries)
}

// Get retrieves a value from the file
func (f *FileKeychain) Get(key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries, err := f.load()
	if err != nil {
		return "", err
	}
	value, ok := entries[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

// Delete removes a value from the file
func (f *FileKeychain) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := entries[key]; !ok {
		return nil
	}
	delete(entries, key)
	return f.save(entries)
}
