// Package store is the client's durable key-value surface: the member id and
// the active session survive restarts through it. Keys are case-insensitive.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const filePerm fs.FileMode = 0o600

type Store interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Remove(key string) error
}

// FileStore keeps values in memory and rewrites a YAML file through viper on
// every change.
type FileStore struct {
	mu   sync.Mutex
	path string
	data map[string]string
}

func Open(path string) (*FileStore, error) {
	s := &FileStore{path: path, data: make(map[string]string)}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &nf) {
			return nil, fmt.Errorf("read store %s: %w", path, err)
		}
		log.Debug().Str("module", "client.store").Str("path", path).Msg("store file not found, starting empty")
		return s, nil
	}
	for _, k := range v.AllKeys() {
		s.data[k] = v.GetString(k)
	}
	log.Debug().Str("module", "client.store").Str("path", path).Int("keys", len(s.data)).Msg("store loaded")
	return s, nil
}

func (s *FileStore) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[normalize(key)]
	return v, ok
}

func (s *FileStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[normalize(key)] = value
	return s.flushLocked()
}

func (s *FileStore) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := normalize(key)
	if _, ok := s.data[k]; !ok {
		return nil
	}
	delete(s.data, k)
	return s.flushLocked()
}

// flushLocked writes a fresh viper instance since viper cannot unset keys.
func (s *FileStore) flushLocked() error {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigPermissions(filePerm)
	for k, val := range s.data {
		v.Set(k, val)
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("store dir: %w", err)
		}
	}
	if err := v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("write store %s: %w", s.path, err)
	}
	// The file holds the api key; older files may have been created 0644.
	if err := os.Chmod(s.path, filePerm); err != nil {
		return fmt.Errorf("chmod store %s: %w", s.path, err)
	}
	return nil
}

// Memory is a non-durable Store.
type Memory struct {
	mu   sync.Mutex
	data map[string]string
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) Get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[normalize(key)]
	return v, ok
}

func (m *Memory) Set(key, value string) error {
	m.mu.Lock()
	m.data[normalize(key)] = value
	m.mu.Unlock()
	return nil
}

func (m *Memory) Remove(key string) error {
	m.mu.Lock()
	delete(m.data, normalize(key))
	m.mu.Unlock()
	return nil
}

// normalize matches viper, which lowercases keys and splits on dots.
func normalize(key string) string {
	return strings.ReplaceAll(strings.ToLower(key), ".", "_")
}
