package tokenstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// File persists tokens as a JSON document on disk. The file is written with
// mode 0600 and replaced atomically via rename, so a crashed writer never
// leaves a truncated token file behind.
type File struct {
	mu   sync.Mutex
	path string
}

// NewFile creates a file-backed store at path. The parent directory is
// created on first Save.
func NewFile(path string) *File { return &File{path: path} }

func (f *File) Load() (Tokens, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Tokens{}, ErrNoTokens
		}
		return Tokens{}, fmt.Errorf("read token file: %w", err)
	}
	var t Tokens
	if err := json.Unmarshal(data, &t); err != nil {
		return Tokens{}, fmt.Errorf("parse token file: %w", err)
	}
	if t.Empty() {
		return Tokens{}, ErrNoTokens
	}
	return t, nil
}

func (f *File) Save(t Tokens) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode tokens: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace token file: %w", err)
	}
	return nil
}

func (f *File) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove token file: %w", err)
	}
	return nil
}
