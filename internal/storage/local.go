package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// LocalTemplateStore reads overrides from a directory of <name>.json files
type LocalTemplateStore struct {
	basePath string
}

// NewLocalTemplateStore creates a store rooted at basePath
func NewLocalTemplateStore(basePath string) (*LocalTemplateStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create template directory: %w", err)
	}
	return &LocalTemplateStore{basePath: basePath}, nil
}

// Get reads the override file for name
func (s *LocalTemplateStore) Get(ctx context.Context, name string) ([]byte, error) {
	file, err := objectName(name)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(s.basePath, file))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read template override: %w", err)
	}
	return data, nil
}
