package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bondsphere/backend/internal/config"
)

// ErrNotExist is returned when no override is stored under a name
var ErrNotExist = errors.New("template override not found")

// TemplateSource defines read access to stored template overrides
type TemplateSource interface {
	// Get returns the raw override document stored under name
	Get(ctx context.Context, name string) ([]byte, error)
}

// New builds the source selected by cfg.Type. "none" returns nil.
func New(ctx context.Context, cfg config.StorageConfig) (TemplateSource, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "local":
		return NewLocalTemplateStore(cfg.LocalDir)
	case "s3":
		return NewS3TemplateStore(ctx, cfg)
	}
	return nil, fmt.Errorf("unknown template storage %q", cfg.Type)
}

func objectName(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return "", fmt.Errorf("invalid template name %q", name)
	}
	return name + ".json", nil
}
