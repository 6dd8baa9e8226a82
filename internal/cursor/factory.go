package cursor

import (
	"context"
	"strings"
)

// Config selects the cursor backend.
type Config struct {
	DatabaseURL string
	Path        string
	Name        string
	Ephemeral   bool
}

// NewStore creates a postgres-backed store when configured, otherwise a file
// store. Ephemeral keeps the cursor in memory only.
func NewStore(ctx context.Context, cfg Config) (Store, error) {
	if cfg.Ephemeral {
		return NewInMemoryStore(), nil
	}
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		return NewPostgresStore(ctx, cfg.DatabaseURL, cfg.Name)
	}
	return NewFileStore(cfg.Path)
}
