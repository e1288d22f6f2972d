// Package secrets reads the ASA service user credentials from a key-value
// parameter store.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// ErrNotFound is returned when a parameter does not exist or is empty.
var ErrNotFound = errors.New("parameter not found")

// Store looks up secret parameters by name.
type Store interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Env resolves parameter names as environment variable names. Intended for
// local runs where no parameter store is reachable.
type Env struct{}

func (Env) GetParameter(_ context.Context, name string) (string, error) {
	v := os.Getenv(name)
	if v == "" {
		return "", fmt.Errorf("env %s: %w", name, ErrNotFound)
	}
	return v, nil
}

// Static serves parameters from a fixed map.
type Static map[string]string

func (s Static) GetParameter(_ context.Context, name string) (string, error) {
	v, ok := s[name]
	if !ok || v == "" {
		return "", fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return v, nil
}
