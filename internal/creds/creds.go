// Package creds manages the sync credentials gate.
//
// The sync engine never inspects tokens; it only consumes "is a valid token
// present" as a precondition for initialization and attaches the token to
// outgoing requests via the transport.
package creds

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Provider exposes the current credentials.
type Provider interface {
	// Token returns the current auth token, or an error if none is stored.
	Token() (string, error)

	// Valid reports whether a token is present.
	Valid() bool
}

// FileProvider stores the token in a mode-0600 file under the pocketdo
// config directory.
type FileProvider struct {
	path string
}

// NewFileProvider creates a provider backed by the given token file path.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path}
}

// Token implements Provider.Token.
func (p *FileProvider) Token() (string, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("no credentials stored (run 'pocketdo login')")
		}
		return "", fmt.Errorf("failed to read token file: %w", err)
	}

	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("stored token is empty")
	}
	return token, nil
}

// Valid implements Provider.Valid.
func (p *FileProvider) Valid() bool {
	token, err := p.Token()
	return err == nil && token != ""
}

// Save writes the token to disk with owner-only permissions.
func (p *FileProvider) Save(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("token cannot be empty")
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0700); err != nil {
		return fmt.Errorf("failed to create credentials directory: %w", err)
	}
	if err := os.WriteFile(p.path, []byte(token+"\n"), 0600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}

// Clear removes the stored token. Clearing absent credentials is a no-op.
func (p *FileProvider) Clear() error {
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove token file: %w", err)
	}
	return nil
}
