package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidSessionID rejects ids that could escape the credential root.
var ErrInvalidSessionID = errors.New("invalid session id")

// CredentialStore keeps one directory of durable pairing material per
// session id. Directories survive process restarts and transient connection
// failures; they are removed only on explicit logout.
type CredentialStore struct {
	root string
}

// NewCredentialStore creates the credential root if needed.
func NewCredentialStore(root string) (*CredentialStore, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("create credential root %q: %w", root, err)
	}
	return &CredentialStore{root: root}, nil
}

// ValidID reports whether id is usable as a credential directory name.
func ValidID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, `/\`)
}

// Path returns the credential directory for id without creating it.
func (c *CredentialStore) Path(id string) string {
	return filepath.Join(c.root, id)
}

// Ensure creates the credential directory for id if absent and returns it.
func (c *CredentialStore) Ensure(id string) (string, error) {
	if !ValidID(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSessionID, id)
	}
	dir := c.Path(id)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create credential dir for %q: %w", id, err)
	}
	return dir, nil
}

// Has reports whether saved credentials exist for id.
func (c *CredentialStore) Has(id string) bool {
	if !ValidID(id) {
		return false
	}
	info, err := os.Stat(c.Path(id))
	return err == nil && info.IsDir()
}

// Delete destroys the credential material for id. Deleting an absent id is
// not an error.
func (c *CredentialStore) Delete(id string) error {
	if !ValidID(id) {
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, id)
	}
	if err := os.RemoveAll(c.Path(id)); err != nil {
		return fmt.Errorf("delete credentials for %q: %w", id, err)
	}
	return nil
}

// List returns the ids that have saved credentials, for restore at startup.
func (c *CredentialStore) List() ([]string, error) {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return nil, fmt.Errorf("list credential root: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}
	return ids, nil
}
