package store

import (
	"path/filepath"
	"sort"
	"testing"
)

func TestEnsureHasDelete(t *testing.T) {
	creds, err := NewCredentialStore(filepath.Join(t.TempDir(), "auth"))
	if err != nil {
		t.Fatalf("NewCredentialStore: %v", err)
	}

	if creds.Has("a") {
		t.Fatalf("fresh store must have no credentials")
	}

	dir, err := creds.Ensure("a")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if dir != creds.Path("a") {
		t.Fatalf("Ensure returned %q, want %q", dir, creds.Path("a"))
	}
	if !creds.Has("a") {
		t.Fatalf("credentials should exist after Ensure")
	}

	if err := creds.Delete("a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if creds.Has("a") {
		t.Fatalf("credentials should be gone after Delete")
	}
	if err := creds.Delete("a"); err != nil {
		t.Fatalf("deleting absent credentials must succeed, got %v", err)
	}
}

func TestListReturnsSavedIDs(t *testing.T) {
	creds, err := NewCredentialStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewCredentialStore: %v", err)
	}
	for _, id := range []string{"tenant-1", "tenant-2"} {
		if _, err := creds.Ensure(id); err != nil {
			t.Fatalf("Ensure %s: %v", id, err)
		}
	}

	ids, err := creds.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	sort.Strings(ids)
	if len(ids) != 2 || ids[0] != "tenant-1" || ids[1] != "tenant-2" {
		t.Fatalf("unexpected ids %v", ids)
	}
}

func TestInvalidIDsRejected(t *testing.T) {
	creds, err := NewCredentialStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewCredentialStore: %v", err)
	}

	for _, id := range []string{"", ".", "..", "a/b", `a\b`, "../escape"} {
		if ValidID(id) {
			t.Fatalf("id %q must be invalid", id)
		}
		if _, err := creds.Ensure(id); err == nil {
			t.Fatalf("Ensure must reject %q", id)
		}
		if err := creds.Delete(id); err == nil {
			t.Fatalf("Delete must reject %q", id)
		}
	}
}
