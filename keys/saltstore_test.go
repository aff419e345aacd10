package keys

import (
	"bytes"
	"errors"
	"testing"

	"quenyan.dev/qyn1/envelope"
)

func testStore(t *testing.T) *SaltStore {
	t.Helper()
	store, err := OpenSaltStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenSaltStore: %v", err)
	}
	return store
}

func TestInstallSaltStable(t *testing.T) {
	store := testStore(t)
	a, err := store.InstallSalt()
	if err != nil {
		t.Fatalf("InstallSalt: %v", err)
	}
	if len(a) < envelope.MinSaltSize {
		t.Fatalf("install salt too short: %d", len(a))
	}
	b, err := store.InstallSalt()
	if err != nil {
		t.Fatalf("InstallSalt (second read): %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatal("install salt changed between reads")
	}
}

func TestRotationGenerations(t *testing.T) {
	store := testStore(t)

	if _, err := store.State("proj-a"); !errors.Is(err, ErrNoProject) {
		t.Fatalf("State before rotate: %v, want ErrNoProject", err)
	}

	first, err := store.Rotate("proj-a")
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if first.Generation != 1 || len(first.ProjectSalt) != ProjectSaltSize {
		t.Fatalf("first rotation = %+v", first)
	}
	if first.PreviousSalt != nil {
		t.Fatal("first rotation has a previous salt")
	}

	second, err := store.Rotate("proj-a")
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if second.Generation != 2 || second.PreviousGeneration != 1 {
		t.Fatalf("second rotation = %+v", second)
	}
	if !bytes.Equal(second.PreviousSalt, first.ProjectSalt) {
		t.Fatal("previous salt not retained across rotation")
	}
	if bytes.Equal(second.ProjectSalt, first.ProjectSalt) {
		t.Fatal("rotation reused the salt")
	}

	state, err := store.State("proj-a")
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if state.Generation != 2 || !bytes.Equal(state.ProjectSalt, second.ProjectSalt) {
		t.Fatalf("persisted state = %+v", state)
	}
}

func TestAuditTrail(t *testing.T) {
	store := testStore(t)
	for i := 0; i < 3; i++ {
		if _, err := store.Rotate("proj-a"); err != nil {
			t.Fatalf("Rotate %d: %v", i, err)
		}
	}
	events, err := store.Audit("proj-a")
	if err != nil {
		t.Fatalf("Audit: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("audit events = %d, want 3", len(events))
	}
	seen := map[string]bool{}
	for i, e := range events {
		if e.Generation != uint32(i+1) || e.Action != "rotate" || e.ProjectID != "proj-a" {
			t.Fatalf("event %d = %+v", i, e)
		}
		if e.ID == "" || seen[e.ID] {
			t.Fatalf("event %d has missing or duplicate id %q", i, e.ID)
		}
		seen[e.ID] = true
	}
}

func TestProjectsListing(t *testing.T) {
	store := testStore(t)
	for _, id := range []string{"zeta", "alpha"} {
		if _, err := store.Rotate(id); err != nil {
			t.Fatalf("Rotate(%s): %v", id, err)
		}
	}
	ids, err := store.Projects()
	if err != nil {
		t.Fatalf("Projects: %v", err)
	}
	if len(ids) != 2 || ids[0] != "alpha" || ids[1] != "zeta" {
		t.Fatalf("projects = %v", ids)
	}
}

func TestKeychainAssembly(t *testing.T) {
	store := testStore(t)
	if _, err := store.Rotate("proj-a"); err != nil {
		t.Fatal(err)
	}
	kc, err := store.Keychain("proj-a", []byte("passphrase"))
	if err != nil {
		t.Fatalf("Keychain: %v", err)
	}
	if kc.ProjectID != "proj-a" || kc.ProjectSaltGeneration != 1 {
		t.Fatalf("keychain = %+v", kc)
	}
	if len(kc.InstallSalt) < envelope.MinSaltSize || len(kc.ProjectSalt) != ProjectSaltSize {
		t.Fatalf("keychain salts: install=%d project=%d", len(kc.InstallSalt), len(kc.ProjectSalt))
	}
}

func TestCheckProjectID(t *testing.T) {
	for _, ok := range []string{"proj-a", "Proj_1", "x"} {
		if err := CheckProjectID(ok); err != nil {
			t.Errorf("CheckProjectID(%q) = %v", ok, err)
		}
	}
	for _, bad := range []string{"", "a/b", "a b", "../x"} {
		if err := CheckProjectID(bad); err == nil {
			t.Errorf("CheckProjectID(%q) accepted", bad)
		}
	}
}
