package registry

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(zap.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func mustCreateUser(t *testing.T, store *Store, username string) {
	t.Helper()
	err := store.CreateUser(User{Username: username, PasswordHash: "digest-" + username})
	if err != nil {
		t.Fatalf("CreateUser(%s): %v", username, err)
	}
}

func TestCreateUserConflict(t *testing.T) {
	store := newTestStore(t)
	mustCreateUser(t, store, "alice")

	err := store.CreateUser(User{Username: "alice", PasswordHash: "other"})
	if !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestConcurrentCreateUser(t *testing.T) {
	store := newTestStore(t)

	const workers = 16
	results := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- store.CreateUser(User{Username: "alice", PasswordHash: "digest"})
		}()
	}
	wg.Wait()
	close(results)

	created, conflicts := 0, 0
	for err := range results {
		switch {
		case err == nil:
			created++
		case errors.Is(err, ErrUserExists):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if created != 1 {
		t.Errorf("expected exactly one successful create, got %d", created)
	}
	if conflicts != workers-1 {
		t.Errorf("expected %d conflicts, got %d", workers-1, conflicts)
	}
}

func TestAuthenticate(t *testing.T) {
	store := newTestStore(t)
	mustCreateUser(t, store, "alice")

	ok, err := store.Authenticate("alice", "digest-alice")
	if err != nil || !ok {
		t.Errorf("correct digest: got (%v, %v), want (true, nil)", ok, err)
	}
	ok, err = store.Authenticate("alice", "wrong")
	if err != nil || ok {
		t.Errorf("wrong digest: got (%v, %v), want (false, nil)", ok, err)
	}
	ok, err = store.Authenticate("nobody", "anything")
	if err != nil || ok {
		t.Errorf("missing user: got (%v, %v), want (false, nil)", ok, err)
	}
}

func TestResolveRecentIsLastAppended(t *testing.T) {
	store := newTestStore(t)
	mustCreateUser(t, store, "alice")

	first := []byte("first contents")
	second := []byte("second contents")
	if err := store.AddPackageVersion("alice", "pkg", "1.0", first); err != nil {
		t.Fatalf("AddPackageVersion 1.0: %v", err)
	}
	if err := store.AddPackageVersion("alice", "pkg", "2.0", second); err != nil {
		t.Fatalf("AddPackageVersion 2.0: %v", err)
	}

	v, err := store.ResolveVersion("pkg", "RECENT")
	if err != nil {
		t.Fatalf("ResolveVersion RECENT: %v", err)
	}
	if v.Label != "2.0" {
		t.Errorf("RECENT resolved to %q, want 2.0", v.Label)
	}
	if !bytes.Equal(v.Content, second) {
		t.Error("RECENT content mismatch")
	}
	if v.Owner != "alice" {
		t.Errorf("owner %q, want alice", v.Owner)
	}

	v, err = store.ResolveVersion("pkg", "1.0")
	if err != nil {
		t.Fatalf("ResolveVersion 1.0: %v", err)
	}
	if !bytes.Equal(v.Content, first) {
		t.Error("exact label content mismatch")
	}
}

func TestResolveVersionNotFound(t *testing.T) {
	store := newTestStore(t)
	mustCreateUser(t, store, "alice")
	if err := store.AddPackageVersion("alice", "pkg", "1.0", []byte("x")); err != nil {
		t.Fatalf("AddPackageVersion: %v", err)
	}

	if _, err := store.ResolveVersion("pkg", "9.9"); !errors.Is(err, ErrVersionNotFound) {
		t.Errorf("expected ErrVersionNotFound, got %v", err)
	}
	if _, err := store.ResolveVersion("missing", "1.0"); !errors.Is(err, ErrPackageNotFound) {
		t.Errorf("expected ErrPackageNotFound, got %v", err)
	}
}

func TestAddPackageVersionOwnerMissing(t *testing.T) {
	store := newTestStore(t)
	err := store.AddPackageVersion("ghost", "pkg", "1.0", []byte("x"))
	if !errors.Is(err, ErrOwnerMissing) {
		t.Fatalf("expected ErrOwnerMissing, got %v", err)
	}
}

func TestAddPackageVersionDuplicateLabel(t *testing.T) {
	store := newTestStore(t)
	mustCreateUser(t, store, "alice")
	if err := store.AddPackageVersion("alice", "pkg", "1.0", []byte("x")); err != nil {
		t.Fatalf("AddPackageVersion: %v", err)
	}
	err := store.AddPackageVersion("alice", "pkg", "1.0", []byte("y"))
	if !errors.Is(err, ErrVersionExists) {
		t.Fatalf("expected ErrVersionExists, got %v", err)
	}
}

func TestExistenceProbes(t *testing.T) {
	store := newTestStore(t)
	mustCreateUser(t, store, "alice")
	if err := store.AddPackageVersion("alice", "pkg", "1.0", []byte("x")); err != nil {
		t.Fatalf("AddPackageVersion: %v", err)
	}

	for _, tc := range []struct {
		pkg, label string
		want       bool
	}{
		{"pkg", "1.0", true},
		{"pkg", "2.0", false},
		{"missing", "1.0", false},
	} {
		got, err := store.VersionExists(tc.pkg, tc.label)
		if err != nil {
			t.Fatalf("VersionExists(%s, %s): %v", tc.pkg, tc.label, err)
		}
		if got != tc.want {
			t.Errorf("VersionExists(%s, %s) = %v, want %v", tc.pkg, tc.label, got, tc.want)
		}
	}

	if exists, _ := store.PackageExists("pkg"); !exists {
		t.Error("PackageExists(pkg) = false, want true")
	}
	if exists, _ := store.PackageExists("missing"); exists {
		t.Error("PackageExists(missing) = true, want false")
	}
	if exists, _ := store.UserExists("alice"); !exists {
		t.Error("UserExists(alice) = false, want true")
	}
	if exists, _ := store.UserExists("bob"); exists {
		t.Error("UserExists(bob) = true, want false")
	}
}

func TestDescribeUser(t *testing.T) {
	store := newTestStore(t)
	err := store.CreateUser(User{
		Username:     "alice",
		PasswordHash: "digest",
		Email:        "alice@example.com",
		Description:  "builds things",
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	for _, pkg := range []string{"zeta", "alpha"} {
		if err := store.AddPackageVersion("alice", pkg, "1.0", []byte("x")); err != nil {
			t.Fatalf("AddPackageVersion(%s): %v", pkg, err)
		}
	}
	// A second version of an existing package must not repeat its name.
	if err := store.AddPackageVersion("alice", "zeta", "2.0", []byte("y")); err != nil {
		t.Fatalf("AddPackageVersion(zeta 2.0): %v", err)
	}

	profile, err := store.DescribeUser("alice")
	if err != nil {
		t.Fatalf("DescribeUser: %v", err)
	}
	for _, want := range []string{"Username: alice", "Email: alice@example.com", "Description: builds things"} {
		if !strings.Contains(profile, want) {
			t.Errorf("profile missing %q:\n%s", want, profile)
		}
	}
	if !strings.Contains(profile, "Packages: zeta, alpha") {
		t.Errorf("packages not in first-upload order without duplicates:\n%s", profile)
	}
	if strings.Contains(profile, "digest") {
		t.Error("profile leaks the password hash")
	}

	if _, err := store.DescribeUser("nobody"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}

func TestDeleteUserCascades(t *testing.T) {
	store := newTestStore(t)
	mustCreateUser(t, store, "alice")
	if err := store.AddPackageVersion("alice", "pkg", "1.0", []byte("x")); err != nil {
		t.Fatalf("AddPackageVersion: %v", err)
	}

	if err := store.DeleteUser("alice"); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if exists, _ := store.UserExists("alice"); exists {
		t.Error("user survived deletion")
	}
	if _, err := store.ResolveVersion("pkg", "1.0"); !errors.Is(err, ErrPackageNotFound) {
		t.Errorf("expected cascade to remove the package, got %v", err)
	}

	if err := store.DeleteUser("alice"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound on repeat delete, got %v", err)
	}
}

func TestListAndGetPackages(t *testing.T) {
	store := newTestStore(t)
	mustCreateUser(t, store, "alice")
	if err := store.AddPackageVersion("alice", "tool", "1.0", []byte("one")); err != nil {
		t.Fatalf("AddPackageVersion: %v", err)
	}
	if err := store.AddPackageVersion("alice", "tool", "2.0", []byte("two")); err != nil {
		t.Fatalf("AddPackageVersion: %v", err)
	}

	packages, err := store.ListPackages()
	if err != nil {
		t.Fatalf("ListPackages: %v", err)
	}
	if len(packages) != 1 {
		t.Fatalf("expected 1 package, got %d", len(packages))
	}
	if packages[0].Name != "tool" || packages[0].Owner != "alice" {
		t.Errorf("unexpected package summary: %+v", packages[0])
	}
	if len(packages[0].Versions) != 2 || packages[0].Versions[0].Label != "2.0" {
		t.Errorf("expected versions most recent first, got %+v", packages[0].Versions)
	}
	if packages[0].Versions[0].Size != int64(len("two")) {
		t.Errorf("version size %d, want %d", packages[0].Versions[0].Size, len("two"))
	}

	info, err := store.GetPackage("tool")
	if err != nil {
		t.Fatalf("GetPackage: %v", err)
	}
	if info.Name != "tool" || len(info.Versions) != 2 {
		t.Errorf("unexpected package info: %+v", info)
	}

	if _, err := store.GetPackage("missing"); !errors.Is(err, ErrPackageNotFound) {
		t.Errorf("expected ErrPackageNotFound, got %v", err)
	}
}

func TestMutationsAreLogged(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	store, err := Open(zap.New(core))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	mustCreateUser(t, store, "alice")
	if err := store.AddPackageVersion("alice", "tool", "1.0", []byte("content")); err != nil {
		t.Fatalf("AddPackageVersion: %v", err)
	}
	if err := store.DeleteUser("alice"); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}

	for _, want := range []string{"user registered", "version stored", "user deleted"} {
		if observed.FilterMessage(want).Len() != 1 {
			t.Errorf("expected one %q entry, got %d", want, observed.FilterMessage(want).Len())
		}
	}
	if entries := observed.FilterMessage("user deleted").All(); len(entries) == 1 {
		if got := entries[0].ContextMap()["username"]; got != "alice" {
			t.Errorf("user deleted logged username %v, want alice", got)
		}
	}
}
