package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWatcherReloads(t *testing.T) {
	t.Setenv("FETCHATTACH_TEST_SENDER", "usos@example.edu")
	dir := setupDir(t)
	store, err := Load(dir, discardLogger())
	if err != nil {
		t.Fatal(err)
	}

	w, err := Watch(store, discardLogger())
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer w.Stop()

	updated := strings.Replace(profileYAML, "notify_every: 5", "notify_every: 7", 1)
	if err := os.WriteFile(filepath.Join(dir, "usos.profile.yaml"), []byte(updated), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-w.ReloadChan():
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after profile change")
	}

	cfg, err := store.Get("usos")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Run.NotifyEvery != 7 {
		t.Errorf("NotifyEvery = %d, want 7", cfg.Run.NotifyEvery)
	}
}

func TestRelevant(t *testing.T) {
	tests := map[string]bool{
		"/cfg/usos.profile.yaml":          true,
		"/cfg/templates/base.yaml":        true,
		"/cfg/.env":                       true,
		"/cfg/.usos.profile.yaml.123.tmp": false,
		"/cfg/notes.txt":                  false,
	}
	for name, want := range tests {
		if got := relevant(name); got != want {
			t.Errorf("relevant(%q) = %v, want %v", name, got, want)
		}
	}
}
