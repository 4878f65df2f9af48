package plugin

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writePlugin(t *testing.T, base, dir, id string) {
	t.Helper()
	pluginDir := filepath.Join(base, dir)
	if err := os.MkdirAll(pluginDir, 0755); err != nil {
		t.Fatalf("failed to create plugin dir: %v", err)
	}
	manifest := fmt.Sprintf(`{"id": %q, "version": "1.0.0", "apiVersion": "1.0.0"}`, id)
	if err := os.WriteFile(filepath.Join(pluginDir, ManifestFile), []byte(manifest), 0644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}
}

func TestLoaderDiscover(t *testing.T) {
	base := t.TempDir()
	writePlugin(t, base, "outline", "tree-outline")
	writePlugin(t, base, "linter", "schema-linter")

	// A directory without a manifest is not a plugin.
	if err := os.MkdirAll(filepath.Join(base, "scratch"), 0755); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}

	l := NewLoader(WithPaths(base))
	plugins, err := l.Discover()
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if len(plugins) != 2 {
		t.Fatalf("Discover() found %d plugins, want 2", len(plugins))
	}
	// Sorted by id.
	if plugins[0].ID != "schema-linter" || plugins[1].ID != "tree-outline" {
		t.Errorf("Discover() order = [%s %s]", plugins[0].ID, plugins[1].ID)
	}
	if plugins[1].Manifest == nil || plugins[1].Manifest.ID != "tree-outline" {
		t.Errorf("Manifest = %+v", plugins[1].Manifest)
	}
}

func TestLoaderDiscoverMissingPath(t *testing.T) {
	l := NewLoader(WithPaths(filepath.Join(t.TempDir(), "does-not-exist")))
	plugins, err := l.Discover()
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if len(plugins) != 0 {
		t.Errorf("Discover() found %d plugins in a missing path", len(plugins))
	}
}

func TestLoaderDiscoverInvalidManifest(t *testing.T) {
	base := t.TempDir()
	writePlugin(t, base, "good", "good")

	badDir := filepath.Join(base, "bad")
	if err := os.MkdirAll(badDir, 0755); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(badDir, ManifestFile), []byte(`{"id": ""}`), 0644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}

	l := NewLoader(WithPaths(base))
	plugins, err := l.Discover()
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	// The broken directory is reported as a diagnostic, not dropped.
	if len(plugins) != 2 {
		t.Fatalf("Discover() found %d entries, want 2", len(plugins))
	}
	var bad *Info
	for _, p := range plugins {
		if p.ID == "bad" {
			bad = p
		}
	}
	if bad == nil {
		t.Fatal("invalid plugin missing from discovery")
	}
	if bad.Err == nil || !errors.Is(bad.Err, ErrInvalidManifest) {
		t.Errorf("Err = %v, want ErrInvalidManifest", bad.Err)
	}
	if bad.Manifest != nil {
		t.Error("invalid plugin has a manifest")
	}
}

func TestLoaderFirstPathWins(t *testing.T) {
	user := t.TempDir()
	system := t.TempDir()
	writePlugin(t, user, "outline", "tree-outline")
	writePlugin(t, system, "outline", "tree-outline")

	l := NewLoader(WithPaths(user, system))
	if _, err := l.Discover(); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}

	info, err := l.Find("tree-outline")
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if info.Path != filepath.Join(user, "outline") {
		t.Errorf("Path = %q, want the first search path's copy", info.Path)
	}
}

func TestLoaderFind(t *testing.T) {
	base := t.TempDir()
	l := NewLoader(WithPaths(base))

	if _, err := l.Find("tree-outline"); !errors.Is(err, ErrPluginNotFound) {
		t.Errorf("Find(absent) error = %v, want ErrPluginNotFound", err)
	}

	// Find re-discovers when the id is unknown.
	writePlugin(t, base, "outline", "tree-outline")
	info, err := l.Find("tree-outline")
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if info.ID != "tree-outline" {
		t.Errorf("ID = %q", info.ID)
	}
}

func TestLoaderRefresh(t *testing.T) {
	base := t.TempDir()
	l := NewLoader(WithPaths(base))

	plugins, err := l.Discover()
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if len(plugins) != 0 {
		t.Fatalf("Discover() found %d plugins, want 0", len(plugins))
	}

	writePlugin(t, base, "outline", "tree-outline")
	plugins, err = l.Refresh()
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if len(plugins) != 1 {
		t.Errorf("Refresh() found %d plugins, want 1", len(plugins))
	}
}

func TestLoaderWatch(t *testing.T) {
	base := t.TempDir()
	pluginDir := filepath.Join(base, "outline")
	if err := os.MkdirAll(pluginDir, 0755); err != nil {
		t.Fatalf("failed to create plugin dir: %v", err)
	}

	l := NewLoader(WithPaths(base))
	w, err := l.Watch()
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer w.Close()

	manifestPath := filepath.Join(pluginDir, ManifestFile)
	if err := os.WriteFile(manifestPath, []byte(`{"id": "tree-outline", "version": "1.0.0", "apiVersion": "1.0.0"}`), 0644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}

	select {
	case evt := <-w.Events():
		if evt.Path != manifestPath {
			t.Errorf("event path = %q, want %q", evt.Path, manifestPath)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no watch event for the new manifest")
	}
}

func TestDefaultPluginPaths(t *testing.T) {
	paths := DefaultPluginPaths()
	if len(paths) == 0 {
		t.Fatal("DefaultPluginPaths() is empty")
	}
	for _, p := range paths {
		if !filepath.IsAbs(p) {
			t.Errorf("path %q is not absolute", p)
		}
	}
}
