package registry

import (
	"os"
	"path/filepath"
	"testing"
)

const testManifestYAML = `
module_id: test-provider
version: "1.0.0"
description: a test provider
entrypoint: provider.wasm
actions:
  - name: do_thing
    description: does a thing
    permission_required:
      - net:outbound
`

func writeTestManifest(t *testing.T, dir string) string {
	t.Helper()
	manifestPath := filepath.Join(dir, "manifest.yaml")
	if err := os.WriteFile(manifestPath, []byte(testManifestYAML), 0o644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "provider.wasm"), []byte("fake wasm bytes"), 0o644); err != nil {
		t.Fatalf("failed to write fake wasm module: %v", err)
	}
	return manifestPath
}

func TestManifestLoader_LoadFromFile(t *testing.T) {
	dir := t.TempDir()
	manifestPath := writeTestManifest(t, dir)

	loader := NewManifestLoader(dir)
	m, err := loader.LoadFromFile(manifestPath)
	if err != nil {
		t.Fatalf("failed to load manifest: %v", err)
	}

	if m.ModuleID != "test-provider" {
		t.Errorf("expected module_id 'test-provider', got %q", m.ModuleID)
	}
	if len(m.Actions) != 1 || m.Actions[0].Name != "do_thing" {
		t.Errorf("expected one action 'do_thing', got %v", m.Actions)
	}
	if m.WasmPath != filepath.Join(dir, "provider.wasm") {
		t.Errorf("expected resolved wasm path, got %q", m.WasmPath)
	}
}

func TestManifestLoader_MissingWasmFile(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "manifest.yaml")
	content := `
module_id: test-provider
version: "1.0.0"
entrypoint: missing.wasm
actions:
  - name: do_thing
    description: does a thing
`
	if err := os.WriteFile(manifestPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}

	loader := NewManifestLoader(dir)
	if _, err := loader.LoadFromFile(manifestPath); err == nil {
		t.Error("expected error for missing wasm module")
	}
}

func TestManifestLoader_ValidationErrors(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "manifest.yaml")
	content := `
module_id: ""
version: "1.0.0"
entrypoint: provider.wasm
actions: []
`
	if err := os.WriteFile(manifestPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}

	loader := NewManifestLoader(dir)
	if _, err := loader.LoadFromFile(manifestPath); err == nil {
		t.Error("expected validation error for empty module_id and no actions")
	}
}

func TestWASMManifest_VerifyChecksum(t *testing.T) {
	m := &WASMManifest{Checksum: "deadbeef"}
	if err := m.VerifyChecksum([]byte("some bytes")); err == nil {
		t.Error("expected checksum mismatch to fail")
	}
	if m.Verified {
		t.Error("expected Verified to remain false on mismatch")
	}

	// sha256("abc") = ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad
	m2 := &WASMManifest{Checksum: "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"}
	if err := m2.VerifyChecksum([]byte("abc")); err != nil {
		t.Errorf("expected matching checksum to verify, got %v", err)
	}
	if !m2.Verified {
		t.Error("expected Verified to be true on match")
	}
}
