package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// WASMManifest is a provider manifest loaded from disk for a WASM-hosted
// module: the uniform ProviderManifest plus the on-disk location and
// integrity metadata of its compiled module.
type WASMManifest struct {
	ProviderManifest `yaml:",inline"`

	Checksum string `yaml:"checksum,omitempty"`
	Entrypoint string `yaml:"entrypoint"`

	// Path is the manifest file's own location, used to resolve Entrypoint
	// when it's a relative path.
	Path string `yaml:"-"`

	// WasmPath is the resolved absolute/relative path to the compiled
	// .wasm module.
	WasmPath string `yaml:"-"`

	// Verified reports whether WasmPath's contents were checked against
	// Checksum.
	Verified bool `yaml:"-"`
}

// ManifestLoader reads WASMManifest files off disk, resolving relative
// entrypoints against either the manifest's own directory or a configured
// base directory.
type ManifestLoader struct {
	BaseDir string
}

// NewManifestLoader creates a loader resolving relative entrypoints under baseDir.
func NewManifestLoader(baseDir string) *ManifestLoader {
	return &ManifestLoader{BaseDir: baseDir}
}

// LoadFromFile reads and validates a manifest YAML file, resolving and
// checking for the existence of its WASM entrypoint.
func (l *ManifestLoader) LoadFromFile(path string) (*WASMManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}

	var m WASMManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	m.Path = path

	if err := validateManifest(&m); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", path, err)
	}

	if err := l.resolveWasmPath(&m); err != nil {
		return nil, err
	}

	return &m, nil
}

func validateManifest(m *WASMManifest) error {
	if m.ModuleID == "" {
		return fmt.Errorf("module_id is required")
	}
	if m.Version == "" {
		return fmt.Errorf("version is required")
	}
	if m.Entrypoint == "" {
		return fmt.Errorf("entrypoint is required")
	}
	if len(m.Actions) == 0 {
		return fmt.Errorf("at least one action is required")
	}
	for i, a := range m.Actions {
		if a.Name == "" {
			return fmt.Errorf("action %d: name is required", i)
		}
	}
	return nil
}

func (l *ManifestLoader) resolveWasmPath(m *WASMManifest) error {
	if filepath.IsAbs(m.Entrypoint) {
		m.WasmPath = m.Entrypoint
	} else if m.Path != "" {
		m.WasmPath = filepath.Join(filepath.Dir(m.Path), m.Entrypoint)
	} else {
		m.WasmPath = filepath.Join(l.BaseDir, m.Entrypoint)
	}

	if _, err := os.Stat(m.WasmPath); err != nil {
		return fmt.Errorf("wasm module not found at %s: %w", m.WasmPath, err)
	}
	return nil
}

// VerifyChecksum checks wasmModule's sha256 against m.Checksum, setting
// m.Verified on success.
func (m *WASMManifest) VerifyChecksum(wasmModule []byte) error {
	if m.Checksum == "" {
		return fmt.Errorf("manifest carries no checksum to verify against")
	}
	sum := sha256.Sum256(wasmModule)
	computed := hex.EncodeToString(sum[:])
	if computed != m.Checksum {
		return fmt.Errorf("wasm module checksum mismatch: expected %s, got %s", m.Checksum, computed)
	}
	m.Verified = true
	return nil
}
