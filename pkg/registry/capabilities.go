package registry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Capability names a WASM provider may declare in its manifest and request
// at runtime. The host only grants what ValidateCapabilities allowed.
const (
	CapabilityNetOutbound = "net:outbound"
	CapabilityFSTemp      = "fs:temp"
	CapabilitySecretsRead = "secrets:read"
)

// capabilityEnforcer gates a WASM-hosted provider's host-function calls to
// the capabilities its manifest declared, isolating a misbehaving or
// compromised module from capabilities it never asked for.
type capabilityEnforcer struct {
	granted  map[string]bool
	client   *http.Client
	tempDir  string
	decrypt  func(string) (string, error)
}

func newCapabilityEnforcer(capabilities []string, tempDir string) *capabilityEnforcer {
	e := &capabilityEnforcer{
		granted: make(map[string]bool, len(capabilities)),
		client:  &http.Client{Timeout: 30 * time.Second},
		tempDir: tempDir,
	}
	for _, c := range capabilities {
		e.granted[c] = true
	}
	return e
}

func (e *capabilityEnforcer) setSecretsDecryptor(fn func(string) (string, error)) {
	e.decrypt = fn
}

func (e *capabilityEnforcer) has(capability string) bool { return e.granted[capability] }

// validate reports an error naming every requested capability the manifest
// did not declare as granted.
func (e *capabilityEnforcer) validate(requested []string) error {
	var missing []string
	for _, c := range requested {
		if !e.granted[c] {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required capabilities: %v", missing)
	}
	return nil
}

func (e *capabilityEnforcer) httpRequest(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	if !e.has(CapabilityNetOutbound) {
		return nil, fmt.Errorf("capability %s not granted", CapabilityNetOutbound)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	return e.client.Do(req)
}

func (e *capabilityEnforcer) resolveTempPath(name string) (string, error) {
	path := filepath.Join(e.tempDir, name)
	if !strings.HasPrefix(filepath.Clean(path), filepath.Clean(e.tempDir)) {
		return "", fmt.Errorf("invalid file path: path traversal detected")
	}
	return path, nil
}

func (e *capabilityEnforcer) writeTempFile(name string, data []byte) error {
	if !e.has(CapabilityFSTemp) {
		return fmt.Errorf("capability %s not granted", CapabilityFSTemp)
	}
	if err := os.MkdirAll(e.tempDir, 0o750); err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}
	path, err := e.resolveTempPath(name)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func (e *capabilityEnforcer) readTempFile(name string) ([]byte, error) {
	if !e.has(CapabilityFSTemp) {
		return nil, fmt.Errorf("capability %s not granted", CapabilityFSTemp)
	}
	path, err := e.resolveTempPath(name)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

func (e *capabilityEnforcer) deleteTempFile(name string) error {
	if !e.has(CapabilityFSTemp) {
		return fmt.Errorf("capability %s not granted", CapabilityFSTemp)
	}
	path, err := e.resolveTempPath(name)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

func (e *capabilityEnforcer) listTempFiles() ([]string, error) {
	if !e.has(CapabilityFSTemp) {
		return nil, fmt.Errorf("capability %s not granted", CapabilityFSTemp)
	}
	entries, err := os.ReadDir(e.tempDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list temp files: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			files = append(files, entry.Name())
		}
	}
	return files, nil
}

func (e *capabilityEnforcer) decryptSecret(encrypted string) (string, error) {
	if !e.has(CapabilitySecretsRead) {
		return "", fmt.Errorf("capability %s not granted", CapabilitySecretsRead)
	}
	if e.decrypt == nil {
		return "", fmt.Errorf("no secrets decryptor configured")
	}
	return e.decrypt(encrypted)
}

// cleanup removes every file this enforcer wrote under its temp dir.
func (e *capabilityEnforcer) cleanup() error {
	files, err := e.listTempFiles()
	if err != nil {
		return nil
	}
	var firstErr error
	for _, name := range files {
		if err := e.deleteTempFile(name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
