package registry

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// WASMHostConfig configures the wazero runtime a WASMProvider runs under.
type WASMHostConfig struct {
	Timeout          time.Duration
	MemoryLimitPages uint32
	TempDir          string
}

func (c *WASMHostConfig) withDefaults() *WASMHostConfig {
	if c == nil {
		c = &WASMHostConfig{}
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MemoryLimitPages == 0 {
		c.MemoryLimitPages = 256 // 16MB
	}
	if c.TempDir == "" {
		c.TempDir = os.TempDir()
	}
	return c
}

// WASMProvider is a Provider backed by a wazero-hosted WASM module,
// sandboxed to the capabilities its manifest declares.
type WASMProvider struct {
	manifest *WASMManifest
	runtime  wazero.Runtime
	module   api.Module
	bridge   *wasmBridge
	enforcer *capabilityEnforcer
	cached   *ProviderManifest
}

// NewWASMProvider loads manifestPath, verifies its WASM module's checksum
// if one is declared, and instantiates it inside a wazero runtime with
// host functions gated to the manifest's granted capabilities.
func NewWASMProvider(ctx context.Context, manifestPath string, cfg *WASMHostConfig) (*WASMProvider, error) {
	cfg = cfg.withDefaults()

	loader := NewManifestLoader(cfg.TempDir)
	manifest, err := loader.LoadFromFile(manifestPath)
	if err != nil {
		return nil, err
	}

	wasmModule, err := os.ReadFile(manifest.WasmPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read wasm module: %w", err)
	}
	if manifest.Checksum != "" {
		if err := manifest.VerifyChecksum(wasmModule); err != nil {
			return nil, err
		}
	}

	return newWASMProviderFromBytes(ctx, manifest, wasmModule, cfg)
}

func newWASMProviderFromBytes(ctx context.Context, manifest *WASMManifest, wasmModule []byte, cfg *WASMHostConfig) (*WASMProvider, error) {
	capabilities := declaredCapabilities(manifest)
	enforcer := newCapabilityEnforcer(capabilities, cfg.TempDir)

	runtimeConfig := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(cfg.MemoryLimitPages).
		WithCloseOnContextDone(true)
	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeConfig)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	builder := runtime.NewHostModuleBuilder("env")
	registerHostFunctions(builder, enforcer)
	if _, err := builder.Instantiate(ctx); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate host module: %w", err)
	}

	module, err := runtime.Instantiate(ctx, wasmModule)
	if err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate wasm module: %w", err)
	}

	bridge, err := newWASMBridge(module, cfg.Timeout)
	if err != nil {
		module.Close(ctx)
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to create wasm bridge: %w", err)
	}

	return &WASMProvider{
		manifest: manifest,
		runtime:  runtime,
		module:   module,
		bridge:   bridge,
		enforcer: enforcer,
	}, nil
}

func declaredCapabilities(m *WASMManifest) []string {
	seen := make(map[string]bool)
	for _, a := range m.Actions {
		for _, p := range a.PermissionRequired {
			seen[p] = true
		}
	}
	caps := make([]string, 0, len(seen))
	for c := range seen {
		caps = append(caps, c)
	}
	return caps
}

// registerHostFunctions wires the net/fs/secrets host functions a WASM
// module may import, each gated by enforcer.
func registerHostFunctions(builder wazero.HostModuleBuilder, enforcer *capabilityEnforcer) {
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, urlPtr, urlLen, methodPtr, methodLen uint32) uint64 {
			urlBytes, ok := mod.Memory().Read(urlPtr, urlLen)
			if !ok {
				return packWASMError("failed to read url from memory")
			}
			methodBytes, ok := mod.Memory().Read(methodPtr, methodLen)
			if !ok {
				return packWASMError("failed to read method from memory")
			}

			resp, err := enforcer.httpRequest(ctx, string(methodBytes), string(urlBytes), nil)
			if err != nil {
				return packWASMError(err.Error())
			}
			defer resp.Body.Close()
			return uint64(resp.StatusCode)
		}).
		Export("http_request")

	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, namePtr, nameLen, dataPtr, dataLen uint32) uint32 {
			nameBytes, ok := mod.Memory().Read(namePtr, nameLen)
			if !ok {
				return 1
			}
			dataBytes, ok := mod.Memory().Read(dataPtr, dataLen)
			if !ok {
				return 1
			}
			if err := enforcer.writeTempFile(string(nameBytes), dataBytes); err != nil {
				return 1
			}
			return 0
		}).
		Export("write_temp_file")

	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, encryptedPtr, encryptedLen uint32) uint64 {
			encBytes, ok := mod.Memory().Read(encryptedPtr, encryptedLen)
			if !ok {
				return packWASMError("failed to read secret from memory")
			}
			decrypted, err := enforcer.decryptSecret(string(encBytes))
			if err != nil {
				return packWASMError(err.Error())
			}
			return uint64(len(decrypted))
		}).
		Export("decrypt_secret")
}

// packWASMError packs an error signal (bit 32 set, so the pointer half is
// 1) plus the message length into the return convention's uint64.
func packWASMError(msg string) uint64 {
	return (uint64(1) << 32) | uint64(len(msg))
}

// Execute dispatches actionName through the WASM bridge.
func (p *WASMProvider) Execute(ctx context.Context, actionName string, params map[string]interface{}, execCtx ExecutionContext) (interface{}, error) {
	manifest := p.GetManifest()
	if action, ok := manifest.ActionByName(actionName); ok {
		if err := p.enforcer.validate(action.PermissionRequired); err != nil {
			return nil, fmt.Errorf("capability check failed for %s: %w", actionName, err)
		}
	}
	return p.bridge.Execute(ctx, actionName, params, execCtx)
}

// GetManifest returns the manifest loaded from disk, not a live WASM call,
// since the manifest YAML is already the authoritative source of truth and
// re-querying the module on every call would be wasted round-trips.
func (p *WASMProvider) GetManifest() ProviderManifest {
	if p.cached != nil {
		return *p.cached
	}
	m := p.manifest.ProviderManifest
	p.cached = &m
	return m
}

// GetContextSnippet asks the module for its prompt-context snippet.
func (p *WASMProvider) GetContextSnippet() string {
	snippet, err := p.bridge.GetContextSnippet(context.Background())
	if err != nil {
		return ""
	}
	return snippet
}

// Close tears down the WASM module, runtime, and any temp files the
// enforcer wrote.
func (p *WASMProvider) Close(ctx context.Context) error {
	_ = p.enforcer.cleanup()

	var firstErr error
	if p.module != nil {
		if err := p.module.Close(ctx); err != nil {
			firstErr = fmt.Errorf("failed to close wasm module: %w", err)
		}
	}
	if p.runtime != nil {
		if err := p.runtime.Close(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close wasm runtime: %w", err)
		}
	}
	return firstErr
}
