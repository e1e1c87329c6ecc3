package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tetratelabs/wazero/api"
)

// wasmBridge marshals Go calls onto a WASM module's exported functions
// using a JSON-in/packed-pointer-out calling convention: every exported
// function takes (input_ptr, input_len) and returns a packed uint64 of
// (output_ptr << 32 | output_len), with malloc/free exported by the module
// itself for the host to manage buffers.
type wasmBridge struct {
	module api.Module
	memory api.Memory
	malloc api.Function
	free   api.Function

	execute            api.Function
	getManifest        api.Function
	getContextSnippet  api.Function

	timeout time.Duration
}

func newWASMBridge(module api.Module, timeout time.Duration) (*wasmBridge, error) {
	b := &wasmBridge{module: module, timeout: timeout}

	b.memory = module.Memory()
	if b.memory == nil {
		return nil, fmt.Errorf("wasm module does not export memory")
	}

	b.malloc = module.ExportedFunction("malloc")
	if b.malloc == nil {
		return nil, fmt.Errorf("wasm module does not export malloc")
	}
	b.free = module.ExportedFunction("free")
	if b.free == nil {
		return nil, fmt.Errorf("wasm module does not export free")
	}

	b.execute = module.ExportedFunction("execute")
	if b.execute == nil {
		return nil, fmt.Errorf("wasm module does not export execute")
	}
	b.getManifest = module.ExportedFunction("get_manifest")
	if b.getManifest == nil {
		return nil, fmt.Errorf("wasm module does not export get_manifest")
	}
	b.getContextSnippet = module.ExportedFunction("get_context_snippet")
	if b.getContextSnippet == nil {
		return nil, fmt.Errorf("wasm module does not export get_context_snippet")
	}

	return b, nil
}

type wasmExecuteRequest struct {
	ActionName string                 `json:"action_name"`
	Params     map[string]interface{} `json:"params"`
	ExecCtx    ExecutionContext       `json:"exec_context"`
}

type wasmExecuteResponse struct {
	Result interface{} `json:"result"`
	Error  string      `json:"error,omitempty"`
}

// Execute calls the module's execute export with the action dispatch.
func (b *wasmBridge) Execute(ctx context.Context, actionName string, params map[string]interface{}, execCtx ExecutionContext) (interface{}, error) {
	req := wasmExecuteRequest{ActionName: actionName, Params: params, ExecCtx: execCtx}
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal execute request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	outJSON, err := b.call(ctx, b.execute, reqJSON)
	if err != nil {
		return nil, fmt.Errorf("execute failed: %w", err)
	}

	var resp wasmExecuteResponse
	if err := json.Unmarshal(outJSON, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execute response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("provider error: %s", resp.Error)
	}
	return resp.Result, nil
}

// GetManifest calls the module's get_manifest export.
func (b *wasmBridge) GetManifest(ctx context.Context) (*ProviderManifest, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	outJSON, err := b.call(ctx, b.getManifest, nil)
	if err != nil {
		return nil, fmt.Errorf("get_manifest failed: %w", err)
	}

	var m ProviderManifest
	if err := json.Unmarshal(outJSON, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal manifest: %w", err)
	}
	return &m, nil
}

// GetContextSnippet calls the module's get_context_snippet export.
func (b *wasmBridge) GetContextSnippet(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	outJSON, err := b.call(ctx, b.getContextSnippet, nil)
	if err != nil {
		return "", fmt.Errorf("get_context_snippet failed: %w", err)
	}

	var snippet struct {
		Snippet string `json:"snippet"`
	}
	if err := json.Unmarshal(outJSON, &snippet); err != nil {
		return "", fmt.Errorf("failed to unmarshal context snippet: %w", err)
	}
	return snippet.Snippet, nil
}

func (b *wasmBridge) call(ctx context.Context, fn api.Function, input []byte) ([]byte, error) {
	var inputPtr, inputLen uint32
	if len(input) > 0 {
		ptr, err := b.allocate(ctx, uint32(len(input)))
		if err != nil {
			return nil, fmt.Errorf("failed to allocate wasm memory: %w", err)
		}
		defer b.deallocate(ctx, ptr)

		inputPtr, inputLen = ptr, uint32(len(input))
		if !b.memory.Write(inputPtr, input) {
			return nil, fmt.Errorf("failed to write input to wasm memory")
		}
	}

	results, err := fn.Call(ctx, uint64(inputPtr), uint64(inputLen))
	if err != nil {
		return nil, fmt.Errorf("wasm call failed: %w", err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("wasm function returned no results")
	}

	packed := results[0]
	outputPtr := uint32(packed >> 32)
	outputLen := uint32(packed & 0xFFFFFFFF)
	if outputLen == 0 {
		return []byte("{}"), nil
	}

	output, ok := b.memory.Read(outputPtr, outputLen)
	if !ok {
		return nil, fmt.Errorf("failed to read output from wasm memory")
	}
	out := make([]byte, len(output))
	copy(out, output)
	_ = b.deallocate(ctx, outputPtr)

	return out, nil
}

func (b *wasmBridge) allocate(ctx context.Context, size uint32) (uint32, error) {
	results, err := b.malloc.Call(ctx, uint64(size))
	if err != nil {
		return 0, fmt.Errorf("malloc failed: %w", err)
	}
	if len(results) == 0 || uint32(results[0]) == 0 {
		return 0, fmt.Errorf("malloc returned null pointer")
	}
	return uint32(results[0]), nil
}

func (b *wasmBridge) deallocate(ctx context.Context, ptr uint32) error {
	_, err := b.free.Call(ctx, uint64(ptr))
	return err
}
