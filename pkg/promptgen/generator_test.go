package promptgen

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/agentforge/agentd/pkg/eventbus"
	"github.com/agentforge/agentd/pkg/registry"
)

func testManifest() registry.ProviderManifest {
	return registry.ProviderManifest{
		ModuleID:    "filesystem",
		Version:     "1.0.0",
		Description: "local filesystem access",
		Actions: []registry.ActionManifest{
			{
				Name:               "read_file",
				Description:        "reads a file's contents",
				ParamsSchema:       json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}}}`),
				PermissionRequired: []string{"filesystem.read"},
				RiskLevel:          "low",
			},
			{
				Name:         "delete_file",
				Description:  "deletes a file",
				RiskLevel:    "high",
				Irreversible: true,
			},
		},
	}
}

func newTestRegistry() *registry.Registry {
	reg := registry.NewRegistry(nil)
	reg.RegisterInstance("filesystem", registry.NewNativeProvider(testManifest(), "filesystem module: read, write, delete files").
		HandleFunc("read_file", func(ctx context.Context, params map[string]interface{}, execCtx registry.ExecutionContext) (interface{}, error) {
			return nil, nil
		}).
		HandleFunc("delete_file", func(ctx context.Context, params map[string]interface{}, execCtx registry.ExecutionContext) (interface{}, error) {
			return nil, nil
		}))
	return reg
}

func TestGenerator_GenerateJSON_IsDeterministic(t *testing.T) {
	g := New(newTestRegistry())
	ctx := context.Background()

	first, err := g.Generate(ctx, Options{Format: FormatJSON, IncludeSchemas: true})
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	second, err := g.Generate(ctx, Options{Format: FormatJSON, IncludeSchemas: true})
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if first != second {
		t.Error("expected identical output across calls with an unchanged registry")
	}

	var doc Document
	if err := json.Unmarshal([]byte(first), &doc); err != nil {
		t.Fatalf("failed to unmarshal generated document: %v", err)
	}
	if len(doc.Modules) != 1 || doc.Modules[0].ModuleID != "filesystem" {
		t.Fatalf("unexpected modules: %+v", doc.Modules)
	}
	if len(doc.Modules[0].Actions) != 2 {
		t.Fatalf("expected 2 actions, got %d", len(doc.Modules[0].Actions))
	}
	// Alphabetical: delete_file before read_file.
	if doc.Modules[0].Actions[0].Name != "delete_file" {
		t.Errorf("expected delete_file first, got %s", doc.Modules[0].Actions[0].Name)
	}
}

func TestGenerator_GenerateText_IncludesSchemaAndSnippet(t *testing.T) {
	g := New(newTestRegistry())
	text, err := g.Generate(context.Background(), Options{Format: FormatText, IncludeSchemas: true, PermissionProfile: "default"})
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if !strings.Contains(text, "filesystem module: read, write, delete files") {
		t.Error("expected context snippet in text output")
	}
	if !strings.Contains(text, "params_schema:") {
		t.Error("expected schema to be inlined in text output")
	}
	if !strings.Contains(text, "Active permission profile: default") {
		t.Error("expected permission profile line")
	}
	if !strings.Contains(text, "[irreversible]") {
		t.Error("expected irreversible marker on delete_file")
	}
}

func TestGenerator_SchemaCacheInvalidatedOnDeregistration(t *testing.T) {
	reg := newTestRegistry()
	g := New(reg)
	ctx := context.Background()

	if _, err := g.Generate(ctx, Options{Format: FormatJSON, IncludeSchemas: true}); err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if _, cached := g.cache["filesystem.read_file"]; !cached {
		t.Fatal("expected schema to be cached after first generate")
	}

	if err := g.Deliver(ctx, eventbus.Event{
		Topic: eventbus.TopicActions, Kind: "provider_unregistered",
		Payload: map[string]interface{}{"module_id": "filesystem"},
	}); err != nil {
		t.Fatalf("deliver failed: %v", err)
	}

	if _, cached := g.cache["filesystem.read_file"]; cached {
		t.Error("expected schema cache to be invalidated on deregistration event")
	}
}
