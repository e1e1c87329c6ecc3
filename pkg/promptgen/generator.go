package promptgen

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/agentforge/agentd/pkg/eventbus"
	"github.com/agentforge/agentd/pkg/plan"
	"github.com/agentforge/agentd/pkg/registry"
)

// protocolRules is the fixed prose describing the wire protocol every
// generated prompt opens with, grounded in the plan language's wire
// format keys (plan_id, actions, depends_on, on_error, ...) and its
// ${...} template syntax.
const protocolRules = `You submit work as a JSON plan: {plan_id, protocol_version, description, execution_mode, metadata, actions}.
Each action carries {id, module, action, params, depends_on, on_error, retry, rollback, timeout_s, requires_approval}.
Reference a prior action's result with ${actions.<id>.result...}, the environment with ${env.<NAME>}, or plan fields with ${plan.<field>}.
on_error is one of fail, continue, retry, rollback. Actions with unmet depends_on are skipped, not run.`

// Generator renders a deterministic system prompt from a module
// registry's manifests, caching each action's params schema and
// invalidating that cache on provider (de)registration, adapted from
// pkg/plan's SchemaRegistry caching idiom but keyed off the registry's
// own eventbus notifications rather than an explicit Register call.
type Generator struct {
	registry *registry.Registry

	mu    sync.Mutex
	cache map[string]json.RawMessage
}

// New builds a Generator over reg.
func New(reg *registry.Registry) *Generator {
	return &Generator{registry: reg, cache: make(map[string]json.RawMessage)}
}

// Deliver implements eventbus.Sink, invalidating one module's cached
// schemas whenever it is (re)registered or unregistered.
func (g *Generator) Deliver(ctx context.Context, ev eventbus.Event) error {
	if ev.Topic != eventbus.TopicActions {
		return nil
	}
	switch ev.Kind {
	case "provider_registered", "provider_unregistered":
		if moduleID, ok := ev.Payload["module_id"].(string); ok {
			g.invalidateModule(moduleID)
		}
	}
	return nil
}

// Close implements eventbus.Sink.
func (g *Generator) Close() error { return nil }

func (g *Generator) invalidateModule(moduleID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	prefix := moduleID + "."
	for k := range g.cache {
		if strings.HasPrefix(k, prefix) {
			delete(g.cache, k)
		}
	}
}

func (g *Generator) schemaFor(moduleID string, am registry.ActionManifest) json.RawMessage {
	key := moduleID + "." + am.Name
	g.mu.Lock()
	defer g.mu.Unlock()
	if cached, ok := g.cache[key]; ok {
		return cached
	}
	g.cache[key] = am.ParamsSchema
	return am.ParamsSchema
}

// Generate produces opts.Format's rendering of every currently
// initializable module's manifest. Module and action order is always
// alphabetical by id, so two calls against an unchanged registry
// produce byte-identical output.
func (g *Generator) Generate(ctx context.Context, opts Options) (string, error) {
	manifests := g.registry.ListManifests(ctx)
	sort.Slice(manifests, func(i, j int) bool { return manifests[i].ModuleID < manifests[j].ModuleID })

	doc := Document{
		ProtocolVersion:   plan.CurrentProtocolVersion,
		PermissionProfile: opts.PermissionProfile,
	}

	for _, m := range manifests {
		mp := ModulePrompt{ModuleID: m.ModuleID, Description: m.Description}
		provider, err := g.registry.Get(ctx, m.ModuleID)
		if err == nil {
			mp.ContextSnippet = provider.GetContextSnippet()
		}

		actions := append([]registry.ActionManifest(nil), m.Actions...)
		sort.Slice(actions, func(i, j int) bool { return actions[i].Name < actions[j].Name })

		for _, am := range actions {
			ap := ActionPrompt{
				Name:               am.Name,
				Description:        am.Description,
				PermissionRequired: am.PermissionRequired,
				RiskLevel:          am.RiskLevel,
				Irreversible:       am.Irreversible,
			}
			if opts.IncludeSchemas {
				ap.ParamsSchema = g.schemaFor(m.ModuleID, am)
			}
			if opts.IncludeExamples {
				ap.Examples = am.Examples
			}
			if am.RateLimitHint != nil {
				ap.RateLimit = fmt.Sprintf("%d per %s", am.RateLimitHint.MaxRequests, am.RateLimitHint.Window)
			}
			mp.Actions = append(mp.Actions, ap)
		}

		doc.Modules = append(doc.Modules, mp)
	}

	if opts.Format == FormatJSON {
		out, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to marshal system prompt: %w", err)
		}
		return string(out), nil
	}
	return renderText(doc), nil
}

func renderText(doc Document) string {
	var b strings.Builder
	b.WriteString(protocolRules)
	b.WriteString("\n\n")
	if doc.PermissionProfile != "" {
		b.WriteString("Active permission profile: " + doc.PermissionProfile + "\n\n")
	}

	for _, m := range doc.Modules {
		b.WriteString("Module " + m.ModuleID)
		if m.Description != "" {
			b.WriteString(": " + m.Description)
		}
		b.WriteString("\n")
		if m.ContextSnippet != "" {
			b.WriteString("  " + m.ContextSnippet + "\n")
		}
		for _, a := range m.Actions {
			line := "  - " + m.ModuleID + "." + a.Name
			if a.RiskLevel != "" {
				line += " [risk:" + a.RiskLevel + "]"
			}
			if a.Irreversible {
				line += " [irreversible]"
			}
			if a.RateLimit != "" {
				line += " [rate_limit:" + a.RateLimit + "]"
			}
			b.WriteString(line + "\n")
			if a.Description != "" {
				b.WriteString("      " + a.Description + "\n")
			}
			if len(a.PermissionRequired) > 0 {
				b.WriteString("      requires: " + strings.Join(a.PermissionRequired, ", ") + "\n")
			}
			if len(a.ParamsSchema) > 0 {
				b.WriteString("      params_schema: " + string(a.ParamsSchema) + "\n")
			}
			for i, ex := range a.Examples {
				b.WriteString("      example " + strconv.Itoa(i+1) + ": " + stringify(ex) + "\n")
			}
		}
	}
	return b.String()
}

func stringify(v interface{}) string {
	out, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(out)
}
