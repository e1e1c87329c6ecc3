package plan

import "fmt"

// Migration promotes a plan one protocol version forward. Migrations are
// registered keyed by their source version and composed into a linear
// chain by Migrate; there is never more than one migration per source
// version, mirroring the teacher's one-step migration registries.
type Migration struct {
	From string
	To   string
	Run  func(*Plan) error
}

// MigrationRegistry holds the known one-step migrations.
type MigrationRegistry struct {
	byFrom map[string]Migration
}

// NewMigrationRegistry returns an empty registry. Register migrations
// with Register as new protocol versions are introduced.
func NewMigrationRegistry() *MigrationRegistry {
	return &MigrationRegistry{byFrom: make(map[string]Migration)}
}

// Register adds a one-step migration. Registering a second migration
// for the same From version overwrites the first, since the chain must
// remain a simple linked list with no branching.
func (r *MigrationRegistry) Register(m Migration) {
	r.byFrom[m.From] = m
}

// Migrate promotes p to CurrentProtocolVersion by composing registered
// one-step migrations starting from p.ProtocolVersion. No migration runs
// if p is already current. A break in the chain (no migration registered
// for the current version, which itself isn't current) is a permanent
// error: the plan can never reach the current version.
func (r *MigrationRegistry) Migrate(p *Plan) error {
	seen := make(map[string]bool)
	for p.ProtocolVersion != CurrentProtocolVersion {
		if seen[p.ProtocolVersion] {
			return NewPermanentError(CodeValidationError,
				fmt.Sprintf("migration chain loops at version %s", p.ProtocolVersion), nil)
		}
		seen[p.ProtocolVersion] = true

		m, ok := r.byFrom[p.ProtocolVersion]
		if !ok {
			return NewPermanentError(CodeValidationError,
				fmt.Sprintf("no migration path from protocol version %s to %s", p.ProtocolVersion, CurrentProtocolVersion), nil)
		}

		if err := m.Run(p); err != nil {
			return NewPermanentError(CodeValidationError,
				fmt.Sprintf("migration %s -> %s failed", m.From, m.To), err)
		}
		p.ProtocolVersion = m.To
	}
	return nil
}
