package migrate

import "fmt"

// Migration is a value record: revision metadata plus the two operation
// callbacks. Bodies are registered at build time; the engine never loads
// code dynamically.
type Migration struct {
	RevisionID   string
	ParentID     string // empty for the root migration
	Description  string
	SchemaHash   string // hash of the snapshot expected at authoring time
	RollbackSafe bool

	Upgrade   func(ctx *OperationContext) error
	Downgrade func(ctx *OperationContext) error
}

// Registry holds the discovered migrations. Registration order is
// irrelevant; chain order is derived from parent links.
type Registry struct {
	migrations []Migration
	byID       map[string]Migration
}

func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]Migration)}
}

var defaultRegistry = NewRegistry()

// Default is the registry that generated migration files register into via
// their init functions.
func Default() *Registry {
	return defaultRegistry
}

func (r *Registry) Register(m Migration) error {
	if m.RevisionID == "" {
		return fmt.Errorf("migration is missing a revision id")
	}
	if _, ok := r.byID[m.RevisionID]; ok {
		return fmt.Errorf("migration '%s' is already registered", m.RevisionID)
	}
	r.byID[m.RevisionID] = m
	r.migrations = append(r.migrations, m)
	return nil
}

// MustRegister is for package-level migration registration in generated
// files, where a duplicate id is a programming error.
func (r *Registry) MustRegister(m Migration) {
	if err := r.Register(m); err != nil {
		panic(err)
	}
}

func (r *Registry) All() []Migration {
	return append([]Migration(nil), r.migrations...)
}

func (r *Registry) Get(revisionID string) (Migration, bool) {
	m, ok := r.byID[revisionID]
	return m, ok
}

func (r *Registry) Len() int {
	return len(r.migrations)
}
