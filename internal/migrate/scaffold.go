package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"
	"time"

	"github.com/crochetdb/crochet/internal/ir"
	"github.com/crochetdb/crochet/internal/ledger"
)

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify converts a description into a filesystem-safe slug.
func Slugify(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	text = nonSlugChars.ReplaceAllString(text, "_")
	text = strings.Trim(text, "_")
	if len(text) > 60 {
		text = text[:60]
	}
	return text
}

// GenerateRevisionID produces ids like "0001_initial".
func GenerateRevisionID(seq int, description string) string {
	return fmt.Sprintf("%04d_%s", seq, Slugify(description))
}

const migrationTemplate = `// {{.Description}}
//
// Revision: {{.RevisionID}}
// Parent:   {{if .ParentID}}{{.ParentID}}{{else}}(root){{end}}
// Created:  {{.CreatedAt}}
// Schema:   {{.SchemaHash}}
package migrations

import "github.com/crochetdb/crochet/internal/migrate"

func init() {
	migrate.Default().MustRegister(migrate.Migration{
		RevisionID:   "{{.RevisionID}}",
		ParentID:     "{{.ParentID}}",
		Description:  "{{.Description}}",
		SchemaHash:   "{{.SchemaHash}}",
		RollbackSafe: {{.RollbackSafe}},
		Upgrade: func(ctx *migrate.OperationContext) error {
{{- if .DiffComment}}
			// Detected schema changes:
{{.DiffComment}}
{{- end}}
			return nil
		},
		Downgrade: func(ctx *migrate.OperationContext) error {
			return nil
		},
	})
}
`

type scaffoldData struct {
	RevisionID   string
	ParentID     string
	Description  string
	SchemaHash   string
	RollbackSafe bool
	CreatedAt    string
	DiffComment  string
}

// RenderMigration renders a new migration source file. When diffSummary is
// non-empty it is embedded as comments in the upgrade body for the author to
// turn into explicit operations; nothing is ever auto-applied.
func RenderMigration(revisionID, parentID, description, schemaHash string, rollbackSafe bool, diffSummary string) (string, error) {
	var diffComment string
	if diffSummary != "" {
		var lines []string
		for _, l := range strings.Split(diffSummary, "\n") {
			lines = append(lines, "\t\t\t// "+l)
		}
		diffComment = strings.Join(lines, "\n")
	}

	tmpl := template.Must(template.New("migration").Parse(migrationTemplate))
	var sb strings.Builder
	err := tmpl.Execute(&sb, scaffoldData{
		RevisionID:   revisionID,
		ParentID:     parentID,
		Description:  description,
		SchemaHash:   schemaHash,
		RollbackSafe: rollbackSafe,
		CreatedAt:    time.Now().UTC().Format(time.RFC3339),
		DiffComment:  diffComment,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render migration template: %w", err)
	}
	return sb.String(), nil
}

// WriteMigrationFile writes rendered content under migrationsDir and returns
// the file path.
func WriteMigrationFile(migrationsDir, revisionID, content string) (string, error) {
	if err := os.MkdirAll(migrationsDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create migrations directory: %w", err)
	}
	path := filepath.Join(migrationsDir, revisionID+".go")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write migration file: %w", err)
	}
	return path, nil
}

// CreateMigration scaffolds the next migration in the chain. When a current
// snapshot is given, its hash is declared in the new migration, the snapshot
// is stored in the ledger, and a diff against the previous migration's
// snapshot is embedded as review comments.
func (e *Engine) CreateMigration(migrationsDir, description string, current *ir.SchemaSnapshot, rollbackSafe bool) (string, error) {
	chain, err := BuildChain(e.registry)
	if err != nil {
		return "", err
	}

	parentID := ""
	if len(chain) > 0 {
		parentID = chain[len(chain)-1].RevisionID
	}
	revisionID := GenerateRevisionID(len(chain)+1, description)

	schemaHash := ""
	diffSummary := ""
	if current != nil {
		if err := ir.CheckSnapshot(*current); err != nil {
			return "", err
		}
		schemaHash, err = ir.ComputeHash(*current)
		if err != nil {
			return "", err
		}
		snap := *current
		snap.SchemaHash = schemaHash
		raw, err := snap.ToJSON()
		if err != nil {
			return "", err
		}
		if err := e.ledger.StoreSnapshot(schemaHash, raw); err != nil {
			return "", err
		}

		if len(chain) > 0 {
			prevHash := chain[len(chain)-1].SchemaHash
			if prevJSON, ok, err := e.ledger.GetSnapshot(prevHash); err == nil && ok {
				if prev, err := ir.FromJSON(prevJSON); err == nil {
					if d := ir.Diff(prev, snap); d.HasChanges() {
						diffSummary = d.Summary()
					}
				}
			}
		}
	}

	content, err := RenderMigration(revisionID, parentID, description, schemaHash, rollbackSafe, diffSummary)
	if err != nil {
		return "", err
	}
	return WriteMigrationFile(migrationsDir, revisionID, content)
}

// Ledger exposes the engine's ledger handle to read-only callers such as
// the status API.
func (e *Engine) Ledger() *ledger.Ledger {
	return e.ledger
}
