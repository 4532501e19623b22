// Package verify runs read-only consistency checks across migration files,
// the ledger, and the graph. It reports every inconsistency it finds and
// never repairs anything.
package verify

import (
	"context"
	"fmt"
	"strings"

	"github.com/crochetdb/crochet/internal/driver"
	"github.com/crochetdb/crochet/internal/ir"
	"github.com/crochetdb/crochet/internal/ledger"
	"github.com/crochetdb/crochet/internal/migrate"
)

type Check struct {
	Name    string
	Passed  bool
	Details []string
}

type Report struct {
	Checks []Check
}

func (r Report) Passed() bool {
	for _, c := range r.Checks {
		if !c.Passed {
			return false
		}
	}
	return true
}

func (r Report) Summary() string {
	var lines []string
	for _, c := range r.Checks {
		status := "PASS"
		if !c.Passed {
			status = "FAIL"
		}
		lines = append(lines, fmt.Sprintf("[%s] %s", status, c.Name))
		for _, d := range c.Details {
			lines = append(lines, "       "+d)
		}
	}
	return strings.Join(lines, "\n")
}

// Run executes every check. A nil graph driver skips the connectivity probe.
func Run(ctx context.Context, registry *migrate.Registry, led *ledger.Ledger, drv driver.GraphDriver) (Report, error) {
	var report Report

	ledgerChain, err := checkLedgerChain(led)
	if err != nil {
		return Report{}, err
	}
	report.Checks = append(report.Checks, ledgerChain)

	filesPresent, err := checkFilesPresent(registry, led)
	if err != nil {
		return Report{}, err
	}
	report.Checks = append(report.Checks, filesPresent)

	report.Checks = append(report.Checks, checkChainShape(registry))

	pending, err := checkNoPending(registry, led)
	if err != nil {
		return Report{}, err
	}
	report.Checks = append(report.Checks, pending)

	hashes, err := checkSchemaHashes(registry, led)
	if err != nil {
		return Report{}, err
	}
	report.Checks = append(report.Checks, hashes)

	if drv != nil {
		report.Checks = append(report.Checks, checkConnectivity(ctx, drv))
	}

	return report, nil
}

func checkLedgerChain(led *ledger.Ledger) (Check, error) {
	issues, err := led.VerifyChain()
	if err != nil {
		return Check{}, err
	}
	return Check{Name: "Ledger chain integrity", Passed: len(issues) == 0, Details: issues}, nil
}

func checkFilesPresent(registry *migrate.Registry, led *ledger.Ledger) (Check, error) {
	applied, err := led.AppliedMigrations()
	if err != nil {
		return Check{}, err
	}
	var missing []string
	for _, am := range applied {
		if _, ok := registry.Get(am.RevisionID); !ok {
			missing = append(missing, fmt.Sprintf("ledger references '%s' but no migration is registered", am.RevisionID))
		}
	}
	return Check{Name: "Migration files present", Passed: len(missing) == 0, Details: missing}, nil
}

func checkChainShape(registry *migrate.Registry) Check {
	if _, err := migrate.BuildChain(registry); err != nil {
		return Check{Name: "Migration chain shape", Passed: false, Details: []string{err.Error()}}
	}
	return Check{Name: "Migration chain shape", Passed: true}
}

func checkNoPending(registry *migrate.Registry, led *ledger.Ledger) (Check, error) {
	chain, err := migrate.BuildChain(registry)
	if err != nil {
		// Reported by the chain-shape check; pending cannot be computed.
		return Check{Name: "No pending migrations", Passed: false,
			Details: []string{"chain could not be ordered"}}, nil
	}
	var details []string
	for _, m := range chain {
		applied, err := led.IsApplied(m.RevisionID)
		if err != nil {
			return Check{}, err
		}
		if !applied {
			details = append(details, "pending: "+m.RevisionID)
		}
	}
	return Check{Name: "No pending migrations", Passed: len(details) == 0, Details: details}, nil
}

// checkSchemaHashes compares every applied migration's declared hash with
// the ledger record and with a recomputation of the stored snapshot.
func checkSchemaHashes(registry *migrate.Registry, led *ledger.Ledger) (Check, error) {
	applied, err := led.AppliedMigrations()
	if err != nil {
		return Check{}, err
	}
	var issues []string
	for _, am := range applied {
		m, ok := registry.Get(am.RevisionID)
		if !ok || m.SchemaHash == "" {
			continue
		}
		if am.SchemaHash != m.SchemaHash {
			issues = append(issues, fmt.Sprintf(
				"hash mismatch for '%s': file=%.12s ledger=%.12s", am.RevisionID, m.SchemaHash, am.SchemaHash))
		}
		raw, ok, err := led.GetSnapshot(m.SchemaHash)
		if err != nil {
			return Check{}, err
		}
		if !ok {
			continue
		}
		snap, err := ir.FromJSON(raw)
		if err != nil {
			issues = append(issues, fmt.Sprintf("stored snapshot for '%s' is unreadable", am.RevisionID))
			continue
		}
		recomputed, err := ir.ComputeHash(snap)
		if err != nil {
			return Check{}, err
		}
		if recomputed != m.SchemaHash {
			issues = append(issues, fmt.Sprintf(
				"snapshot for '%s' recomputes to %.12s, declared %.12s", am.RevisionID, recomputed, m.SchemaHash))
		}
	}
	return Check{Name: "Schema hash consistency", Passed: len(issues) == 0, Details: issues}, nil
}

func checkConnectivity(ctx context.Context, drv driver.GraphDriver) Check {
	if _, err := drv.ExecuteQuery(ctx, driver.ConnectivityProbeQuery, nil); err != nil {
		return Check{Name: "Graph connectivity", Passed: false, Details: []string{err.Error()}}
	}
	return Check{Name: "Graph connectivity", Passed: true}
}
