package migrate

import "fmt"

// BuildChain orders the registered migrations root-to-head by their parent
// links. It fails with a ChainError when the set is not one linear chain:
// no root, multiple roots, two migrations sharing a parent (a branch is
// never merged automatically), a dangling parent reference, or a cycle.
func BuildChain(reg *Registry) ([]Migration, error) {
	all := reg.All()
	if len(all) == 0 {
		return nil, nil
	}

	var roots []Migration
	childOf := make(map[string]string, len(all)) // parent id -> child revision id
	for _, m := range all {
		if m.ParentID == "" {
			roots = append(roots, m)
			continue
		}
		if _, ok := reg.Get(m.ParentID); !ok {
			return nil, &ChainError{Reason: fmt.Sprintf(
				"migration '%s' references unknown parent '%s'", m.RevisionID, m.ParentID)}
		}
		if prev, ok := childOf[m.ParentID]; ok {
			return nil, &ChainError{Reason: fmt.Sprintf(
				"migrations '%s' and '%s' both declare parent '%s' (diverging chain)",
				prev, m.RevisionID, m.ParentID)}
		}
		childOf[m.ParentID] = m.RevisionID
	}

	if len(roots) == 0 {
		return nil, &ChainError{Reason: "no root migration found (cycle in parent links)"}
	}
	if len(roots) > 1 {
		return nil, &ChainError{Reason: fmt.Sprintf(
			"multiple root migrations found: '%s' and '%s'", roots[0].RevisionID, roots[1].RevisionID)}
	}

	chain := make([]Migration, 0, len(all))
	current := roots[0]
	for {
		chain = append(chain, current)
		next, ok := childOf[current.RevisionID]
		if !ok {
			break
		}
		m, _ := reg.Get(next)
		current = m
	}

	// Anything not reached from the root is part of a cycle disconnected
	// from the chain.
	if len(chain) != len(all) {
		reached := make(map[string]struct{}, len(chain))
		for _, m := range chain {
			reached[m.RevisionID] = struct{}{}
		}
		for _, m := range all {
			if _, ok := reached[m.RevisionID]; !ok {
				return nil, &ChainError{Reason: fmt.Sprintf(
					"migration '%s' is not reachable from the root (cycle in parent links)", m.RevisionID)}
			}
		}
	}

	return chain, nil
}

// checkDrift verifies that the ledger's applied order is a prefix of the
// chain order. Any skip or reorder is drift.
func checkDrift(chain []Migration, appliedOrder []string) error {
	if len(appliedOrder) > len(chain) {
		return &DriftError{Reason: fmt.Sprintf(
			"ledger records %d applied migrations but only %d are known", len(appliedOrder), len(chain))}
	}
	for i, rev := range appliedOrder {
		if chain[i].RevisionID != rev {
			return &DriftError{Reason: fmt.Sprintf(
				"applied order diverges at position %d: ledger has '%s', chain expects '%s'",
				i, rev, chain[i].RevisionID)}
		}
	}
	return nil
}
