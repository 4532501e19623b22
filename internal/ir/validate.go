package ir

import (
	"errors"
	"fmt"
)

var ErrReservedProperty = errors.New("schema declares a reserved property")

// CheckSnapshot validates the structural invariants of a snapshot: every
// entity has a kgid, no kgid is used twice, and no entity declares the
// reserved batch-tag property.
func CheckSnapshot(s SchemaSnapshot) error {
	seen := make(map[string]string, len(s.Nodes)+len(s.Relationships))

	for _, n := range s.Nodes {
		name := "node"
		if len(n.Labels) > 0 {
			name = fmt.Sprintf("node '%s'", n.Labels[0])
		}
		if n.Kgid == "" {
			return fmt.Errorf("%s is missing a kgid", name)
		}
		if other, ok := seen[n.Kgid]; ok {
			return fmt.Errorf("duplicate kgid '%s' on %s and %s", n.Kgid, other, name)
		}
		seen[n.Kgid] = name
		if err := checkProperties(name, n.Properties); err != nil {
			return err
		}
	}

	for _, r := range s.Relationships {
		name := fmt.Sprintf("relationship '%s'", r.RelType)
		if r.Kgid == "" {
			return fmt.Errorf("%s is missing a kgid", name)
		}
		if other, ok := seen[r.Kgid]; ok {
			return fmt.Errorf("duplicate kgid '%s' on %s and %s", r.Kgid, other, name)
		}
		seen[r.Kgid] = name
		if err := checkProperties(name, r.Properties); err != nil {
			return err
		}
	}

	return nil
}

func checkProperties(owner string, props []PropertyIR) error {
	for _, p := range props {
		if p.Name == BatchProperty {
			return fmt.Errorf("%s declares property '%s': %w", owner, p.Name, ErrReservedProperty)
		}
	}
	return nil
}
