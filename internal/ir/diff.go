package ir

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeRemoved  ChangeKind = "removed"
	ChangeModified ChangeKind = "modified"
)

// PropertyChange is a single property-level delta within a modified entity.
type PropertyChange struct {
	Kind         ChangeKind
	PropertyName string
	Old          *PropertyIR
	New          *PropertyIR
}

func (pc PropertyChange) Description() string {
	switch pc.Kind {
	case ChangeAdded:
		return fmt.Sprintf("  + property '%s' (%s)", pc.PropertyName, pc.New.Type)
	case ChangeRemoved:
		return fmt.Sprintf("  - property '%s'", pc.PropertyName)
	default:
		var changes []string
		if pc.Old != nil && pc.New != nil {
			if pc.Old.Type != pc.New.Type {
				changes = append(changes, fmt.Sprintf("type %s -> %s", pc.Old.Type, pc.New.Type))
			}
			if pc.Old.Required != pc.New.Required {
				changes = append(changes, fmt.Sprintf("required=%t", pc.New.Required))
			}
			if pc.Old.Unique != pc.New.Unique {
				changes = append(changes, fmt.Sprintf("unique_index=%t", pc.New.Unique))
			}
			if pc.Old.Indexed != pc.New.Indexed {
				changes = append(changes, fmt.Sprintf("index=%t", pc.New.Indexed))
			}
			if pc.Old.Default != pc.New.Default {
				changes = append(changes, fmt.Sprintf("default=%q", pc.New.Default))
			}
		}
		detail := strings.Join(changes, ", ")
		if detail == "" {
			detail = "modified"
		}
		return fmt.Sprintf("  ~ property '%s' (%s)", pc.PropertyName, detail)
	}
}

// NodeChange describes how one node (identified by kgid) changed.
type NodeChange struct {
	Kind            ChangeKind
	Kgid            string
	Old             *NodeIR
	New             *NodeIR
	PropertyChanges []PropertyChange
	LabelsRenamed   bool
}

func (nc NodeChange) Description() string {
	switch nc.Kind {
	case ChangeAdded:
		return fmt.Sprintf("+ Node '%s' (kgid=%s)", strings.Join(nc.New.Labels, ":"), nc.Kgid)
	case ChangeRemoved:
		return fmt.Sprintf("- Node '%s' (kgid=%s)", strings.Join(nc.Old.Labels, ":"), nc.Kgid)
	default:
		parts := []string{fmt.Sprintf("~ Node kgid=%s", nc.Kgid)}
		if nc.LabelsRenamed {
			parts = append(parts, fmt.Sprintf("  renamed '%s' -> '%s'",
				strings.Join(nc.Old.Labels, ":"), strings.Join(nc.New.Labels, ":")))
		}
		for _, pc := range nc.PropertyChanges {
			parts = append(parts, pc.Description())
		}
		return strings.Join(parts, "\n")
	}
}

// RelationshipChange describes how one relationship model changed.
type RelationshipChange struct {
	Kind            ChangeKind
	Kgid            string
	Old             *RelationshipIR
	New             *RelationshipIR
	PropertyChanges []PropertyChange
	TypeRenamed     bool
}

func (rc RelationshipChange) Description() string {
	switch rc.Kind {
	case ChangeAdded:
		return fmt.Sprintf("+ Relationship '%s' (kgid=%s)", rc.New.RelType, rc.Kgid)
	case ChangeRemoved:
		return fmt.Sprintf("- Relationship '%s' (kgid=%s)", rc.Old.RelType, rc.Kgid)
	default:
		parts := []string{fmt.Sprintf("~ Relationship kgid=%s", rc.Kgid)}
		if rc.TypeRenamed {
			parts = append(parts, fmt.Sprintf("  renamed '%s' -> '%s'", rc.Old.RelType, rc.New.RelType))
		}
		for _, pc := range rc.PropertyChanges {
			parts = append(parts, pc.Description())
		}
		return strings.Join(parts, "\n")
	}
}

// SchemaDiff is the full change-set between two snapshots, keyed by kgid.
type SchemaDiff struct {
	NodeChanges         []NodeChange
	RelationshipChanges []RelationshipChange
}

func (d SchemaDiff) HasChanges() bool {
	return len(d.NodeChanges) > 0 || len(d.RelationshipChanges) > 0
}

func (d SchemaDiff) Summary() string {
	if !d.HasChanges() {
		return "No schema changes detected."
	}
	var lines []string
	for _, nc := range d.NodeChanges {
		lines = append(lines, nc.Description())
	}
	for _, rc := range d.RelationshipChanges {
		lines = append(lines, rc.Description())
	}
	return strings.Join(lines, "\n")
}

func propertyEqual(a, b PropertyIR) bool {
	return a.Name == b.Name &&
		a.Type == b.Type &&
		a.Required == b.Required &&
		a.Unique == b.Unique &&
		a.Indexed == b.Indexed &&
		a.Default == b.Default &&
		slices.Equal(a.Choices, b.Choices)
}

func labelsEqual(a, b []string) bool {
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	return slices.Equal(as, bs)
}

func diffProperties(oldProps, newProps []PropertyIR) []PropertyChange {
	oldMap := make(map[string]PropertyIR, len(oldProps))
	for _, p := range oldProps {
		oldMap[p.Name] = p
	}
	newMap := make(map[string]PropertyIR, len(newProps))
	for _, p := range newProps {
		newMap[p.Name] = p
	}

	var changes []PropertyChange
	for _, name := range sortedKeyUnion(oldMap, newMap) {
		oldP, hasOld := oldMap[name]
		newP, hasNew := newMap[name]
		switch {
		case !hasOld && hasNew:
			p := newP
			changes = append(changes, PropertyChange{Kind: ChangeAdded, PropertyName: name, New: &p})
		case hasOld && !hasNew:
			p := oldP
			changes = append(changes, PropertyChange{Kind: ChangeRemoved, PropertyName: name, Old: &p})
		case !propertyEqual(oldP, newP):
			o, n := oldP, newP
			changes = append(changes, PropertyChange{Kind: ChangeModified, PropertyName: name, Old: &o, New: &n})
		}
	}
	return changes
}

// Diff computes the change-set from old to new, keyed strictly by kgid.
// An entity deleted and re-added under a new kgid is reported as one removed
// plus one added, even if the labels match; rename detection requires the
// kgid to be reused.
func Diff(old, new SchemaSnapshot) SchemaDiff {
	var diff SchemaDiff

	oldNodes := old.NodesByKgid()
	newNodes := new.NodesByKgid()
	for _, kgid := range sortedKeyUnion(oldNodes, newNodes) {
		oldN, hasOld := oldNodes[kgid]
		newN, hasNew := newNodes[kgid]
		switch {
		case !hasOld && hasNew:
			n := newN
			diff.NodeChanges = append(diff.NodeChanges, NodeChange{Kind: ChangeAdded, Kgid: kgid, New: &n})
		case hasOld && !hasNew:
			n := oldN
			diff.NodeChanges = append(diff.NodeChanges, NodeChange{Kind: ChangeRemoved, Kgid: kgid, Old: &n})
		default:
			propChanges := diffProperties(oldN.Properties, newN.Properties)
			renamed := !labelsEqual(oldN.Labels, newN.Labels)
			if len(propChanges) > 0 || renamed {
				o, n := oldN, newN
				diff.NodeChanges = append(diff.NodeChanges, NodeChange{
					Kind:            ChangeModified,
					Kgid:            kgid,
					Old:             &o,
					New:             &n,
					PropertyChanges: propChanges,
					LabelsRenamed:   renamed,
				})
			}
		}
	}

	oldRels := old.RelationshipsByKgid()
	newRels := new.RelationshipsByKgid()
	for _, kgid := range sortedKeyUnion(oldRels, newRels) {
		oldR, hasOld := oldRels[kgid]
		newR, hasNew := newRels[kgid]
		switch {
		case !hasOld && hasNew:
			r := newR
			diff.RelationshipChanges = append(diff.RelationshipChanges, RelationshipChange{Kind: ChangeAdded, Kgid: kgid, New: &r})
		case hasOld && !hasNew:
			r := oldR
			diff.RelationshipChanges = append(diff.RelationshipChanges, RelationshipChange{Kind: ChangeRemoved, Kgid: kgid, Old: &r})
		default:
			propChanges := diffProperties(oldR.Properties, newR.Properties)
			renamed := oldR.RelType != newR.RelType
			if len(propChanges) > 0 || renamed {
				o, r := oldR, newR
				diff.RelationshipChanges = append(diff.RelationshipChanges, RelationshipChange{
					Kind:            ChangeModified,
					Kgid:            kgid,
					Old:             &o,
					New:             &r,
					PropertyChanges: propChanges,
					TypeRenamed:     renamed,
				})
			}
		}
	}

	return diff
}

func sortedKeyUnion[V any](a, b map[string]V) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		seen[k] = struct{}{}
	}
	for k := range b {
		seen[k] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
