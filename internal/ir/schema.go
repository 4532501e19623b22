package ir

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// BatchProperty is the reserved property used to tag nodes and relationships
// created through a data batch. User schemas must not declare it.
const BatchProperty = "_crochet_batch"

type PropertyIR struct {
	Name     string   `json:"name"`
	Type     string   `json:"property_type"` // e.g. "StringProperty", "IntegerProperty"
	Required bool     `json:"required"`
	Unique   bool     `json:"unique_index"`
	Indexed  bool     `json:"index"`
	Default  string   `json:"default,omitempty"`
	Choices  []string `json:"choices,omitempty"`
}

// RelationshipDefIR describes a relationship declared on a node model
// (attribute name plus type, target, and direction).
type RelationshipDefIR struct {
	AttrName    string `json:"attr_name"`
	RelType     string `json:"rel_type"`
	TargetLabel string `json:"target_label"`
	Direction   string `json:"direction"` // "to", "from", "either"
	ModelKgid   string `json:"model_kgid,omitempty"`
}

// NodeIR is the IR for a node model. Kgid is the stable identity; labels may
// be renamed without changing it.
type NodeIR struct {
	Kgid             string              `json:"kgid"`
	Labels           []string            `json:"labels"`
	Properties       []PropertyIR        `json:"properties"`
	RelationshipDefs []RelationshipDefIR `json:"relationship_defs,omitempty"`
}

// RelationshipIR is the IR for a relationship model.
type RelationshipIR struct {
	Kgid       string       `json:"kgid"`
	RelType    string       `json:"rel_type"`
	Properties []PropertyIR `json:"properties"`
}

// SchemaSnapshot is an immutable capture of the full schema IR at a point in
// time. Snapshots are compared by kgid, never by label or type name.
type SchemaSnapshot struct {
	Nodes         []NodeIR         `json:"nodes"`
	Relationships []RelationshipIR `json:"relationships"`
	CreatedAt     string           `json:"created_at,omitempty"`
	SchemaHash    string           `json:"schema_hash,omitempty"`
}

func NewSnapshot(nodes []NodeIR, relationships []RelationshipIR) SchemaSnapshot {
	return SchemaSnapshot{
		Nodes:         nodes,
		Relationships: relationships,
		CreatedAt:     time.Now().UTC().Format(time.RFC3339),
	}
}

func EmptySnapshot() SchemaSnapshot {
	return SchemaSnapshot{}
}

func (s SchemaSnapshot) NodesByKgid() map[string]NodeIR {
	m := make(map[string]NodeIR, len(s.Nodes))
	for _, n := range s.Nodes {
		m[n.Kgid] = n
	}
	return m
}

func (s SchemaSnapshot) RelationshipsByKgid() map[string]RelationshipIR {
	m := make(map[string]RelationshipIR, len(s.Relationships))
	for _, r := range s.Relationships {
		m[r.Kgid] = r
	}
	return m
}

func (s SchemaSnapshot) ToJSON() (string, error) {
	data, err := json.MarshalIndent(s.canonical(true), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to serialize snapshot: %w", err)
	}
	return string(data), nil
}

func FromJSON(raw string) (SchemaSnapshot, error) {
	var s SchemaSnapshot
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return SchemaSnapshot{}, fmt.Errorf("failed to parse snapshot JSON: %w", err)
	}
	return s, nil
}

// canonical returns a copy with entities, labels, and properties sorted so
// that serialization does not depend on input order. When withMeta is false,
// created_at and schema_hash are dropped (the form used for hashing).
func (s SchemaSnapshot) canonical(withMeta bool) SchemaSnapshot {
	out := SchemaSnapshot{
		Nodes:         make([]NodeIR, len(s.Nodes)),
		Relationships: make([]RelationshipIR, len(s.Relationships)),
	}
	if withMeta {
		out.CreatedAt = s.CreatedAt
		out.SchemaHash = s.SchemaHash
	}
	for i, n := range s.Nodes {
		cn := n
		cn.Labels = append([]string(nil), n.Labels...)
		sort.Strings(cn.Labels)
		cn.Properties = sortedProperties(n.Properties)
		cn.RelationshipDefs = append([]RelationshipDefIR(nil), n.RelationshipDefs...)
		sort.Slice(cn.RelationshipDefs, func(a, b int) bool {
			return cn.RelationshipDefs[a].AttrName < cn.RelationshipDefs[b].AttrName
		})
		out.Nodes[i] = cn
	}
	for i, r := range s.Relationships {
		cr := r
		cr.Properties = sortedProperties(r.Properties)
		out.Relationships[i] = cr
	}
	sort.Slice(out.Nodes, func(a, b int) bool { return out.Nodes[a].Kgid < out.Nodes[b].Kgid })
	sort.Slice(out.Relationships, func(a, b int) bool {
		return out.Relationships[a].Kgid < out.Relationships[b].Kgid
	})
	return out
}

func sortedProperties(props []PropertyIR) []PropertyIR {
	out := append([]PropertyIR(nil), props...)
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}
