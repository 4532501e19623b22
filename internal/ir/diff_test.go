package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiff_IdenticalSnapshots(t *testing.T) {
	s := personSnapshot()
	d := Diff(s, s)
	assert.False(t, d.HasChanges())
	assert.Equal(t, "No schema changes detected.", d.Summary())
}

func TestDiff_AddedAndRemoved(t *testing.T) {
	old := personSnapshot()
	next := personSnapshot()
	next.Nodes = next.Nodes[:1] // drop City
	next.Nodes = append(next.Nodes, NodeIR{
		Kgid:   "kg-company",
		Labels: []string{"Company"},
		Properties: []PropertyIR{
			{Name: "name", Type: "StringProperty", Required: true},
		},
	})

	d := Diff(old, next)
	require.Len(t, d.NodeChanges, 2)

	byKgid := map[string]NodeChange{}
	for _, nc := range d.NodeChanges {
		byKgid[nc.Kgid] = nc
	}
	assert.Equal(t, ChangeRemoved, byKgid["kg-city"].Kind)
	assert.Equal(t, ChangeAdded, byKgid["kg-company"].Kind)
}

func TestDiff_RenameRequiresSameKgid(t *testing.T) {
	old := SchemaSnapshot{Nodes: []NodeIR{
		{Kgid: "kg-person", Labels: []string{"Person"}},
	}}

	// Same kgid, new label: a rename.
	renamed := SchemaSnapshot{Nodes: []NodeIR{
		{Kgid: "kg-person", Labels: []string{"Human"}},
	}}
	d := Diff(old, renamed)
	require.Len(t, d.NodeChanges, 1)
	assert.Equal(t, ChangeModified, d.NodeChanges[0].Kind)
	assert.True(t, d.NodeChanges[0].LabelsRenamed)

	// New kgid, even with the old label kept: remove plus add, never a rename.
	replaced := SchemaSnapshot{Nodes: []NodeIR{
		{Kgid: "kg-person-v2", Labels: []string{"Person"}},
	}}
	d = Diff(old, replaced)
	require.Len(t, d.NodeChanges, 2)
	for _, nc := range d.NodeChanges {
		assert.NotEqual(t, ChangeModified, nc.Kind)
	}
}

func TestDiff_PropertyChanges(t *testing.T) {
	old := personSnapshot()
	next := personSnapshot()
	next.Nodes[0].Properties[1].Indexed = false // modified: age
	// added: email
	next.Nodes[0].Properties = append(next.Nodes[0].Properties,
		PropertyIR{Name: "email", Type: "StringProperty"})

	d := Diff(old, next)
	require.Len(t, d.NodeChanges, 1)
	nc := d.NodeChanges[0]
	assert.Equal(t, "kg-person", nc.Kgid)
	require.Len(t, nc.PropertyChanges, 2)

	byName := map[string]PropertyChange{}
	for _, pc := range nc.PropertyChanges {
		byName[pc.PropertyName] = pc
	}
	assert.Equal(t, ChangeModified, byName["age"].Kind)
	assert.Equal(t, ChangeAdded, byName["email"].Kind)
	assert.Contains(t, byName["age"].Description(), "index=false")
}

func TestDiff_RelationshipTypeRename(t *testing.T) {
	old := personSnapshot()
	next := personSnapshot()
	next.Relationships[0].RelType = "RESIDES_IN"

	d := Diff(old, next)
	require.Len(t, d.RelationshipChanges, 1)
	rc := d.RelationshipChanges[0]
	assert.Equal(t, ChangeModified, rc.Kind)
	assert.True(t, rc.TypeRenamed)
	assert.Contains(t, rc.Description(), "'LIVES_IN' -> 'RESIDES_IN'")
}

// applyInverse undoes a diff against the newer snapshot, reconstructing the
// older one. It mirrors what a hand-written downgrade does, at the IR level.
func applyInverse(newer SchemaSnapshot, d SchemaDiff) SchemaSnapshot {
	nodes := newer.NodesByKgid()
	for _, nc := range d.NodeChanges {
		switch nc.Kind {
		case ChangeAdded:
			delete(nodes, nc.Kgid)
		case ChangeRemoved:
			nodes[nc.Kgid] = *nc.Old
		case ChangeModified:
			nodes[nc.Kgid] = *nc.Old
		}
	}
	rels := newer.RelationshipsByKgid()
	for _, rc := range d.RelationshipChanges {
		switch rc.Kind {
		case ChangeAdded:
			delete(rels, rc.Kgid)
		case ChangeRemoved:
			rels[rc.Kgid] = *rc.Old
		case ChangeModified:
			rels[rc.Kgid] = *rc.Old
		}
	}

	var out SchemaSnapshot
	for _, n := range nodes {
		out.Nodes = append(out.Nodes, n)
	}
	for _, r := range rels {
		out.Relationships = append(out.Relationships, r)
	}
	return out
}

func TestDiff_InverseRoundTrip(t *testing.T) {
	old := personSnapshot()

	next := personSnapshot()
	next.Nodes = next.Nodes[:1]                  // remove City
	next.Nodes[0].Labels = []string{"Human"}     // rename Person
	next.Nodes[0].Properties[0].Required = false // modify name
	next.Nodes = append(next.Nodes, NodeIR{      // add Company
		Kgid:   "kg-company",
		Labels: []string{"Company"},
	})
	next.Relationships[0].RelType = "RESIDES_IN" // rename rel type

	d := Diff(old, next)
	require.True(t, d.HasChanges())

	restored := applyInverse(next, d)

	oldHash, err := ComputeHash(old)
	require.NoError(t, err)
	restoredHash, err := ComputeHash(restored)
	require.NoError(t, err)
	assert.Equal(t, oldHash, restoredHash)
}
