package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckSnapshot_Valid(t *testing.T) {
	assert.NoError(t, CheckSnapshot(personSnapshot()))
}

func TestCheckSnapshot_MissingKgid(t *testing.T) {
	s := personSnapshot()
	s.Nodes[0].Kgid = ""
	err := CheckSnapshot(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing a kgid")
}

func TestCheckSnapshot_DuplicateKgid(t *testing.T) {
	s := personSnapshot()
	s.Relationships[0].Kgid = s.Nodes[0].Kgid
	err := CheckSnapshot(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate kgid")
}

func TestCheckSnapshot_ReservedProperty(t *testing.T) {
	s := personSnapshot()
	s.Nodes[0].Properties = append(s.Nodes[0].Properties, PropertyIR{
		Name: BatchProperty, Type: "StringProperty",
	})
	err := CheckSnapshot(s)
	require.ErrorIs(t, err, ErrReservedProperty)
}
