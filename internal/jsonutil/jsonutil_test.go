package jsonutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalFields(t *testing.T) {
	v := struct {
		Name       string
		Pieces     int    `structs:"Piece Count"`
		Hidden     string `structs:"-"`
		unexported bool
	}{
		Name:   "file.bin",
		Pieces: 3,
		Hidden: "x",
	}
	b, err := MarshalFields(v, false)
	require.NoError(t, err)
	assert.Equal(t, "Name: \"file.bin\"\nPiece Count: 3\n", string(b))
}
