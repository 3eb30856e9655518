package jsonutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalSortsKeys(t *testing.T) {
	out, err := Canonical(map[string]any{"zeta": 1, "alpha": 2, "mid": 3})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"mid":3,"zeta":1}`, out)
}

func TestCanonicalStableAcrossFieldOrder(t *testing.T) {
	type ab struct {
		A string `json:"a"`
		B int    `json:"b"`
	}
	type ba struct {
		B int    `json:"b"`
		A string `json:"a"`
	}
	first, err := Canonical(ab{A: "x", B: 7})
	require.NoError(t, err)
	second, err := Canonical(ba{B: 7, A: "x"})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCanonicalRejectsUnmarshalable(t *testing.T) {
	_, err := Canonical(make(chan int))
	assert.Error(t, err)
}

func TestMergeCanonical(t *testing.T) {
	a := map[string]any{"x": 1, "shared": "a"}
	b := map[string]any{"y": 2, "shared": "b"}
	out, err := MergeCanonical(a, b)
	require.NoError(t, err)
	// keys from b win on collision
	assert.Equal(t, `{"shared":"b","x":1,"y":2}`, out)
}
