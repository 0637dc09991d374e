package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorToStringFormat(t *testing.T) {
	assert.Equal(t, "[1,0.5,-2]", vectorToString([]float32{1, 0.5, -2}))
	assert.Equal(t, "[]", vectorToString(nil))
}

func TestParseVectorRoundTrip(t *testing.T) {
	in := []float32{0.125, -3.5, 0, 42}
	out, err := parseVector(vectorToString(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestParseVectorWithSpaces(t *testing.T) {
	out, err := parseVector("[1, 2.5, -0.25]")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2.5, -0.25}, out)
}

func TestParseVectorEmpty(t *testing.T) {
	out, err := parseVector("[]")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestParseVectorMalformed(t *testing.T) {
	_, err := parseVector("[1,oops,3]")
	assert.Error(t, err)
}
