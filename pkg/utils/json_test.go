package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalJSON_SortsKeysAndStripsWhitespace(t *testing.T) {
	raw := []byte(`{
		"zebra": 1,
		"apple": {"beta": true, "alpha": false},
		"mango": [3, 2, 1]
	}`)

	canonical, err := CanonicalJSON(raw)

	require.NoError(t, err)
	assert.Equal(t, `{"apple":{"alpha":false,"beta":true},"mango":[3,2,1],"zebra":1}`, string(canonical))
}

func TestCanonicalJSON_Deterministic(t *testing.T) {
	a := []byte(`{"b":2,"a":1}`)
	b := []byte(`{ "a": 1, "b": 2 }`)

	canonicalA, err := CanonicalJSON(a)
	require.NoError(t, err)
	canonicalB, err := CanonicalJSON(b)
	require.NoError(t, err)

	assert.Equal(t, canonicalA, canonicalB)
}

func TestCanonicalJSON_PreservesLargeIntegers(t *testing.T) {
	// Ids beyond 2^53 must survive re-encoding byte for byte; a float64
	// round-trip would silently rewrite them.
	raw := []byte(`{"orderId":9007199254740993,"shard":-9223372036854775808}`)

	canonical, err := CanonicalJSON(raw)

	require.NoError(t, err)
	assert.Equal(t, `{"orderId":9007199254740993,"shard":-9223372036854775808}`, string(canonical))
}

func TestCanonicalJSON_PreservesDecimalText(t *testing.T) {
	canonical, err := CanonicalJSON([]byte(`{"amount": 10.50}`))

	require.NoError(t, err)
	assert.Equal(t, `{"amount":10.50}`, string(canonical))
}

func TestCanonicalJSON_InvalidInput(t *testing.T) {
	_, err := CanonicalJSON([]byte(`{"a":`))
	assert.Error(t, err)
}

func TestMustMarshalJSON_PanicsOnUnmarshalable(t *testing.T) {
	assert.Panics(t, func() {
		MustMarshalJSON(make(chan int))
	})
}

func TestUnmarshalJSON(t *testing.T) {
	var out map[string]int
	require.NoError(t, UnmarshalJSON([]byte(`{"a":1}`), &out))
	assert.Equal(t, 1, out["a"])
}
