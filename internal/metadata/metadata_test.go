package metadata

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTripObject(t *testing.T) {
	v := Object(map[string]Value{
		"source":     String("import"),
		"confidence": Number(0.75),
		"verified":   Bool(true),
		"tags":       Array([]Value{String("a"), String("b")}),
		"nested":     Object(map[string]Value{"k": Null()}),
	})

	data, err := json.Marshal(v)
	require.NoError(t, err)

	var decoded Value
	require.NoError(t, json.Unmarshal(data, &decoded))

	fields, ok := decoded.AsObject()
	require.True(t, ok)

	source, ok := fields["source"].AsString()
	assert.True(t, ok)
	assert.Equal(t, "import", source)

	conf, ok := fields["confidence"].AsNumber()
	assert.True(t, ok)
	assert.Equal(t, 0.75, conf)

	verified, ok := fields["verified"].AsBool()
	assert.True(t, ok)
	assert.True(t, verified)

	tags, ok := fields["tags"].AsArray()
	assert.True(t, ok)
	assert.Len(t, tags, 2)

	nested, ok := fields["nested"].AsObject()
	assert.True(t, ok)
	assert.True(t, nested["k"].IsNull())
}

func TestNullMarshalsToJSONNull(t *testing.T) {
	data, err := json.Marshal(Null())
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))
}

func TestToAnyConvertsArrayToPlainValues(t *testing.T) {
	v := Array([]Value{Number(1), String("x"), Bool(false)})
	any := v.ToAny()
	items, ok := any.([]interface{})
	require.True(t, ok)
	require.Len(t, items, 3)
	assert.Equal(t, float64(1), items[0])
	assert.Equal(t, "x", items[1])
	assert.Equal(t, false, items[2])
}
