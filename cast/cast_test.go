package cast

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToBoolean(t *testing.T) {
	assert.Equal(t, false, Value("0", Options{Type: TypeBoolean}))
	assert.Equal(t, false, Value("", Options{Type: TypeBoolean}))
	assert.Equal(t, true, Value("false", Options{Type: TypeBoolean}))
	assert.Equal(t, true, Value(1, Options{Type: TypeBoolean}))
}

func TestToIntInvalidIsNaN(t *testing.T) {
	got := Value("not-a-number", Options{Type: TypeInt})
	f, ok := got.(float64)
	require.True(t, ok)
	assert.True(t, math.IsNaN(f))
}

func TestMultiValuedAcceptsNullScalarList(t *testing.T) {
	opts := Options{Type: TypeInt, MultiValued: true}

	assert.Equal(t, []any{}, Value(nil, opts))
	assert.Equal(t, []any{1}, Value(1, opts))
	assert.Equal(t, []any{1, 2}, Value([]any{1, 2}, opts))
}

func TestDelimiterSplitsBeforeMultiValued(t *testing.T) {
	opts := Options{Type: TypeString, Delimiter: ","}
	got := Value("a,b,c", opts)
	assert.Equal(t, []any{"a", "b", "c"}, got)
}

func TestDatetimeTimezoneConversion(t *testing.T) {
	opts := Options{
		Type:       TypeDatetime,
		StoredType: StoredType{Type: "datetime", Options: map[string]string{"timezone": "Europe/Berlin"}},
		OutputTZ:   time.UTC,
	}

	got := Value("2015-03-03 15:00:00", opts)
	assert.Equal(t, "2015-03-03T14:00:00.000Z", got)
}

func TestZeroDateBecomesNull(t *testing.T) {
	opts := Options{Type: TypeDatetime, StoredType: StoredType{Type: "datetime"}}
	assert.Nil(t, Value("0000-00-00 00:00:00", opts))
}

func TestUnixtimeTarget(t *testing.T) {
	opts := Options{Type: TypeUnixtime, StoredType: StoredType{Type: "datetime"}, OutputTZ: time.UTC}
	got := Value("1970-01-01 00:00:10", opts)
	assert.EqualValues(t, int64(10), got)
}

func TestUnixtimeStoredType(t *testing.T) {
	opts := Options{Type: TypeDatetime, StoredType: StoredType{Type: "unixtime"}, OutputTZ: time.UTC}
	got := Value(int64(10), opts)
	assert.Equal(t, "1970-01-01T00:00:10.000Z", got)
}

func TestObjectFromStoredJSON(t *testing.T) {
	opts := Options{Type: TypeObject, StoredType: StoredType{Type: "json"}}
	got := Value(`{"a":1}`, opts)
	assert.Equal(t, map[string]any{"a": 1.0}, got)
}

func TestObjectInvalidStoredTypeIsNull(t *testing.T) {
	opts := Options{Type: TypeObject, StoredType: StoredType{Type: "string"}}
	assert.Nil(t, Value("x", opts))
}

func TestJSONSerializesWhenNotStoredAsJSON(t *testing.T) {
	opts := Options{Type: TypeJSON, StoredType: StoredType{Type: "object"}}
	got := Value(map[string]any{"a": 1}, opts)
	assert.Equal(t, `{"a":1}`, got)
}

func TestRawPassthrough(t *testing.T) {
	v := []int{1, 2, 3}
	assert.Equal(t, any(v), Value(v, Options{Type: TypeRaw}))
}

func TestParseStoredTypeOptions(t *testing.T) {
	st := ParseStoredType("datetime(timezone=Europe/Berlin;precision=3)")
	assert.Equal(t, "datetime", st.Type)
	assert.Equal(t, "Europe/Berlin", st.Options["timezone"])
	assert.Equal(t, "3", st.Options["precision"])
}

func TestParseStoredTypeNoOptions(t *testing.T) {
	st := ParseStoredType("int")
	assert.Equal(t, "int", st.Type)
	assert.Nil(t, st.Options)
}

func TestRoundTripIdempotentWithinRange(t *testing.T) {
	opts := Options{
		Type:       TypeDatetime,
		StoredType: StoredType{Type: "datetime"},
		OutputTZ:   time.UTC,
	}
	first := Value("2020-06-15 10:30:00", opts)
	second := Value(first, opts)
	assert.Equal(t, first, second)
}
