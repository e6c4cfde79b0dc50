package normalize

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type status string

type point struct{ X, Y int }

type panicky struct{}

func (*panicky) String() string { panic("boom") }

func TestValue_Primitives(t *testing.T) {
	for _, v := range []any{nil, true, "s", 1, int8(2), int64(3), uint32(4), 1.5, float32(2.5)} {
		assert.Equal(t, v, Value(v))
	}
}

func TestValue_ContainersArePreserved(t *testing.T) {
	in := map[string]any{
		"rows":  10,
		"name":  "export",
		"ok":    true,
		"list":  []any{1, "two", 3.0, nil},
		"inner": map[string]any{"k": "v"},
	}
	assert.Equal(t, in, Value(in))
}

func TestValue_TimesBecomeUTCStrings(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, loc)

	got, ok := Value(ts).(string)
	require.True(t, ok)
	assert.Equal(t, "2024-03-01T10:00:00Z", got)

	naive := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	got, ok = Value(&naive).(string)
	require.True(t, ok)
	assert.True(t, strings.HasSuffix(got, "Z"), "got %q", got)

	_, err := time.Parse(time.RFC3339Nano, got)
	assert.NoError(t, err)
}

func TestValue_Fallbacks(t *testing.T) {
	assert.Equal(t, "boom", Value(errors.New("boom")))
	assert.Equal(t, "1.5s", Value(1500*time.Millisecond))
	assert.Equal(t, "queued", Value(status("queued")))
	assert.Equal(t, "{1 2}", Value(point{1, 2}))
	assert.Equal(t, "NaN", Value(math.NaN()))
	assert.Equal(t, "+Inf", Value(math.Inf(1)))
	assert.Equal(t, "raw", Value([]byte("raw")))
	assert.Nil(t, Value((*int)(nil)))
	assert.Equal(t, 7, Value(ptr(7)))
}

func TestValue_TypedContainers(t *testing.T) {
	assert.Equal(t, []any{"a", "b"}, Value([]string{"a", "b"}))
	assert.Equal(t, []any{int64(1), int64(2)}, Value([2]status2{1, 2}))
	assert.Equal(t, map[string]any{"a": 1}, Value(map[string]int{"a": 1}))
	assert.Equal(t, "map[1:x]", Value(map[int]string{1: "x"}))
}

type status2 int

func TestValue_NeverPanics(t *testing.T) {
	assert.NotPanics(t, func() {
		got := Value(&panicky{})
		assert.Equal(t, "<*normalize.panicky>", got)
	})

	cyclic := map[string]any{}
	cyclic["self"] = cyclic
	assert.NotPanics(t, func() { Value(cyclic) })
}

func TestValue_AlwaysEncodes(t *testing.T) {
	in := map[string]any{
		"when":  time.Now(),
		"nan":   math.NaN(),
		"err":   errors.New("x"),
		"ch":    make(chan int),
		"fn":    func() {},
		"nums":  []float64{1, math.Inf(-1)},
		"typed": map[string]point{"p": {1, 2}},
	}
	_, err := json.Marshal(Map(in))
	assert.NoError(t, err)
}

func TestMap_NilYieldsEmpty(t *testing.T) {
	got := Map(nil)
	require.NotNil(t, got)
	assert.Empty(t, got)
}

func ptr[T any](v T) *T { return &v }
