package jsonsafe

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type node struct {
	Name string `json:"name"`
	Next *node  `json:"next,omitempty"`
	Skip string `json:"-"`
}

type envelope struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Err     error             `json:"error"`
	Hook    func()            `json:"hook"`
	secret  string
}

func TestSanitizeBreaksCycles(t *testing.T) {
	a := &node{Name: "a"}
	b := &node{Name: "b", Next: a}
	a.Next = b

	out := Sanitize(a)

	_, err := json.Marshal(out)
	require.NoError(t, err)

	m := out.(map[string]any)
	assert.Equal(t, "a", m["name"])
	next := m["next"].(map[string]any)
	assert.Equal(t, "b", next["name"])
	assert.Equal(t, cycleMarker, next["next"])
}

func TestSanitizeRepeatedPointerIsNotACycle(t *testing.T) {
	shared := &node{Name: "shared"}
	out := Sanitize([]*node{shared, shared}).([]any)

	require.Len(t, out, 2)
	assert.Equal(t, out[0], out[1])
	assert.Equal(t, "shared", out[1].(map[string]any)["name"])
}

type reading struct {
	N int
}

type gauge struct {
	Current reading
	Last    *reading
}

func TestSanitizePointerToFirstFieldIsNotACycle(t *testing.T) {
	g := &gauge{Current: reading{N: 7}}
	g.Last = &g.Current

	out := Sanitize(g).(map[string]any)
	assert.Equal(t, map[string]any{"N": int64(7)}, out["Current"])
	assert.Equal(t, map[string]any{"N": int64(7)}, out["Last"])
}

func TestSanitizeStructFields(t *testing.T) {
	out := Sanitize(envelope{
		Status:  418,
		Headers: map[string]string{"x-teapot": "yes"},
		Err:     errors.New("short and stout"),
		Hook:    func() {},
		secret:  "hidden",
	}).(map[string]any)

	assert.Equal(t, int64(418), out["status"])
	assert.Equal(t, map[string]any{"x-teapot": "yes"}, out["headers"])
	assert.Equal(t, "short and stout", out["error"])
	assert.Equal(t, "func()", out["hook"])
	assert.NotContains(t, out, "secret")

	_, err := json.Marshal(out)
	require.NoError(t, err)
}

func TestSanitizeSkipsTaggedFields(t *testing.T) {
	out := Sanitize(node{Name: "n", Skip: "x"}).(map[string]any)
	assert.Equal(t, map[string]any{"name": "n"}, out)
}

func TestSanitizeScalars(t *testing.T) {
	assert.Nil(t, Sanitize(nil))
	assert.Equal(t, "hi", Sanitize("hi"))
	assert.Equal(t, true, Sanitize(true))
	assert.Equal(t, 1.5, Sanitize(1.5))
	assert.Equal(t, "(1+2i)", Sanitize(complex(1, 2)))
	assert.Nil(t, Sanitize((*node)(nil)))
}

func TestSanitizeSelfReferencingMap(t *testing.T) {
	m := map[string]any{"k": 1}
	m["self"] = m

	out := Sanitize(m).(map[string]any)
	assert.Equal(t, cycleMarker, out["self"])
	_, err := json.Marshal(out)
	require.NoError(t, err)
}

type brokenMarshaler struct{}

func (brokenMarshaler) MarshalJSON() ([]byte, error) {
	return nil, errors.New("boom")
}

func TestSanitizeSuppressesNodeMarshalErrors(t *testing.T) {
	out := Sanitize(map[string]any{"ok": 1, "broken": brokenMarshaler{}}).(map[string]any)

	assert.Nil(t, out["broken"])
	assert.Equal(t, int64(1), out["ok"])
}
