package identity

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestJoinCreatesViewer(t *testing.T) {
	r := NewReconciler()

	res := r.Join("c1", "v1", "Alice", t0)
	assert.False(t, res.Rebound)
	assert.Equal(t, "c1", res.Viewer.ConnectionID)
	assert.Equal(t, "v1", res.Viewer.VisitorID)
	assert.Equal(t, "Alice", res.Viewer.Name)
	assert.Equal(t, t0, res.Viewer.JoinedAt)
	assert.Equal(t, 1, r.Len())
}

func TestRepeatedJoinsKeepOneViewerPerVisitor(t *testing.T) {
	r := NewReconciler()

	for i := 0; i < 10; i++ {
		r.Join(fmt.Sprintf("c%d", i), "v1", "Alice", t0.Add(time.Duration(i)*time.Second))
	}
	r.Join("x", "v2", "Bob", t0)

	require.Equal(t, 2, r.Len())
	viewers := r.Viewers()
	assert.Equal(t, "v1", viewers[0].VisitorID)
	assert.Equal(t, "c9", viewers[0].ConnectionID)
	assert.Equal(t, t0, viewers[0].JoinedAt)
	assert.Equal(t, 10, r.Connections("v1"))
}

func TestRebindWithNewName(t *testing.T) {
	r := NewReconciler()
	r.Join("c1", "v1", "Alice", t0)

	res := r.Join("c2", "v1", "Alicia", t0)
	assert.True(t, res.Rebound)
	assert.True(t, res.Renamed())
	assert.Equal(t, "Alice", res.OldName)
	assert.Equal(t, "Alicia", res.Viewer.Name)

	res = r.Join("c3", "v1", "Alicia", t0)
	assert.True(t, res.Rebound)
	assert.False(t, res.Renamed())
}

func TestLeaveWithSurvivorKeepsViewer(t *testing.T) {
	r := NewReconciler()
	r.Join("c1", "v1", "Alice", t0)
	r.Join("c2", "v1", "Alice", t0)

	res, err := r.Leave("c2")
	require.NoError(t, err)
	assert.False(t, res.Removed)
	assert.Equal(t, "c1", res.Survivor)

	v, ok := r.Visitor("v1")
	require.True(t, ok)
	assert.Equal(t, "c1", v.ConnectionID)

	res, err = r.Leave("c1")
	require.NoError(t, err)
	assert.True(t, res.Removed)
	assert.Equal(t, 0, r.Len())
}

func TestLeaveUnknownConnection(t *testing.T) {
	r := NewReconciler()
	_, err := r.Leave("nope")
	assert.ErrorIs(t, err, ErrUnknownConnection)
}

func TestJoinLeaveJoinRoundTrip(t *testing.T) {
	r := NewReconciler()
	r.Join("A", "v1", "Alice", t0)
	_, err := r.Leave("A")
	require.NoError(t, err)
	res := r.Join("A", "v1", "Alice", t0)

	assert.False(t, res.Rebound)
	viewers := r.Viewers()
	require.Len(t, viewers, 1)
	assert.Equal(t, "Alice", viewers[0].Name)
	assert.Equal(t, "v1", viewers[0].VisitorID)
}

func TestEmptyVisitorFallsBackToConnection(t *testing.T) {
	r := NewReconciler()
	r.Join("c1", "", "Anon", t0)
	r.Join("c2", "", "Anon", t0)

	assert.Equal(t, 2, r.Len())
	v, ok := r.Lookup("c2")
	require.True(t, ok)
	assert.Equal(t, "c2", v.VisitorID)
}

func TestRename(t *testing.T) {
	r := NewReconciler()
	r.Join("c1", "v1", "Alice", t0)

	v, old, err := r.Rename("c1", "Al")
	require.NoError(t, err)
	assert.Equal(t, "Alice", old)
	assert.Equal(t, "Al", v.Name)

	_, _, err = r.Rename("c9", "x")
	assert.ErrorIs(t, err, ErrUnknownConnection)
}

func TestViewersPreserveJoinOrderAfterRemoval(t *testing.T) {
	r := NewReconciler()
	r.Join("a", "va", "A", t0)
	r.Join("b", "vb", "B", t0)
	r.Join("c", "vc", "C", t0)
	_, err := r.Leave("b")
	require.NoError(t, err)

	var names []string
	for _, v := range r.Viewers() {
		names = append(names, v.Name)
	}
	assert.Equal(t, []string{"A", "C"}, names)
}
