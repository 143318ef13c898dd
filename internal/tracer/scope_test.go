package tracer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fxq/internal/ir"
)

func TestScopeTracker_EnterRelease(t *testing.T) {
	s := NewScopeTracker(0)
	assert.Equal(t, ir.RootScope, s.Current())

	outer, err := s.Enter("sub", "test.Sub")
	require.NoError(t, err)
	assert.Equal(t, ir.Scope{Path: "sub", Type: "test.Sub"}, s.Current())

	inner, err := s.Enter("sub.inner", "test.Inner")
	require.NoError(t, err)
	assert.Equal(t, 2, s.Depth())

	inner.Release()
	assert.Equal(t, ir.Scope{Path: "sub", Type: "test.Sub"}, s.Current())

	outer.Release()
	assert.Equal(t, ir.RootScope, s.Current())
	assert.Equal(t, 0, s.Depth())
}

func TestScopeTracker_ReleaseOnPanic(t *testing.T) {
	s := NewScopeTracker(0)

	func() {
		defer func() { _ = recover() }()
		g, err := s.Enter("a", "test.A")
		require.NoError(t, err)
		defer g.Release()
		panic("boom")
	}()

	assert.Equal(t, ir.RootScope, s.Current())
	assert.Equal(t, 0, s.Depth())
}

func TestScopeTracker_MisuseIsFatal(t *testing.T) {
	t.Run("double release", func(t *testing.T) {
		s := NewScopeTracker(0)
		g, err := s.Enter("a", "test.A")
		require.NoError(t, err)
		g.Release()
		assert.Panics(t, g.Release)
	})

	t.Run("out of order", func(t *testing.T) {
		s := NewScopeTracker(0)
		outer, err := s.Enter("a", "test.A")
		require.NoError(t, err)
		_, err = s.Enter("a.b", "test.B")
		require.NoError(t, err)
		assert.Panics(t, outer.Release)
	})
}

func TestScopeTracker_MaxDepth(t *testing.T) {
	s := NewScopeTracker(1)

	g, err := s.Enter("a", "test.A")
	require.NoError(t, err)

	_, err = s.Enter("a.b", "test.B")
	assert.Error(t, err)
	assert.Equal(t, ir.Scope{Path: "a", Type: "test.A"}, s.Current(), "failed enter must not change the scope")

	g.Release()
	assert.Equal(t, ir.RootScope, s.Current())
}
