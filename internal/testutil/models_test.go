package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fxq/internal/nn"
)

func TestNestedBlocks_Depth(t *testing.T) {
	root := NestedBlocks(3)

	var paths []string
	for _, n := range nn.NamedModules(root) {
		paths = append(paths, n.Path)
	}
	assert.Equal(t, []string{"", "inner", "inner.inner", "inner.inner.inner"}, paths)

	leaf, ok := nn.Lookup(root, "inner.inner.inner")
	require.True(t, ok)
	assert.Equal(t, nn.TypeLinear, leaf.Type())
}

func TestWithUnit_Layout(t *testing.T) {
	root := WithUnit()

	unit, ok := nn.Lookup(root, "unit")
	require.True(t, ok)
	assert.Equal(t, TypeBlock, unit.Type())
	_, ok = nn.Lookup(root, "unit.inner")
	assert.True(t, ok)
}
