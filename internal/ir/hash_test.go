package ir

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintChangesWithTarget(t *testing.T) {
	g1, _, _ := buildLinearGraph(t)
	g2, _, lin := buildLinearGraph(t)
	require.NoError(t, g2.SetTarget(lin, "sub.other"))

	assert.NotEqual(t, MustFingerprint(g1), MustFingerprint(g2), "different targets should produce different fingerprints")
}

func TestFingerprintChangesWithMeta(t *testing.T) {
	g1, _, _ := buildLinearGraph(t)
	g2, _, lin := buildLinearGraph(t)
	lin.SetMeta("qpolicy", IRString("default"))

	assert.NotEqual(t, MustFingerprint(g1), MustFingerprint(g2), "metadata is part of the fingerprint")
}

func TestFingerprintDomainSeparation(t *testing.T) {
	data := []byte(`{}`)

	graph := hashWithDomain(DomainGraph, data)
	scopes := hashWithDomain(DomainScopeMap, data)

	assert.NotEqual(t, graph, scopes, "same bytes under different domains must not collide")
	assert.Len(t, graph, 64, "SHA-256 hex is 64 characters")
}

func TestFingerprintRejectsNonFinite(t *testing.T) {
	g, x, _ := buildLinearGraph(t)
	_, err := g.InsertAfter(x, NodeSpec{Kind: KindCallFunction, Target: "mul", Args: []Arg{x, IRFloat(math.Inf(1))}})
	require.NoError(t, err)

	_, err = Fingerprint(g)
	assert.Error(t, err)
	assert.Panics(t, func() { MustFingerprint(g) })
}
