package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed fingerprints.
// Version suffix enables future algorithm migration.
const (
	DomainGraph    = "fxq/graph/v1"
	DomainScopeMap = "fxq/scopes/v1"
)

// hashWithDomain computes SHA-256 with domain separation:
// SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint computes the content-addressed identity of a graph.
// Two graphs with the same nodes, names, edges and metadata in the same
// order share a fingerprint.
func Fingerprint(g *Graph) (string, error) {
	data, err := MarshalGraph(g)
	if err != nil {
		return "", fmt.Errorf("Fingerprint: %w", err)
	}
	return hashWithDomain(DomainGraph, data), nil
}

// ScopeMapHash computes the content-addressed identity of a scope map.
func ScopeMapHash(m *ScopeMap) (string, error) {
	data, err := MarshalScopeMap(m)
	if err != nil {
		return "", fmt.Errorf("ScopeMapHash: %w", err)
	}
	return hashWithDomain(DomainScopeMap, data), nil
}

// MustFingerprint is like Fingerprint but panics on error.
// Use only in tests or when the graph is known to hold finite literals.
func MustFingerprint(g *Graph) string {
	fp, err := Fingerprint(g)
	if err != nil {
		panic(err)
	}
	return fp
}
