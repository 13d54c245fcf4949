// Package identifier derives short, deterministic, content-addressed
// identifiers for record payloads.
package identifier

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"
)

const (
	DefaultMinLen = 8
	DefaultMaxLen = 32

	suffixLen      = 4
	suffixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// ExistsFunc reports whether a candidate identifier is already taken.
type ExistsFunc func(ctx context.Context, candidate string) (bool, error)

// Generator tries hash prefixes of increasing length for a free identifier.
type Generator struct {
	MinLen int
	MaxLen int
	// Rand supplies randomness for the fallback suffix. Defaults to crypto/rand.
	Rand io.Reader
}

// New returns a Generator with the default prefix bounds.
func New() *Generator {
	return &Generator{MinLen: DefaultMinLen, MaxLen: DefaultMaxLen}
}

// Hash returns the hex SHA-256 of the payload's canonical form. Keys are
// sorted, so insertion order never affects the result.
func Hash(payload map[string]any) (string, error) {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([][2]any, len(keys))
	for i, k := range keys {
		pairs[i] = [2]any{k, payload[k]}
	}

	seed, err := json.Marshal(pairs)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize payload: %w", err)
	}
	sum := sha256.Sum256(seed)
	return hex.EncodeToString(sum[:]), nil
}

// Ensure returns the shortest hash prefix, between MinLen and MaxLen, that
// exists reports as free. When every prefix collides it returns
// hash[:MaxLen-4] plus a random suffix without checking it again.
func (g *Generator) Ensure(ctx context.Context, payload map[string]any, exists ExistsFunc) (string, error) {
	minLen, maxLen := g.bounds()

	hash, err := Hash(payload)
	if err != nil {
		return "", err
	}

	for n := minLen; n <= maxLen; n++ {
		candidate := hash[:n]
		taken, err := exists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("failed to check identifier %s: %w", candidate, err)
		}
		if !taken {
			return candidate, nil
		}
	}

	suffix, err := g.suffix()
	if err != nil {
		return "", err
	}
	return hash[:maxLen-suffixLen] + suffix, nil
}

func (g *Generator) bounds() (int, int) {
	minLen, maxLen := g.MinLen, g.MaxLen
	if minLen <= 0 {
		minLen = DefaultMinLen
	}
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	if maxLen > sha256.Size*2 {
		maxLen = sha256.Size * 2
	}
	if maxLen < suffixLen {
		maxLen = suffixLen
	}
	if minLen > maxLen {
		minLen = maxLen
	}
	return minLen, maxLen
}

func (g *Generator) suffix() (string, error) {
	r := g.Rand
	if r == nil {
		r = rand.Reader
	}
	buf := make([]byte, suffixLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("failed to read random suffix: %w", err)
	}
	for i, b := range buf {
		buf[i] = suffixAlphabet[int(b)%len(suffixAlphabet)]
	}
	return string(buf), nil
}
