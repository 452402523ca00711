// Package idgen provides pluggable ID generation for rivalwatch entities.
//
// Stores and the pipeline accept a Generator so the ID strategy is chosen at
// startup. The default is UUIDv7: time-sortable, which keeps snapshot history
// ordered by insertion even when two captures share a millisecond.
package idgen

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed wraps a Generator and prepends a fixed prefix to every ID.
// rivalwatch uses "tgt_", "snp_", "chg_" and "scn_".
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Sequence returns a deterministic Generator ("<prefix>1", "<prefix>2", ...).
// Intended for tests.
func Sequence(prefix string) Generator {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("%s%d", prefix, n.Add(1))
	}
}

// Default is the process-wide generator.
var Default Generator = UUIDv7()

// New produces an ID using the Default generator.
func New() string {
	return Default()
}

// Parse validates a UUID string, accepting an optional entity prefix
// ("snp_0190..."). It returns the input unchanged when valid.
func Parse(s string) (string, error) {
	raw := s
	if i := len(s) - 36; i > 0 {
		raw = s[i:]
	}
	if _, err := uuid.Parse(raw); err != nil {
		return "", fmt.Errorf("invalid id %q: %w", s, err)
	}
	return s, nil
}
