package ids

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync/atomic"
)

// Identifier prefixes used across the orchestrator
const (
	RunPrefix      = "run"
	JobRunPrefix   = "jr"
	WorkerPrefix   = "wrk"
	ArtifactPrefix = "art"
	LeasePrefix    = "lease"
)

// Generator produces prefixed unique identifiers such as "run-6f2a91c4d0b37e58".
// The random form is safe for unlimited concurrent use; the sequential form
// exists for deterministic tests.
type Generator struct {
	prefix     string
	counter    int64
	sequential bool
}

// New creates a generator producing random identifiers with the given prefix
func New(prefix string) *Generator {
	return &Generator{prefix: prefix}
}

// NewSequential creates a generator producing deterministic "prefix-1",
// "prefix-2", ... identifiers for tests.
func NewSequential(prefix string) *Generator {
	return &Generator{prefix: prefix, sequential: true}
}

// Next generates the next identifier
func (g *Generator) Next() string {
	if g.sequential {
		return g.nextSequential()
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand is documented never to fail on supported platforms;
		// fall back to the counter rather than panic.
		return g.nextSequential()
	}
	return fmt.Sprintf("%s-%s", g.prefix, hex.EncodeToString(buf[:]))
}

func (g *Generator) nextSequential() string {
	count := atomic.AddInt64(&g.counter, 1)
	return fmt.Sprintf("%s-%d", g.prefix, count)
}

// Reset resets the sequential counter (used for tests)
func (g *Generator) Reset() {
	atomic.StoreInt64(&g.counter, 0)
}
