// Package id provides centralized ID generation for the backend.
//
// IDs are prefixed ULIDs (term_*, view_*, sub_*, req_*). The generator uses
// monotonic entropy, so IDs issued by one process are strictly increasing and
// an issued ID is never handed out again.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// TerminalID identifies a terminal session
type TerminalID string

// ViewerID identifies one attached viewer connection
type ViewerID string

// SubscriberID identifies a dashboard event subscriber
type SubscriberID string

// RequestID identifies an API request
type RequestID string

const (
	TerminalPrefix   = "term"
	ViewerPrefix     = "view"
	SubscriberPrefix = "sub"
	RequestPrefix    = "req"
)

// Generator generates prefixed ULIDs
type Generator struct {
	mu      sync.Mutex
	entropy io.Reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the process-wide generator
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand with monotonic entropy
func NewGenerator() *Generator {
	return NewGeneratorWithEntropy(rand.Reader)
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
// Useful for testing with deterministic entropy.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{
		entropy: ulid.Monotonic(entropy, 0),
	}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.mu.Lock()
	defer g.mu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewTerminalID generates a new terminal session ID
func NewTerminalID() TerminalID {
	return TerminalID(Default().GenerateWithPrefix(TerminalPrefix))
}

// NewViewerID generates a new viewer connection ID
func NewViewerID() ViewerID {
	return ViewerID(Default().GenerateWithPrefix(ViewerPrefix))
}

// NewSubscriberID generates a new event subscriber ID
func NewSubscriberID() SubscriberID {
	return SubscriberID(Default().GenerateWithPrefix(SubscriberPrefix))
}

// NewRequestID generates a new request ID
func NewRequestID() RequestID {
	return RequestID(Default().GenerateWithPrefix(RequestPrefix))
}

func (id TerminalID) String() string   { return string(id) }
func (id ViewerID) String() string     { return string(id) }
func (id SubscriberID) String() string { return string(id) }
func (id RequestID) String() string    { return string(id) }

// Valid reports whether s has the form <prefix>_<ulid>
func Valid(s, prefix string) bool {
	rest, ok := strings.CutPrefix(s, prefix+"_")
	if !ok {
		return false
	}
	_, err := ulid.ParseStrict(rest)
	return err == nil
}

// Timestamp extracts the creation time from a prefixed ID
func Timestamp(s string) (time.Time, error) {
	i := strings.LastIndexByte(s, '_')
	parsed, err := ulid.ParseStrict(s[i+1:])
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
