package reference

import (
	"fmt"
	"time"

	"github.com/jaevor/go-nanoid"
)

const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// Generator produces human-readable references such as DEP-20260301-7K2QXA.
type Generator struct {
	prefix string
	random func() string
}

// New returns a generator with length random upper-case base36 characters.
func New(prefix string, length int) (*Generator, error) {
	random, err := nanoid.CustomASCII(alphabet, length)
	if err != nil {
		return nil, fmt.Errorf("reference generator: %w", err)
	}
	return &Generator{prefix: prefix, random: random}, nil
}

// MustNew is New for package-level wiring with constant arguments.
func MustNew(prefix string, length int) *Generator {
	g, err := New(prefix, length)
	if err != nil {
		panic(err)
	}
	return g
}

// Next formats PREFIX-YYYYMMDD-RANDOM using the UTC date of now.
func (g *Generator) Next(now time.Time) string {
	return g.prefix + "-" + now.UTC().Format("20060102") + "-" + g.random()
}
