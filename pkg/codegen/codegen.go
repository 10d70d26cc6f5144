// Package codegen generates short random codes that are unique within some
// external namespace (coupon codes, order tracking numbers).
//
// Uniqueness is checked through a caller-supplied lookup. Generation is a
// bounded loop: after MaxAttempts collisions at Length the generator switches
// to FallbackLength, which makes a further collision practically impossible,
// and gives up with ErrExhausted after MaxAttempts more tries.
package codegen

import (
	"context"
	"crypto/rand"
	"math/big"

	"github.com/go-faster/errors"
)

// ErrExhausted is returned when no free code was found within the attempt
// budget.
var ErrExhausted = errors.New("codegen: no free code found")

// DefaultAlphabet omits characters that are easy to confuse when read aloud
// or typed (0/O, 1/I/L).
const DefaultAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// TakenFunc reports whether code is already in use.
type TakenFunc func(ctx context.Context, code string) (bool, error)

// Generator produces random codes of the form Prefix + random suffix.
type Generator struct {
	Prefix         string
	Alphabet       string
	Length         int
	FallbackLength int
	MaxAttempts    int
}

// New returns a Generator with sensible defaults for the given prefix.
func New(prefix string) *Generator {
	return &Generator{
		Prefix:         prefix,
		Alphabet:       DefaultAlphabet,
		Length:         8,
		FallbackLength: 16,
		MaxAttempts:    5,
	}
}

// Generate returns a code for which taken reports false.
func (g *Generator) Generate(ctx context.Context, taken TakenFunc) (string, error) {
	for _, length := range []int{g.Length, g.FallbackLength} {
		for range g.attempts() {
			if err := ctx.Err(); err != nil {
				return "", err
			}
			code, err := g.random(length)
			if err != nil {
				return "", err
			}
			used, err := taken(ctx, code)
			if err != nil {
				return "", errors.Wrap(err, "check code")
			}
			if !used {
				return code, nil
			}
		}
	}
	return "", ErrExhausted
}

func (g *Generator) attempts() int {
	if g.MaxAttempts < 1 {
		return 1
	}
	return g.MaxAttempts
}

func (g *Generator) random(length int) (string, error) {
	alphabet := g.Alphabet
	if alphabet == "" {
		alphabet = DefaultAlphabet
	}
	limit := big.NewInt(int64(len(alphabet)))

	buf := make([]byte, 0, len(g.Prefix)+length)
	buf = append(buf, g.Prefix...)
	for range length {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", errors.Wrap(err, "read random")
		}
		buf = append(buf, alphabet[n.Int64()])
	}
	return string(buf), nil
}
