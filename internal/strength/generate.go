package strength

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const (
	MinLength     = 8
	MaxLength     = 64
	DefaultLength = 16
)

// Options selects the character classes of a generated password.
// Lowercase letters are always included.
type Options struct {
	Length    int
	Uppercase bool
	Digits    bool
	Special   bool
}

// DefaultOptions enables every class at DefaultLength.
var DefaultOptions = Options{Length: DefaultLength, Uppercase: true, Digits: true, Special: true}

// Generate draws a password from crypto/rand. Length is clamped to
// [MinLength, MaxLength]. The result contains at least one character of
// every selected class; draws missing a class are discarded and retried.
func Generate(opts Options) (string, error) {
	length := min(max(opts.Length, MinLength), MaxLength)

	required := []string{lowercase}
	if opts.Uppercase {
		required = append(required, uppercase)
	}
	if opts.Digits {
		required = append(required, digits)
	}
	if opts.Special {
		required = append(required, special)
	}
	pool := strings.Join(required, "")

	for {
		pw, err := draw(pool, length)
		if err != nil {
			return "", err
		}
		if hasAll(pw, required) {
			return pw, nil
		}
	}
}

func draw(pool string, length int) (string, error) {
	out := make([]byte, length)
	n := big.NewInt(int64(len(pool)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, n)
		if err != nil {
			return "", fmt.Errorf("generate password: %w", err)
		}
		out[i] = pool[idx.Int64()]
	}
	return string(out), nil
}

func hasAll(pw string, sets []string) bool {
	for _, set := range sets {
		if !strings.ContainsAny(pw, set) {
			return false
		}
	}
	return true
}
