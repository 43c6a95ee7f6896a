package room

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
)

const (
	CodeLength   = 6
	codeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	// largest multiple of len(codeAlphabet) that fits in a byte
	codeByteLimit = 252
)

// Generator produces candidate room codes. Uniqueness is not its job: the
// registry regenerates on collision with a live code.
type Generator interface {
	Generate() (string, error)
}

// RandomGenerator draws codes from Reader, or crypto/rand when Reader is nil.
type RandomGenerator struct {
	Reader io.Reader
}

func (g RandomGenerator) Generate() (string, error) {
	src := g.Reader
	if src == nil {
		src = rand.Reader
	}

	code := make([]byte, 0, CodeLength)
	buf := make([]byte, CodeLength*2)
	for len(code) < CodeLength {
		if _, err := io.ReadFull(src, buf); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		for _, b := range buf {
			if b >= codeByteLimit {
				continue
			}
			code = append(code, codeAlphabet[int(b)%len(codeAlphabet)])
			if len(code) == CodeLength {
				break
			}
		}
	}
	return string(code), nil
}

// NormalizeCode trims and uppercases a code typed by a person.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func ValidCode(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(codeAlphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}
