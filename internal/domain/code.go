package domain

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// CodeAlphabet excludes look-alike characters: I, O, 0, 1.
const CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// DefaultCodeLength gives 32^6 = 2^30 possible codes.
const DefaultCodeLength = 6

// GenerateCode returns a random room code of length n.
func GenerateCode(n int) (string, error) {
	if n <= 0 {
		n = DefaultCodeLength
	}
	code := make([]byte, n)
	max := big.NewInt(int64(len(CodeAlphabet)))
	for i := range code {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		code[i] = CodeAlphabet[idx.Int64()]
	}
	return string(code), nil
}

// NormalizeCode turns user input into registry form.
func NormalizeCode(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}
