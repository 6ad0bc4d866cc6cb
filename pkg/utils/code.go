package utils

import (
	"crypto/rand"
	"math/big"
)

var codeDigits = []byte("0123456789")

// GeneratePairingCode generates a numeric pairing code of the given length.
// Digits are drawn from crypto/rand so codes are not guessable from boot time.
func GeneratePairingCode(length int) string {
	if length <= 0 {
		length = 4
	}
	max := big.NewInt(int64(len(codeDigits)))
	code := make([]byte, length)
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails when the platform source is broken
			code[i] = codeDigits[0]
			continue
		}
		code[i] = codeDigits[n.Int64()]
	}
	return string(code)
}
