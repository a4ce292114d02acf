package ledger

import (
	"crypto/rand"
	"math/big"
)

const charset = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ_-"

// RandomString generates a cryptographically random string of the given
// length. Uses crypto/rand for security.
func RandomString(length int) string {
	b := make([]byte, length)
	max := big.NewInt(int64(len(charset)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			b[i] = charset[0]
			continue
		}
		b[i] = charset[n.Int64()]
	}
	return string(b)
}

// RequestIdentifier generates a 21-character identifier attached to every
// mutating call so the gateway can deduplicate replays.
func RequestIdentifier() string {
	return RandomString(21)
}
