package utils

import (
	"crypto/rand"
	"math/big"

	"github.com/google/uuid"
)

const sessionIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
const sessionIDLength = 12

// GenerateSessionID generates a short session identifier: 12 lowercase
// letters and digits. Session IDs appear in URLs and logs, so they stay
// short and case-insensitive.
func GenerateSessionID() string {
	b := make([]byte, sessionIDLength)
	max := big.NewInt(int64(len(sessionIDAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand failure is unrecoverable
			panic(err)
		}
		b[i] = sessionIDAlphabet[n.Int64()]
	}
	return string(b)
}

// GenerateEndpointID generates a unique endpoint identifier
func GenerateEndpointID() string {
	return uuid.NewString()
}
