package ride

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
)

const pinSpace = 10000

// PINSource mints ride PINs.
type PINSource func() (string, error)

// RandomPIN draws a PIN uniformly from 0000-9999 using the process-wide
// crypto/rand reader.
func RandomPIN() (string, error) {
	return pinFrom(rand.Reader)
}

func pinFrom(r io.Reader) (string, error) {
	n, err := rand.Int(r, big.NewInt(pinSpace))
	if err != nil {
		return "", fmt.Errorf("mint pin: %w", err)
	}
	return fmt.Sprintf("%04d", n.Int64()), nil
}

// ValidPIN reports whether s has the minted shape: exactly four ASCII digits.
func ValidPIN(s string) bool {
	if len(s) != 4 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
