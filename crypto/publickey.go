package crypto

import (
	"encoding/hex"
	"errors"
	"strings"
)

// PublicKeySize is the length of a peer public key in bytes.
const PublicKeySize = 32

// ErrInvalidPublicKey indicates a malformed public key string.
var ErrInvalidPublicKey = errors.New("invalid public key")

// PublicKey is a peer's long-term public key.
type PublicKey [PublicKeySize]byte

// String returns the key as uppercase hexadecimal.
func (pk PublicKey) String() string {
	return strings.ToUpper(hex.EncodeToString(pk[:]))
}

// IsZero reports whether the key is unset.
func (pk PublicKey) IsZero() bool {
	return isZeroKey(pk)
}

// ParsePublicKey parses a 64-character hexadecimal public key. Case is ignored.
// A full 76-character Tox ID is also accepted; its nospam and checksum are
// discarded.
func ParsePublicKey(s string) (PublicKey, error) {
	var pk PublicKey

	s = strings.TrimSpace(s)
	if len(s) == 76 {
		s = s[:64]
	}
	if len(s) != 2*PublicKeySize {
		return pk, ErrInvalidPublicKey
	}

	data, err := hex.DecodeString(s)
	if err != nil {
		return pk, ErrInvalidPublicKey
	}

	copy(pk[:], data)
	return pk, nil
}
