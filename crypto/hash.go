package crypto

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"

	"github.com/spf13/afero"
)

// ContentIDSize is the length of a content identifier in bytes.
const ContentIDSize = sha256.Size

// ContentID identifies the full contents of a file.
type ContentID [ContentIDSize]byte

// String returns the identifier as lowercase hexadecimal.
func (id ContentID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether the identifier is unset.
func (id ContentID) IsZero() bool {
	return id == ContentID{}
}

// Equal compares two identifiers.
func (id ContentID) Equal(other ContentID) bool {
	return bytes.Equal(id[:], other[:])
}

// Hash computes the content identifier of data.
func Hash(data []byte) ContentID {
	return ContentID(sha256.Sum256(data))
}

// HashReader computes the content identifier of everything read from r.
func HashReader(r io.Reader) (ContentID, error) {
	var id ContentID

	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return id, err
	}

	copy(id[:], h.Sum(nil))
	return id, nil
}

// HashFile computes the content identifier of the file at path on fs.
func HashFile(fs afero.Fs, path string) (ContentID, error) {
	f, err := fs.Open(path)
	if err != nil {
		return ContentID{}, err
	}
	defer f.Close()

	return HashReader(f)
}
