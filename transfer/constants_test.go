package transfer

import (
	"math/rand"
	"path"

	"github.com/opd-ai/toxfile/crypto"
)

// Test identifiers.
const (
	testFriendID      = 7
	testFileNumber    = 3
	testReceiveNumber = 1 << 16
)

// Test paths.
const (
	testProfileDir = "/profile"
	testSourcePath = "/data/source.bin"
	testDestPath   = "/downloads/dest.bin"
)

// Common test sizes.
const (
	testFileSize1KB = 1024
	testChunkSize   = 100
)

// testPeerKey is a fixed friend public key.
var testPeerKey = crypto.PublicKey{
	0x76, 0x51, 0x84, 0x06, 0xf6, 0xa9, 0xf2, 0x21,
	0x7e, 0x8d, 0xc4, 0x87, 0xcc, 0x78, 0x3c, 0x25,
	0xcc, 0x16, 0xa1, 0x5e, 0xb3, 0x6f, 0xf3, 0x2e,
	0x33, 0x5a, 0x23, 0x53, 0x42, 0xc4, 0x8a, 0x39,
}

// testAvatarPaths lays avatars out under testProfileDir.
var testAvatarPaths = AvatarPathFunc(func(pk crypto.PublicKey) string {
	return path.Join(testProfileDir, "avatars", pk.String()+".png")
})

// testContent returns n deterministic pseudo-random bytes.
func testContent(n int, seed int64) []byte {
	rng := rand.New(rand.NewSource(seed))
	out := make([]byte, n)
	rng.Read(out)
	return out
}
