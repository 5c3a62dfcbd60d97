package crypto

// Known SHA-256 vectors.
const (
	emptyDigest = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	abcDigest   = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
)

const testKeyHex = "76518406f6a9f2217e8dc487cc783c25cc16a15eb36ff32e335a235342c48a39"
