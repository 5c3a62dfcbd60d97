// Package crypto provides the identity and hashing primitives used by file
// transfers.
//
// # Identities
//
// Peers are identified by the public half of a NaCl crypto_box key pair:
//
//	keys, err := crypto.GenerateKeyPair()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("Public key:", keys.Public)
//
// PublicKey prints as uppercase hexadecimal, the form Tox clients use for file
// names such as avatar paths.
//
// # Content Identifiers
//
// A ContentID is the SHA-256 digest of an entire file. Avatar offers carry the
// sender's ContentID so a receiver can compare it against the avatar it already
// holds and skip the transfer when they match:
//
//	existing, err := crypto.HashFile(fs, path)
//	if err == nil && existing == offered {
//	    // already have it
//	}
package crypto
