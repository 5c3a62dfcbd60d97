// Package limits provides centralized size constants and validation functions
// for file transfers. Every component that accepts sizes or names from a peer
// validates them here so the bounds are enforced consistently.
//
// # Size Limits
//
//   - MaxChunkSize (65536 bytes): the largest chunk accepted or produced in a
//     single transport callback. Larger chunks are rejected with
//     ErrChunkTooLarge to bound per-callback memory.
//
//   - MaxFileNameLength (255 bytes): the longest file name announced to a peer,
//     matching typical filesystem limits.
//
//   - MaxAvatarSize (512 KiB): the largest avatar a peer may offer. Offers above
//     this size are cancelled before any chunk is requested.
//
//   - MaxBufferSize (64 MiB): the most data a file received into memory may
//     hold. Chunks ending past it are rejected with ErrBufferTooLarge whatever
//     size the peer declared.
//
// # Validation Functions
//
//	if err := limits.ValidateChunk(data); err != nil {
//	    // errors.Is(err, limits.ErrChunkTooLarge)
//	}
//
// Errors wrap the package sentinels with the offending and permitted sizes, so
// callers match with errors.Is and still get a useful message.
package limits
