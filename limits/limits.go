package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxChunkSize is the maximum chunk length accepted in one callback.
	MaxChunkSize = 65536

	// DefaultChunkSize is the chunk length requested by transports that do not
	// choose their own. It matches the Tox maximum data payload.
	DefaultChunkSize = 1371

	// MaxFileNameLength is the maximum announced file name length in bytes.
	MaxFileNameLength = 255

	// MaxAvatarSize is the largest avatar a peer may send (512 KiB).
	MaxAvatarSize = 512 * 1024

	// MaxBufferSize bounds a file received into memory (64 MiB). Files
	// received to disk have no such limit.
	MaxBufferSize = 64 * 1024 * 1024
)

var (
	// ErrChunkTooLarge indicates that a chunk exceeds MaxChunkSize.
	ErrChunkTooLarge = errors.New("chunk size exceeds maximum allowed")

	// ErrFileNameTooLong indicates that a file name exceeds MaxFileNameLength.
	ErrFileNameTooLong = errors.New("file name too long")

	// ErrAvatarTooLarge indicates an avatar offer above the configured maximum.
	ErrAvatarTooLarge = errors.New("avatar size exceeds maximum allowed")

	// ErrBufferTooLarge indicates in-memory data past MaxBufferSize.
	ErrBufferTooLarge = errors.New("buffer size exceeds maximum allowed")
)

// ValidateChunkLength checks a requested or delivered chunk length.
func ValidateChunkLength(length int) error {
	if length > MaxChunkSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrChunkTooLarge, length, MaxChunkSize)
	}
	return nil
}

// ValidateChunk checks the length of a delivered chunk. Empty chunks are
// valid: they signal end of stream.
func ValidateChunk(data []byte) error {
	return ValidateChunkLength(len(data))
}

// ValidateFileName checks an announced file name against MaxFileNameLength.
func ValidateFileName(name string) error {
	if len(name) > MaxFileNameLength {
		return fmt.Errorf("%w: length %d exceeds limit %d", ErrFileNameTooLong, len(name), MaxFileNameLength)
	}
	return nil
}

// ValidateAvatarSize checks a declared avatar size against max. A zero max
// falls back to MaxAvatarSize.
func ValidateAvatarSize(size, max uint64) error {
	if max == 0 {
		max = MaxAvatarSize
	}
	if size > max {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrAvatarTooLarge, size, max)
	}
	return nil
}

// ValidateBufferSize checks a declared size or write end of an in-memory
// transfer against MaxBufferSize.
func ValidateBufferSize(size uint64) error {
	if size > MaxBufferSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrBufferTooLarge, size, MaxBufferSize)
	}
	return nil
}
