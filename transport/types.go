package transport

import (
	"errors"

	"github.com/opd-ai/toxfile/crypto"
)

var (
	// ErrFriendNotFound indicates the friend ID is unknown to the transport.
	ErrFriendNotFound = errors.New("friend not found")

	// ErrFriendNotConnected indicates the friend is known but offline.
	ErrFriendNotConnected = errors.New("friend not connected")

	// ErrFileNotFound indicates the file number is unknown to the transport.
	ErrFileNotFound = errors.New("file transfer not found")

	// ErrFileNotTransferring indicates a chunk was sent for a file that is
	// not accepted yet or is paused.
	ErrFileNotTransferring = errors.New("file transfer not transferring")

	// ErrAlreadyPaused indicates a pause for a transfer already paused locally.
	ErrAlreadyPaused = errors.New("file transfer already paused")

	// ErrNotPaused indicates a resume for a transfer not paused locally.
	ErrNotPaused = errors.New("file transfer not paused")

	// ErrPacketTooShort indicates a truncated packet payload.
	ErrPacketTooShort = errors.New("packet too short")
)

// FileKind distinguishes ordinary files from avatars.
type FileKind uint32

const (
	// FileKindData is an ordinary file.
	FileKindData FileKind = iota
	// FileKindAvatar is a peer's avatar image.
	FileKindAvatar
)

// String returns a readable name for the kind.
func (k FileKind) String() string {
	switch k {
	case FileKindData:
		return "data"
	case FileKindAvatar:
		return "avatar"
	default:
		return "unknown"
	}
}

// FileControl represents a file transfer control action.
type FileControl uint8

const (
	FileControlResume FileControl = iota
	FileControlPause
	FileControlCancel
)

// String returns a readable name for the control.
func (c FileControl) String() string {
	switch c {
	case FileControlResume:
		return "resume"
	case FileControlPause:
		return "pause"
	case FileControlCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// FileTransport is the set of transport operations a file transfer needs.
type FileTransport interface {
	// FileSend announces an outgoing file and returns its file number.
	FileSend(friendID uint32, kind FileKind, fileSize uint64, fileID crypto.ContentID, fileName string) (uint32, error)

	// FileSendChunk sends data at position for an outgoing file.
	FileSendChunk(friendID, fileNumber uint32, position uint64, data []byte) error

	// FileControl sends a control signal for a file in either direction.
	FileControl(friendID, fileNumber uint32, control FileControl) error

	// FileGetFileID returns the content identifier announced for a file.
	FileGetFileID(friendID, fileNumber uint32) (crypto.ContentID, error)
}

// PacketHandler processes a packet received from, or concerning, friendID.
type PacketHandler func(friendID uint32, packet *Packet) error

// Registrar accepts packet handlers.
type Registrar interface {
	RegisterHandler(packetType PacketType, handler PacketHandler)
}
