package transfer

import "github.com/opd-ai/toxfile/transport"

// TransferState represents the current state of a file transfer.
type TransferState uint8

const (
	// TransferStateRunning indicates the transfer is in progress.
	TransferStateRunning TransferState = iota
	// TransferStatePaused indicates the transfer is temporarily paused.
	TransferStatePaused
	// TransferStateCanceled indicates the transfer was cancelled by either side.
	TransferStateCanceled
	// TransferStateFinished indicates every byte was transferred.
	TransferStateFinished
)

// String returns a readable name for the state.
func (s TransferState) String() string {
	switch s {
	case TransferStateRunning:
		return "running"
	case TransferStatePaused:
		return "paused"
	case TransferStateCanceled:
		return "canceled"
	case TransferStateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further chunk or control operation is valid.
func (s TransferState) IsTerminal() bool {
	return s == TransferStateCanceled || s == TransferStateFinished
}

// stateForControl maps a control signal to the state it produces.
func stateForControl(c transport.FileControl) TransferState {
	switch c {
	case transport.FileControlPause:
		return TransferStatePaused
	case transport.FileControlCancel:
		return TransferStateCanceled
	default:
		return TransferStateRunning
	}
}

// Kind identifies the direction and backing store of a transfer.
type Kind uint8

const (
	// KindSendFile reads from a file opened for reading.
	KindSendFile Kind = iota
	// KindSendBuffer reads from an immutable in-memory buffer.
	KindSendBuffer
	// KindReceiveFile writes to a file.
	KindReceiveFile
	// KindReceiveBuffer writes to an in-memory buffer.
	KindReceiveBuffer
	// KindReceiveAvatar writes a peer's avatar after deduplication.
	KindReceiveAvatar
)

// String returns a readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindSendFile:
		return "send_file"
	case KindSendBuffer:
		return "send_buffer"
	case KindReceiveFile:
		return "receive_file"
	case KindReceiveBuffer:
		return "receive_buffer"
	case KindReceiveAvatar:
		return "receive_avatar"
	default:
		return "unknown"
	}
}

// Outbound reports whether the transfer sends data to the peer.
func (k Kind) Outbound() bool {
	return k == KindSendFile || k == KindSendBuffer
}
