package transfer

import (
	"fmt"
	"os"

	"github.com/opd-ai/toxfile/limits"
	"github.com/opd-ai/toxfile/transport"
	"github.com/sirupsen/logrus"
)

// NewReceiveTransfer creates a transfer that writes the peer's file with the
// given number to path. The destination is created or truncated immediately.
// The transfer does not accept the offer; call Resume for that.
func NewReceiveTransfer(tr transport.FileTransport, friendID, fileNumber uint32, path string, size uint64, opts ...Option) (*Transfer, error) {
	t := newTransfer(KindReceiveFile, tr, friendID, opts)
	t.fileKind = transport.FileKindData
	t.fileNumber = fileNumber
	t.path = path
	t.size = size

	f, err := t.fs.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %w", ErrStorage, path, err)
	}
	t.file = f

	fields := t.fields("NewReceiveTransfer")
	fields["path"] = path
	fields["file_size"] = size
	logrus.WithFields(fields).Info("Incoming file transfer created")

	return t, nil
}

// NewReceiveToBuffer creates a transfer that accumulates the peer's file with
// the given number in memory. Data returns the received bytes. Chunks ending
// past limits.MaxBufferSize are rejected whatever the declared size.
func NewReceiveToBuffer(tr transport.FileTransport, friendID, fileNumber uint32, size uint64, opts ...Option) *Transfer {
	t := newTransfer(KindReceiveBuffer, tr, friendID, opts)
	t.fileKind = transport.FileKindData
	t.fileNumber = fileNumber
	t.size = size
	t.buffer = &sparseBuffer{}

	fields := t.fields("NewReceiveToBuffer")
	fields["file_size"] = size
	logrus.WithFields(fields).Info("Incoming buffer transfer created")

	return t
}

// Data returns a copy of the bytes held by a buffer transfer: the source of
// an outbound buffer, or what an inbound buffer has received so far with
// unwritten gaps zeroed. It returns nil for file transfers and for inbound
// buffers released by cancellation.
func (t *Transfer) Data() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.kind {
	case KindSendBuffer:
		return append([]byte(nil), t.data...)
	case KindReceiveBuffer:
		if t.buffer == nil {
			return nil
		}
		return t.buffer.Bytes()
	default:
		return nil
	}
}

// Consume stores a chunk delivered by the transport at position. Chunks may
// arrive in any order; writing past the current end zero-fills the gap. A
// zero declared size leaves file destinations unbounded; buffers always stop
// at limits.MaxBufferSize. Empty
// data marks the end of the stream: the destination is closed and the
// transfer finishes.
func (t *Transfer) Consume(position uint64, data []byte) error {
	return t.run(func() (*ProgressEvent, error) {
		if t.kind.Outbound() {
			return nil, fmt.Errorf("%w: consume on %s", ErrWrongDirection, t.kind)
		}
		if err := t.terminalErrLocked(); err != nil {
			return nil, err
		}

		if len(data) == 0 {
			return t.finishLocked("Consume")
		}
		if err := limits.ValidateChunk(data); err != nil {
			return nil, err
		}

		end := position + uint64(len(data))
		if end < position || (t.size > 0 && end > t.size) {
			return nil, fmt.Errorf("%w: position %d length %d size %d", ErrChunkOutOfRange, position, len(data), t.size)
		}
		if t.kind == KindReceiveBuffer {
			if err := limits.ValidateBufferSize(end); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrChunkOutOfRange, err)
			}
		}

		if err := t.writeLocked(position, data); err != nil {
			fields := t.fields("Consume")
			fields["position"] = position
			fields["error"] = err.Error()
			logrus.WithFields(fields).Error("Failed to store chunk")
			return nil, err
		}

		if end > t.written {
			t.written = end
		}
		t.done += uint64(len(data))

		fields := t.fields("Consume")
		fields["position"] = position
		fields["length"] = len(data)
		fields["done"] = t.done
		if t.size > 0 && t.done > t.size {
			logrus.WithFields(fields).Warn("Received more bytes than declared; chunks overlapped")
		} else {
			logrus.WithFields(fields).Debug("Chunk stored")
		}

		return t.eventLocked(t.fractionLocked()), nil
	})
}

// writeLocked persists data at position. File destinations are extended with
// a hole when position lies past the current end and are synced after every
// chunk. Caller holds t.mu.
func (t *Transfer) writeLocked(position uint64, data []byte) error {
	if t.kind == KindReceiveBuffer {
		if t.buffer == nil {
			return fmt.Errorf("%w: buffer released", ErrStorage)
		}
		t.buffer.WriteAt(data, position)
		return nil
	}

	if t.file == nil {
		return fmt.Errorf("%w: destination closed", ErrStorage)
	}

	if position > t.written {
		if err := t.file.Truncate(int64(position)); err != nil {
			return fmt.Errorf("%w: extend %s to %d: %w", ErrStorage, t.path, position, err)
		}
	}
	if _, err := t.file.WriteAt(data, int64(position)); err != nil {
		return fmt.Errorf("%w: write %s at %d: %w", ErrStorage, t.path, position, err)
	}
	if err := t.file.Sync(); err != nil {
		return fmt.Errorf("%w: sync %s: %w", ErrStorage, t.path, err)
	}
	return nil
}
