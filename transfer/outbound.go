package transfer

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/opd-ai/toxfile/crypto"
	"github.com/opd-ai/toxfile/limits"
	"github.com/opd-ai/toxfile/transport"
	"github.com/sirupsen/logrus"
)

// NewSendTransfer opens path for reading and announces it to friendID as an
// ordinary file named after the path's base name.
func NewSendTransfer(tr transport.FileTransport, friendID uint32, path string, opts ...Option) (*Transfer, error) {
	t := newTransfer(KindSendFile, tr, friendID, opts)
	t.fileKind = transport.FileKindData
	t.path = path
	t.name = filepath.Base(path)

	if err := limits.ValidateFileName(t.name); err != nil {
		return nil, err
	}

	info, err := t.fs.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %w", ErrStorage, path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrStorage, path)
	}

	f, err := t.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrStorage, path, err)
	}
	t.file = f
	t.size = uint64(info.Size())

	if err := t.announce(crypto.ContentID{}); err != nil {
		_ = f.Close()
		t.file = nil
		return nil, err
	}
	return t, nil
}

// NewSendAvatar announces the avatar stored at path to friendID. The content
// identifier is the hash of the file so the peer can skip an avatar it
// already has. An empty path announces a zero-size avatar, which tells the
// peer to remove the one it stores.
func NewSendAvatar(tr transport.FileTransport, friendID uint32, path string, opts ...Option) (*Transfer, error) {
	t := newTransfer(KindSendFile, tr, friendID, opts)
	t.fileKind = transport.FileKindAvatar
	t.path = path

	var id crypto.ContentID
	if path != "" {
		t.name = filepath.Base(path)

		info, err := t.fs.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("%w: stat %s: %w", ErrStorage, path, err)
		}
		if err := limits.ValidateAvatarSize(uint64(info.Size()), 0); err != nil {
			return nil, err
		}

		id, err = crypto.HashFile(t.fs, path)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStorage, err)
		}

		f, err := t.fs.Open(path)
		if err != nil {
			return nil, fmt.Errorf("%w: open %s: %w", ErrStorage, path, err)
		}
		t.file = f
		t.size = uint64(info.Size())
	}

	if err := t.announce(id); err != nil {
		if t.file != nil {
			_ = t.file.Close()
			t.file = nil
		}
		return nil, err
	}
	return t, nil
}

// NewSendFromBuffer announces data to friendID under name. The buffer is
// copied; later changes to data do not affect the transfer.
func NewSendFromBuffer(tr transport.FileTransport, friendID uint32, data []byte, name string, opts ...Option) (*Transfer, error) {
	if err := limits.ValidateFileName(name); err != nil {
		return nil, err
	}

	t := newTransfer(KindSendBuffer, tr, friendID, opts)
	t.fileKind = transport.FileKindData
	t.name = name
	t.data = append([]byte(nil), data...)
	t.size = uint64(len(t.data))

	if err := t.announce(crypto.ContentID{}); err != nil {
		return nil, err
	}
	return t, nil
}

// announce registers the outgoing file with the transport and records the
// assigned file number.
func (t *Transfer) announce(id crypto.ContentID) error {
	number, err := t.transport.FileSend(t.friendID, t.fileKind, t.size, id, t.name)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "announce",
			"transfer_id": t.traceID.String(),
			"friend_id":   t.friendID,
			"file_name":   t.name,
			"error":       err.Error(),
		}).Warn("Transport refused file announcement")
		return fmt.Errorf("announce %q: %w", t.name, err)
	}
	t.fileNumber = number

	fields := t.fields("announce")
	fields["file_kind"] = t.fileKind.String()
	fields["file_name"] = t.name
	fields["file_size"] = t.size
	logrus.WithFields(fields).Info("Outgoing file transfer created")
	return nil
}

// Produce answers a chunk request from the transport: it reads up to length
// bytes starting at position and sends them to the peer. A length of zero
// means the transport needs no more chunks; the transfer finishes and its
// source is closed.
//
// Bytes are counted as done only once the transport accepts them.
func (t *Transfer) Produce(position uint64, length int) error {
	return t.run(func() (*ProgressEvent, error) {
		if !t.kind.Outbound() {
			return nil, fmt.Errorf("%w: produce on %s", ErrWrongDirection, t.kind)
		}
		if err := t.terminalErrLocked(); err != nil {
			return nil, err
		}

		if length == 0 {
			return t.finishLocked("Produce")
		}
		if length < 0 {
			return nil, fmt.Errorf("%w: negative length %d", ErrChunkOutOfRange, length)
		}
		if err := limits.ValidateChunkLength(length); err != nil {
			return nil, err
		}
		if position >= t.size {
			return nil, fmt.Errorf("%w: position %d size %d", ErrChunkOutOfRange, position, t.size)
		}

		chunk, err := t.readLocked(position, length)
		if err != nil {
			fields := t.fields("Produce")
			fields["position"] = position
			fields["error"] = err.Error()
			logrus.WithFields(fields).Error("Failed to read chunk from source")
			return nil, err
		}

		if err := t.transport.FileSendChunk(t.friendID, t.fileNumber, position, chunk); err != nil {
			fields := t.fields("Produce")
			fields["position"] = position
			fields["length"] = len(chunk)
			fields["error"] = err.Error()
			logrus.WithFields(fields).Warn("Transport rejected chunk")
			return nil, fmt.Errorf("%w: %w", ErrChunkRejected, err)
		}

		t.done += uint64(len(chunk))

		fields := t.fields("Produce")
		fields["position"] = position
		fields["length"] = len(chunk)
		fields["done"] = t.done
		logrus.WithFields(fields).Debug("Chunk sent")

		return t.eventLocked(t.fractionLocked()), nil
	})
}

// readLocked returns up to length bytes of the source at position, stopping
// at the end of the source. Caller holds t.mu.
func (t *Transfer) readLocked(position uint64, length int) ([]byte, error) {
	end := position + uint64(length)
	if end > t.size {
		end = t.size
	}

	if t.kind == KindSendBuffer {
		out := make([]byte, end-position)
		copy(out, t.data[position:end])
		return out, nil
	}

	if t.file == nil {
		return nil, fmt.Errorf("%w: source closed", ErrStorage)
	}

	buf := make([]byte, end-position)
	n, err := t.file.ReadAt(buf, int64(position))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: read %s at %d: %w", ErrStorage, t.path, position, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: %s truncated below %d", ErrStorage, t.path, position)
	}
	return buf[:n], nil
}
