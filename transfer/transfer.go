package transfer

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opd-ai/toxfile/crypto"
	"github.com/opd-ai/toxfile/transport"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Transfer is one directed exchange of a file's or buffer's bytes with one
// peer. The Kind selects how chunks are produced or consumed; identity,
// progress and the control state machine are shared by every kind.
//
// A Transfer is safe for concurrent use. Chunk I/O and resource release are
// serialized by the same mutex, so a close triggered by a peer cancellation
// waits for an in-flight write to finish.
type Transfer struct {
	mu sync.Mutex

	kind       Kind
	fileKind   transport.FileKind
	path       string
	name       string
	friendID   uint32
	fileNumber uint32
	size       uint64
	done       uint64
	state      TransferState
	createdAt  time.Time
	traceID    uuid.UUID
	err        error

	transport    transport.FileTransport
	fs           afero.Fs
	timeProvider TimeProvider

	// Exactly one backing store is set, matching kind.
	file   afero.File
	data   []byte
	buffer *sparseBuffer

	// written is the logical length of an inbound destination.
	written uint64

	decision AvatarDecision

	notifier notifier
}

// Option configures a Transfer at construction.
type Option func(*Transfer)

// WithFs sets the filesystem used for file-backed transfers. The default is
// the operating system filesystem.
func WithFs(fs afero.Fs) Option {
	return func(t *Transfer) {
		t.fs = fs
	}
}

// WithTimeProvider sets a custom time provider for deterministic testing.
func WithTimeProvider(tp TimeProvider) Option {
	return func(t *Transfer) {
		t.timeProvider = tp
	}
}

func newTransfer(kind Kind, tr transport.FileTransport, friendID uint32, opts []Option) *Transfer {
	t := &Transfer{
		kind:         kind,
		friendID:     friendID,
		state:        TransferStateRunning,
		traceID:      uuid.New(),
		transport:    tr,
		fs:           afero.NewOsFs(),
		timeProvider: defaultTimeProvider,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.createdAt = t.timeProvider.Now()
	return t
}

// fields returns the base log fields for this transfer.
func (t *Transfer) fields(function string) logrus.Fields {
	return logrus.Fields{
		"function":    function,
		"transfer_id": t.traceID.String(),
		"kind":        t.kind.String(),
		"friend_id":   t.friendID,
		"file_number": t.fileNumber,
	}
}

// Kind returns the transfer's direction and backing store.
func (t *Transfer) Kind() Kind { return t.kind }

// FileKind returns the kind announced to the transport.
func (t *Transfer) FileKind() transport.FileKind { return t.fileKind }

// FriendID returns the remote peer's friend ID.
func (t *Transfer) FriendID() uint32 { return t.friendID }

// FileNumber returns the transport-assigned file number.
func (t *Transfer) FileNumber() uint32 { return t.fileNumber }

// Path returns the file path, or "" for buffer transfers.
func (t *Transfer) Path() string { return t.path }

// Name returns the announced file name.
func (t *Transfer) Name() string { return t.name }

// Size returns the declared total size in bytes.
func (t *Transfer) Size() uint64 { return t.size }

// CreatedAt returns the creation time.
func (t *Transfer) CreatedAt() time.Time { return t.createdAt }

// TraceID returns the identifier attached to this transfer's log entries.
func (t *Transfer) TraceID() uuid.UUID { return t.traceID }

// State returns the current state.
func (t *Transfer) State() TransferState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Done returns the number of bytes transferred so far. Overlapping inbound
// retransmissions are counted every time they arrive.
func (t *Transfer) Done() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

// Progress returns the completion fraction. Finished transfers report 1.
func (t *Transfer) Progress() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == TransferStateFinished {
		return 1
	}
	return t.fractionLocked()
}

// Err returns the last cleanup error recorded outside an operation that could
// return it, such as removing a stale avatar during construction.
func (t *Transfer) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Subscribe registers h for progress events and returns a function that
// removes it.
func (t *Transfer) Subscribe(h ProgressHandler) func() {
	return t.notifier.subscribe(h)
}

// fractionLocked computes done/size, guarding a zero size. Caller holds t.mu.
func (t *Transfer) fractionLocked() float64 {
	if t.size == 0 {
		return 0
	}
	return float64(t.done) / float64(t.size)
}

// eventLocked builds a progress event. Caller holds t.mu.
func (t *Transfer) eventLocked(fraction float64) *ProgressEvent {
	return &ProgressEvent{
		FriendID:   t.friendID,
		FileNumber: t.fileNumber,
		State:      t.state,
		Fraction:   fraction,
	}
}

// run executes op under the transfer lock and emits its event, if any, after
// the lock is released.
func (t *Transfer) run(op func() (*ProgressEvent, error)) error {
	t.mu.Lock()
	ev, err := op()
	t.mu.Unlock()

	if ev != nil {
		t.notifier.emit(*ev)
	}
	return err
}

// terminalErrLocked returns a wrapped ErrTerminal if the transfer is done.
func (t *Transfer) terminalErrLocked() error {
	if t.state.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrTerminal, t.state)
	}
	return nil
}

// FileID asks the transport for the content identifier of this transfer.
func (t *Transfer) FileID() (crypto.ContentID, error) {
	return t.transport.FileGetFileID(t.friendID, t.fileNumber)
}

// Pause asks the peer to pause the transfer.
func (t *Transfer) Pause() error {
	return t.SendControl(transport.FileControlPause)
}

// Resume asks the peer to resume the transfer. On a receiving transfer the
// first resume accepts the offer.
func (t *Transfer) Resume() error {
	return t.SendControl(transport.FileControlResume)
}

// SendControl issues a control signal to the transport. The local state
// changes and an event fires only if the transport accepts the signal.
// FileControlCancel behaves like Cancel.
func (t *Transfer) SendControl(control transport.FileControl) error {
	if control == transport.FileControlCancel {
		return t.Cancel()
	}

	return t.run(func() (*ProgressEvent, error) {
		if err := t.terminalErrLocked(); err != nil {
			return nil, err
		}

		if err := t.transport.FileControl(t.friendID, t.fileNumber, control); err != nil {
			fields := t.fields("SendControl")
			fields["control"] = control.String()
			fields["error"] = err.Error()
			logrus.WithFields(fields).Warn("Transport rejected control signal")
			return nil, fmt.Errorf("%w: %s: %w", ErrControlRejected, control, err)
		}

		t.state = stateForControl(control)

		fields := t.fields("SendControl")
		fields["control"] = control.String()
		fields["state"] = t.state.String()
		logrus.WithFields(fields).Debug("Control signal applied")

		return t.eventLocked(t.fractionLocked()), nil
	})
}

// Cancel sends a cancel signal to the peer. If the transport accepts it, the
// transfer becomes Canceled, its file handle is closed, a partially received
// file is removed and a (Canceled, 1) event fires. A cleanup failure is
// returned wrapped in ErrCleanup; the transfer is Canceled regardless.
func (t *Transfer) Cancel() error {
	var cleanupErr error

	err := t.run(func() (*ProgressEvent, error) {
		if err := t.terminalErrLocked(); err != nil {
			return nil, err
		}

		if err := t.transport.FileControl(t.friendID, t.fileNumber, transport.FileControlCancel); err != nil {
			fields := t.fields("Cancel")
			fields["error"] = err.Error()
			logrus.WithFields(fields).Warn("Transport rejected cancel")
			return nil, fmt.Errorf("%w: cancel: %w", ErrControlRejected, err)
		}

		t.state = TransferStateCanceled
		cleanupErr = t.releaseLocked(true)

		logrus.WithFields(t.fields("Cancel")).Info("File transfer cancelled")
		return t.eventLocked(1), nil
	})
	if err != nil {
		return err
	}
	if cleanupErr != nil {
		return fmt.Errorf("%w: %w", ErrCleanup, cleanupErr)
	}
	return nil
}

// PeerCanceled handles a cancellation initiated by the peer. The file handle
// is closed once any in-flight chunk write has completed, a partially
// received file is removed, and a (Canceled, 1) event fires.
func (t *Transfer) PeerCanceled() error {
	var cleanupErr error

	err := t.run(func() (*ProgressEvent, error) {
		if err := t.terminalErrLocked(); err != nil {
			return nil, err
		}

		t.state = TransferStateCanceled
		cleanupErr = t.releaseLocked(true)

		logrus.WithFields(t.fields("PeerCanceled")).Info("File transfer cancelled by peer")
		return t.eventLocked(1), nil
	})
	if err != nil {
		return err
	}
	if cleanupErr != nil {
		return fmt.Errorf("%w: %w", ErrCleanup, cleanupErr)
	}
	return nil
}

// PeerControl applies a control signal received from the peer.
func (t *Transfer) PeerControl(control transport.FileControl) error {
	if control == transport.FileControlCancel {
		return t.PeerCanceled()
	}

	return t.run(func() (*ProgressEvent, error) {
		if err := t.terminalErrLocked(); err != nil {
			return nil, err
		}

		t.state = stateForControl(control)

		fields := t.fields("PeerControl")
		fields["control"] = control.String()
		logrus.WithFields(fields).Debug("Peer control applied")

		return t.eventLocked(t.fractionLocked()), nil
	})
}

// Close releases the transfer's resources if it has not reached a terminal
// state, removing a partially received file and marking it Canceled. The
// transport is not contacted. Close on a terminal transfer is a no-op.
func (t *Transfer) Close() error {
	var cleanupErr error

	_ = t.run(func() (*ProgressEvent, error) {
		if t.state.IsTerminal() {
			return nil, nil
		}

		t.state = TransferStateCanceled
		cleanupErr = t.releaseLocked(true)

		logrus.WithFields(t.fields("Close")).Info("File transfer disposed before completion")
		return t.eventLocked(1), nil
	})

	if cleanupErr != nil {
		return fmt.Errorf("%w: %w", ErrCleanup, cleanupErr)
	}
	return nil
}

// finishLocked moves the transfer to Finished and releases its handle.
// Caller holds t.mu.
func (t *Transfer) finishLocked(function string) (*ProgressEvent, error) {
	t.state = TransferStateFinished
	err := t.releaseLocked(false)

	fields := t.fields(function)
	fields["done"] = t.done
	fields["size"] = t.size
	fields["duration"] = t.timeProvider.Since(t.createdAt).String()
	logrus.WithFields(fields).Info("File transfer finished")

	if err != nil {
		return t.eventLocked(1), fmt.Errorf("%w: %w", ErrCleanup, err)
	}
	return t.eventLocked(1), nil
}

// releaseLocked closes the file handle and, when discard is set, drops a
// receive buffer and removes a partially received file. Every step runs even
// if an earlier one fails. Caller holds t.mu.
func (t *Transfer) releaseLocked(discard bool) error {
	var errs []error

	if t.file != nil {
		if err := t.file.Close(); err != nil {
			fields := t.fields("releaseLocked")
			fields["path"] = t.path
			fields["error"] = err.Error()
			logrus.WithFields(fields).Warn("Failed to close file handle")
			errs = append(errs, err)
		}
		t.file = nil

		if discard && !t.kind.Outbound() {
			if err := t.fs.Remove(t.path); err != nil && !errors.Is(err, os.ErrNotExist) {
				fields := t.fields("releaseLocked")
				fields["path"] = t.path
				fields["error"] = err.Error()
				logrus.WithFields(fields).Warn("Failed to remove partial file")
				errs = append(errs, err)
			}
		}
	}

	if discard && t.buffer != nil {
		fields := t.fields("releaseLocked")
		fields["discarded"] = t.buffer.Len()
		logrus.WithFields(fields).Debug("Receive buffer dropped")
		t.buffer = nil
	}

	return errors.Join(errs...)
}
