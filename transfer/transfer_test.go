package transfer

import (
	"errors"
	"testing"
	"time"

	"github.com/opd-ai/toxfile/transport"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReceive(t *testing.T, tr *mockTransport, fs *trackingFs, size uint64) *Transfer {
	t.Helper()
	xfer, err := NewReceiveTransfer(tr, testFriendID, testReceiveNumber, testDestPath, size, WithFs(fs))
	require.NoError(t, err)
	return xfer
}

func TestNewTransferUsesTimeProvider(t *testing.T) {
	tp := newMockTimeProvider()
	xfer := NewReceiveToBuffer(newMockTransport(), testFriendID, testReceiveNumber, 10, WithTimeProvider(tp))

	assert.Equal(t, tp.Now(), xfer.CreatedAt())
	assert.NotEqual(t, [16]byte{}, [16]byte(xfer.TraceID()))
	assert.Equal(t, TransferStateRunning, xfer.State())
	assert.Equal(t, uint32(testFriendID), xfer.FriendID())
	assert.Equal(t, uint32(testReceiveNumber), xfer.FileNumber())
	assert.Equal(t, KindReceiveBuffer, xfer.Kind())
}

func TestFinishLogsDuration(t *testing.T) {
	hook := logtest.NewGlobal()
	defer hook.Reset()

	tp := newMockTimeProvider()
	xfer := NewReceiveToBuffer(newMockTransport(), testFriendID, testReceiveNumber, 3, WithTimeProvider(tp))
	require.NoError(t, xfer.Consume(0, []byte("abc")))
	tp.advance(5 * time.Second)
	require.NoError(t, xfer.Consume(3, nil))

	var finished *logrus.Entry
	for _, entry := range hook.AllEntries() {
		if entry.Message == "File transfer finished" {
			finished = entry
		}
	}
	require.NotNil(t, finished)
	assert.Equal(t, "5s", finished.Data["duration"])
	assert.Equal(t, uint64(3), finished.Data["done"])
}

func TestSendControlTransitions(t *testing.T) {
	tests := []struct {
		name     string
		controls []transport.FileControl
		expected TransferState
	}{
		{"pause", []transport.FileControl{transport.FileControlPause}, TransferStatePaused},
		{"pause then resume", []transport.FileControl{transport.FileControlPause, transport.FileControlResume}, TransferStateRunning},
		{"resume", []transport.FileControl{transport.FileControlResume}, TransferStateRunning},
		{"cancel", []transport.FileControl{transport.FileControlCancel}, TransferStateCanceled},
		{"pause then cancel", []transport.FileControl{transport.FileControlPause, transport.FileControlCancel}, TransferStateCanceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newMockTransport()
			xfer := NewReceiveToBuffer(tr, testFriendID, testReceiveNumber, 10)
			rec := subscribeRecorder(xfer)

			for _, c := range tt.controls {
				require.NoError(t, xfer.SendControl(c))
			}

			assert.Equal(t, tt.expected, xfer.State())
			assert.Len(t, rec.all(), len(tt.controls))
			assert.Equal(t, len(tt.controls), tr.controlCount())

			last, ok := rec.last()
			require.True(t, ok)
			assert.Equal(t, tt.expected, last.State)
		})
	}
}

func TestSendControlRejectedLeavesState(t *testing.T) {
	tr := newMockTransport()
	xfer := NewReceiveToBuffer(tr, testFriendID, testReceiveNumber, 10)
	rec := subscribeRecorder(xfer)

	tr.failControl = true
	err := xfer.Pause()

	assert.ErrorIs(t, err, ErrControlRejected)
	assert.ErrorIs(t, err, errMockTransport)
	assert.Equal(t, TransferStateRunning, xfer.State())
	assert.Empty(t, rec.all())
}

func TestCancelRejectedLeavesState(t *testing.T) {
	tr := newMockTransport()
	fs := newTrackingFs()
	xfer := newTestReceive(t, tr, fs, 10)

	tr.failControl = true
	err := xfer.Cancel()

	assert.ErrorIs(t, err, ErrControlRejected)
	assert.Equal(t, TransferStateRunning, xfer.State())
	assert.Equal(t, 1, fs.openCount(testDestPath))
	exists, _ := afero.Exists(fs, testDestPath)
	assert.True(t, exists)
}

func TestCancelReleasesInboundFile(t *testing.T) {
	tr := newMockTransport()
	fs := newTrackingFs()
	xfer := newTestReceive(t, tr, fs, 10)
	rec := subscribeRecorder(xfer)

	require.NoError(t, xfer.Consume(0, []byte("abc")))
	require.NoError(t, xfer.Cancel())

	assert.Equal(t, TransferStateCanceled, xfer.State())
	assert.Zero(t, fs.openCount(testDestPath))
	exists, err := afero.Exists(fs, testDestPath)
	require.NoError(t, err)
	assert.False(t, exists, "partial file should be removed")

	last, ok := rec.last()
	require.True(t, ok)
	assert.Equal(t, ProgressEvent{FriendID: testFriendID, FileNumber: testReceiveNumber, State: TransferStateCanceled, Fraction: 1}, last)

	sent, ok := tr.lastControl()
	require.True(t, ok)
	assert.Equal(t, transport.FileControlCancel, sent.control)
}

func TestCancelIsTerminal(t *testing.T) {
	tr := newMockTransport()
	fs := newTrackingFs()
	xfer := newTestReceive(t, tr, fs, 10)
	require.NoError(t, xfer.Cancel())

	assert.ErrorIs(t, xfer.Consume(0, []byte("x")), ErrTerminal)
	assert.ErrorIs(t, xfer.Consume(0, nil), ErrTerminal)
	assert.ErrorIs(t, xfer.Pause(), ErrTerminal)
	assert.ErrorIs(t, xfer.Resume(), ErrTerminal)
	assert.ErrorIs(t, xfer.Cancel(), ErrTerminal)
	assert.ErrorIs(t, xfer.PeerControl(transport.FileControlPause), ErrTerminal)
	assert.ErrorIs(t, xfer.PeerCanceled(), ErrTerminal)
	assert.Equal(t, 1, tr.controlCount(), "no control may reach the transport after cancel")
}

func TestCancelOutboundKeepsSource(t *testing.T) {
	tr := newMockTransport()
	fs := newTrackingFs()
	require.NoError(t, afero.WriteFile(fs, testSourcePath, []byte("payload"), 0o644))

	xfer, err := NewSendTransfer(tr, testFriendID, testSourcePath, WithFs(fs))
	require.NoError(t, err)
	require.Equal(t, 1, fs.openCount(testSourcePath))

	require.NoError(t, xfer.Cancel())

	assert.Zero(t, fs.openCount(testSourcePath))
	exists, _ := afero.Exists(fs, testSourcePath)
	assert.True(t, exists, "outbound source must never be removed")
	assert.ErrorIs(t, xfer.Produce(0, 4), ErrTerminal)
}

func TestCancelCleanupFailureStillCancels(t *testing.T) {
	tr := newMockTransport()
	fs := newTrackingFs()
	xfer := newTestReceive(t, tr, fs, 10)
	rec := subscribeRecorder(xfer)

	fs.failClose = true
	err := xfer.Cancel()

	assert.ErrorIs(t, err, ErrCleanup)
	assert.Equal(t, TransferStateCanceled, xfer.State())
	last, ok := rec.last()
	require.True(t, ok)
	assert.Equal(t, TransferStateCanceled, last.State)
}

func TestPeerControl(t *testing.T) {
	tr := newMockTransport()
	xfer := NewReceiveToBuffer(tr, testFriendID, testReceiveNumber, 10)
	rec := subscribeRecorder(xfer)

	require.NoError(t, xfer.PeerControl(transport.FileControlPause))
	assert.Equal(t, TransferStatePaused, xfer.State())

	require.NoError(t, xfer.PeerControl(transport.FileControlResume))
	assert.Equal(t, TransferStateRunning, xfer.State())

	assert.Len(t, rec.all(), 2)
	assert.Zero(t, tr.controlCount(), "peer signals are not echoed to the transport")
}

func TestPeerCanceledReleasesFile(t *testing.T) {
	tr := newMockTransport()
	fs := newTrackingFs()
	xfer := newTestReceive(t, tr, fs, 10)
	rec := subscribeRecorder(xfer)

	require.NoError(t, xfer.Consume(0, []byte("abc")))
	require.NoError(t, xfer.PeerControl(transport.FileControlCancel))

	assert.Equal(t, TransferStateCanceled, xfer.State())
	assert.Zero(t, fs.openCount(testDestPath))
	exists, _ := afero.Exists(fs, testDestPath)
	assert.False(t, exists)

	last, ok := rec.last()
	require.True(t, ok)
	assert.Equal(t, TransferStateCanceled, last.State)
	assert.Equal(t, 1.0, last.Fraction)
	assert.Zero(t, tr.controlCount())
}

func TestCloseDisposesRunningTransfer(t *testing.T) {
	tr := newMockTransport()
	fs := newTrackingFs()
	xfer := newTestReceive(t, tr, fs, 10)

	require.NoError(t, xfer.Close())
	assert.Equal(t, TransferStateCanceled, xfer.State())
	assert.Zero(t, fs.openCount(testDestPath))
	exists, _ := afero.Exists(fs, testDestPath)
	assert.False(t, exists)
	assert.Zero(t, tr.controlCount())

	// A second Close is a no-op.
	require.NoError(t, xfer.Close())
}

func TestCloseAfterFinishKeepsFile(t *testing.T) {
	tr := newMockTransport()
	fs := newTrackingFs()
	xfer := newTestReceive(t, tr, fs, 3)

	require.NoError(t, xfer.Consume(0, []byte("abc")))
	require.NoError(t, xfer.Consume(3, nil))
	require.NoError(t, xfer.Close())

	assert.Equal(t, TransferStateFinished, xfer.State())
	data, err := afero.ReadFile(fs, testDestPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), data)
}

func TestCloseReleasesReceiveBuffer(t *testing.T) {
	xfer := NewReceiveToBuffer(newMockTransport(), testFriendID, testReceiveNumber, 10)
	require.NoError(t, xfer.Consume(0, []byte("abc")))
	require.NoError(t, xfer.Close())

	assert.Nil(t, xfer.Data())
}

func TestFileIDForwardsToTransport(t *testing.T) {
	tr := newMockTransport()
	xfer := NewReceiveToBuffer(tr, testFriendID, testReceiveNumber, 10)

	_, err := xfer.FileID()
	assert.True(t, errors.Is(err, transport.ErrFileNotFound))

	want := testContent(32, 9)
	var id [32]byte
	copy(id[:], want)
	tr.setFileID(testReceiveNumber, id)

	got, err := xfer.FileID()
	require.NoError(t, err)
	assert.Equal(t, id, [32]byte(got))
}
