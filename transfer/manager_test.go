package transfer

import (
	"errors"
	"path"
	"testing"

	"github.com/opd-ai/toxfile/crypto"
	"github.com/opd-ai/toxfile/limits"
	"github.com/opd-ai/toxfile/transport"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	aliceSeesBob = 1
	bobSeesAlice = 2
)

type peer struct {
	endpoint *transport.LoopbackEndpoint
	manager  *Manager
	fs       *trackingFs
	started  []*Transfer
}

// newPeers connects alice and bob over a loopback pair. Bob stores accepted
// files under /inbox and knows alice by testPeerKey.
func newPeers(t *testing.T) (*peer, *peer) {
	t.Helper()
	a, b := transport.NewLoopbackPair(aliceSeesBob, bobSeesAlice)

	alice := &peer{endpoint: a, fs: newTrackingFs()}
	bob := &peer{endpoint: b, fs: newTrackingFs()}

	for _, p := range []*peer{alice, bob} {
		p := p
		p.manager = NewManager(p.endpoint, AvatarPolicy{Paths: testAvatarPaths}, WithFs(p.fs))
		p.manager.OnTransfer(func(xfer *Transfer) { p.started = append(p.started, xfer) })
		p.manager.Attach(p.endpoint)
	}

	bob.manager.SetPublicKeyResolver(PublicKeyResolverFunc(func(friendID uint32) (crypto.PublicKey, error) {
		if friendID != bobSeesAlice {
			return crypto.PublicKey{}, errors.New("unknown friend")
		}
		return testPeerKey, nil
	}))
	bob.manager.OnFileRequest(func(offer FileOffer) Acceptance {
		return Acceptance{Action: AcceptToFile, Path: path.Join("/inbox", offer.Name)}
	})

	return alice, bob
}

func drain(alice, bob *peer) {
	transport.Drain(alice.endpoint, bob.endpoint)
}

func TestManagerFileTransferEndToEnd(t *testing.T) {
	alice, bob := newPeers(t)
	content := testContent(5000, 31)
	require.NoError(t, afero.WriteFile(alice.fs, testSourcePath, content, 0o644))

	sent, err := alice.manager.SendFile(aliceSeesBob, testSourcePath)
	require.NoError(t, err)
	sentEvents := subscribeRecorder(sent)
	require.Len(t, alice.manager.Transfers(), 1)

	drain(alice, bob)

	got, err := afero.ReadFile(bob.fs, "/inbox/source.bin")
	require.NoError(t, err)
	assert.Equal(t, content, got)

	assert.Equal(t, TransferStateFinished, sent.State())
	require.Len(t, bob.started, 1)
	received := bob.started[0]
	assert.Equal(t, TransferStateFinished, received.State())
	assert.Equal(t, "source.bin", received.Name())
	assert.Equal(t, uint64(len(content)), received.Done())

	assert.Empty(t, alice.manager.Transfers())
	assert.Empty(t, bob.manager.Transfers())
	assert.Zero(t, alice.fs.openCount(testSourcePath))
	assert.Zero(t, bob.fs.openCount("/inbox/source.bin"))

	last, ok := sentEvents.last()
	require.True(t, ok)
	assert.Equal(t, TransferStateFinished, last.State)
	assert.Equal(t, 1.0, last.Fraction)
}

func TestManagerBufferTransfer(t *testing.T) {
	alice, bob := newPeers(t)
	bob.manager.OnFileRequest(func(FileOffer) Acceptance {
		return Acceptance{Action: AcceptToBuffer}
	})

	content := testContent(3000, 32)
	_, err := alice.manager.SendBuffer(aliceSeesBob, content, "notes.txt")
	require.NoError(t, err)

	drain(alice, bob)

	require.Len(t, bob.started, 1)
	assert.Equal(t, content, bob.started[0].Data())
	assert.Equal(t, TransferStateFinished, bob.started[0].State())
}

func TestManagerEmptyFile(t *testing.T) {
	alice, bob := newPeers(t)
	sent, err := alice.manager.SendBuffer(aliceSeesBob, nil, "empty")
	require.NoError(t, err)

	drain(alice, bob)

	assert.Equal(t, TransferStateFinished, sent.State())
	require.Len(t, bob.started, 1)
	assert.Equal(t, TransferStateFinished, bob.started[0].State())
	got, err := afero.ReadFile(bob.fs, "/inbox/empty")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestManagerUnreadableSourceCancelsBothSides(t *testing.T) {
	alice, bob := newPeers(t)
	require.NoError(t, afero.WriteFile(alice.fs, testSourcePath, testContent(5000, 33), 0o644))

	sent, err := alice.manager.SendFile(aliceSeesBob, testSourcePath)
	require.NoError(t, err)

	// Empty the source after it was announced.
	require.NoError(t, afero.WriteFile(alice.fs, testSourcePath, nil, 0o644))

	drain(alice, bob)

	assert.Equal(t, TransferStateCanceled, sent.State())
	require.Len(t, bob.started, 1)
	assert.Equal(t, TransferStateCanceled, bob.started[0].State())
	assert.Zero(t, bob.started[0].Done())

	exists, err := afero.Exists(bob.fs, "/inbox/source.bin")
	require.NoError(t, err)
	assert.False(t, exists, "partial file removed")
	assert.Empty(t, alice.manager.Transfers())
	assert.Empty(t, bob.manager.Transfers())
	assert.Zero(t, alice.fs.openCount(testSourcePath))
}

func TestManagerRejectedOffer(t *testing.T) {
	alice, bob := newPeers(t)
	bob.manager.OnFileRequest(func(FileOffer) Acceptance {
		return Acceptance{Action: AcceptReject}
	})

	sent, err := alice.manager.SendBuffer(aliceSeesBob, []byte("unwanted"), "spam")
	require.NoError(t, err)

	drain(alice, bob)

	assert.Equal(t, TransferStateCanceled, sent.State())
	assert.Empty(t, bob.started)
	assert.Empty(t, alice.manager.Transfers())
}

func TestManagerDeclinesOversizedBufferOffer(t *testing.T) {
	alice, bob := newPeers(t)
	bob.manager.OnFileRequest(func(FileOffer) Acceptance {
		return Acceptance{Action: AcceptToBuffer}
	})

	number, err := alice.endpoint.FileSend(aliceSeesBob, transport.FileKindData, limits.MaxBufferSize+1, crypto.ContentID{}, "huge")
	require.NoError(t, err)

	drain(alice, bob)

	assert.Empty(t, bob.started)
	assert.Empty(t, bob.manager.Transfers())
	_, err = alice.endpoint.FileGetFileID(aliceSeesBob, number)
	assert.ErrorIs(t, err, transport.ErrFileNotFound)
}

func TestManagerPauseResumeFromReceiver(t *testing.T) {
	alice, bob := newPeers(t)
	content := testContent(5000, 33)
	sent, err := alice.manager.SendBuffer(aliceSeesBob, content, "big.bin")
	require.NoError(t, err)

	alice.endpoint.Iterate() // nothing accepted yet
	bob.endpoint.Iterate()   // offer delivered and accepted
	alice.endpoint.Iterate() // acceptance delivered, first chunk sent
	bob.endpoint.Iterate()   // first chunk stored

	require.Len(t, bob.started, 1)
	received := bob.started[0]
	require.NoError(t, received.Pause())
	drain(alice, bob)

	assert.Equal(t, TransferStatePaused, sent.State())
	assert.Equal(t, TransferStatePaused, received.State())
	assert.Less(t, received.Done(), uint64(len(content)))

	require.NoError(t, received.Resume())
	drain(alice, bob)

	assert.Equal(t, TransferStateFinished, sent.State())
	assert.Equal(t, TransferStateFinished, received.State())
	got, err := afero.ReadFile(bob.fs, "/inbox/big.bin")
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestManagerCancelFromReceiver(t *testing.T) {
	alice, bob := newPeers(t)
	sent, err := alice.manager.SendBuffer(aliceSeesBob, testContent(5000, 34), "big.bin")
	require.NoError(t, err)

	alice.endpoint.Iterate()
	bob.endpoint.Iterate()
	alice.endpoint.Iterate()
	bob.endpoint.Iterate()

	require.Len(t, bob.started, 1)
	require.NoError(t, bob.started[0].Cancel())
	drain(alice, bob)

	assert.Equal(t, TransferStateCanceled, sent.State())
	exists, err := afero.Exists(bob.fs, "/inbox/big.bin")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Empty(t, alice.manager.Transfers())
	assert.Empty(t, bob.manager.Transfers())
}

func TestManagerDisconnectCancelsBothSides(t *testing.T) {
	alice, bob := newPeers(t)
	sent, err := alice.manager.SendBuffer(aliceSeesBob, testContent(5000, 35), "big.bin")
	require.NoError(t, err)

	alice.endpoint.Iterate()
	bob.endpoint.Iterate()
	alice.endpoint.Iterate()
	bob.endpoint.Iterate()

	alice.endpoint.Disconnect()

	require.Len(t, bob.started, 1)
	assert.Equal(t, TransferStateCanceled, sent.State())
	assert.Equal(t, TransferStateCanceled, bob.started[0].State())
	exists, _ := afero.Exists(bob.fs, "/inbox/big.bin")
	assert.False(t, exists, "partial file must be removed when the peer goes away")
	assert.Zero(t, transport.Drain(alice.endpoint, bob.endpoint))
}

func TestManagerAvatarDeduplication(t *testing.T) {
	alice, bob := newPeers(t)
	avatar := testContent(4000, 36)
	require.NoError(t, afero.WriteFile(alice.fs, "/me.png", avatar, 0o644))

	first, err := alice.manager.SendAvatar(aliceSeesBob, "/me.png")
	require.NoError(t, err)
	drain(alice, bob)

	assert.Equal(t, TransferStateFinished, first.State())
	stored, err := afero.ReadFile(bob.fs, testAvatarPath())
	require.NoError(t, err)
	assert.Equal(t, avatar, stored)

	second, err := alice.manager.SendAvatar(aliceSeesBob, "/me.png")
	require.NoError(t, err)
	drain(alice, bob)

	assert.Equal(t, TransferStateCanceled, second.State())
	require.Len(t, bob.started, 2)
	assert.Equal(t, AvatarDuplicate, bob.started[1].Decision())
	assert.Zero(t, bob.started[1].Done())

	removal, err := alice.manager.SendAvatar(aliceSeesBob, "")
	require.NoError(t, err)
	drain(alice, bob)

	assert.Equal(t, TransferStateCanceled, removal.State())
	exists, _ := afero.Exists(bob.fs, testAvatarPath())
	assert.False(t, exists)
}

func TestManagerAvatarWithoutResolver(t *testing.T) {
	alice, bob := newPeers(t)
	bob.manager.SetPublicKeyResolver(nil)
	require.NoError(t, afero.WriteFile(alice.fs, "/me.png", []byte("png"), 0o644))

	sent, err := alice.manager.SendAvatar(aliceSeesBob, "/me.png")
	require.NoError(t, err)
	drain(alice, bob)

	assert.Equal(t, TransferStateCanceled, sent.State())
	assert.Empty(t, bob.started)
}

func TestManagerUnknownTransfer(t *testing.T) {
	m := NewManager(newMockTransport(), AvatarPolicy{Paths: testAvatarPaths})

	assert.ErrorIs(t, m.OnChunkRequest(1, 2, 0, 10), ErrTransferNotFound)
	assert.ErrorIs(t, m.OnChunkReceived(1, 2, 0, []byte("x")), ErrTransferNotFound)
	assert.ErrorIs(t, m.OnControlReceived(1, 2, transport.FileControlPause), ErrTransferNotFound)
	_, err := m.Get(1, 2)
	assert.ErrorIs(t, err, ErrTransferNotFound)
}

func TestManagerCloseAll(t *testing.T) {
	tr := newMockTransport()
	fs := newTrackingFs()
	m := NewManager(tr, AvatarPolicy{Paths: testAvatarPaths}, WithFs(fs))
	m.OnFileRequest(func(offer FileOffer) Acceptance {
		return Acceptance{Action: AcceptToFile, Path: path.Join("/inbox", offer.Name)}
	})

	require.NoError(t, m.OnFileRecv(FileOffer{FriendID: 1, FileNumber: testReceiveNumber, Size: 10, Name: "a"}))
	require.NoError(t, m.OnFileRecv(FileOffer{FriendID: 1, FileNumber: testReceiveNumber * 2, Size: 10, Name: "b"}))
	_, err := m.SendBuffer(1, []byte("hello"), "c")
	require.NoError(t, err)
	require.Len(t, m.Transfers(), 3)

	require.NoError(t, m.CloseAll())

	assert.Empty(t, m.Transfers())
	assert.Zero(t, fs.openCount("/inbox/a"))
	exists, _ := afero.Exists(fs, "/inbox/a")
	assert.False(t, exists)
}
