package transfer

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/opd-ai/toxfile/crypto"
	"github.com/opd-ai/toxfile/limits"
	"github.com/opd-ai/toxfile/transport"
	"github.com/sirupsen/logrus"
)

// PublicKeyResolver resolves friend IDs to their long-term public keys.
// The manager needs it to locate a friend's stored avatar.
type PublicKeyResolver interface {
	ResolvePublicKey(friendID uint32) (crypto.PublicKey, error)
}

// PublicKeyResolverFunc is a function type that implements PublicKeyResolver.
type PublicKeyResolverFunc func(friendID uint32) (crypto.PublicKey, error)

// ResolvePublicKey implements PublicKeyResolver for PublicKeyResolverFunc.
func (f PublicKeyResolverFunc) ResolvePublicKey(friendID uint32) (crypto.PublicKey, error) {
	return f(friendID)
}

// FileOffer describes an incoming file announced by a peer.
type FileOffer struct {
	FriendID   uint32
	FileNumber uint32
	Kind       transport.FileKind
	Size       uint64
	Name       string
}

// AcceptAction selects what to do with an offered file.
type AcceptAction uint8

const (
	// AcceptReject cancels the offer.
	AcceptReject AcceptAction = iota
	// AcceptToFile writes the file to Acceptance.Path.
	AcceptToFile
	// AcceptToBuffer keeps the file in memory.
	AcceptToBuffer
)

// Acceptance is an application's answer to a FileOffer.
type Acceptance struct {
	Action AcceptAction
	Path   string
}

// FileRequestHandler decides how to handle an ordinary file offer.
type FileRequestHandler func(offer FileOffer) Acceptance

// Manager routes transport callbacks to the transfers they concern. It
// creates receiving transfers for incoming offers and forgets every transfer
// once it reaches a terminal state.
type Manager struct {
	transport  transport.FileTransport
	avatars    AvatarPolicy
	opts       []Option
	transfers  map[transferKey]*Transfer
	resolver   PublicKeyResolver
	onRequest  FileRequestHandler
	onTransfer func(*Transfer)
	mu         sync.RWMutex
}

// transferKey uniquely identifies a file transfer.
type transferKey struct {
	friendID   uint32
	fileNumber uint32
}

// NewManager creates a transfer manager over tr. The avatar policy applies to
// avatar offers; opts are passed to every transfer the manager creates.
func NewManager(tr transport.FileTransport, avatars AvatarPolicy, opts ...Option) *Manager {
	logrus.WithFields(logrus.Fields{
		"function":        "NewManager",
		"max_avatar_size": avatars.MaxSize,
	}).Info("Creating new file transfer manager")

	return &Manager{
		transport: tr,
		avatars:   avatars,
		opts:      opts,
		transfers: make(map[transferKey]*Transfer),
	}
}

// SetPublicKeyResolver sets the resolver used to locate friends' avatars.
// Avatar offers are rejected until one is set.
func (m *Manager) SetPublicKeyResolver(resolver PublicKeyResolver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolver = resolver
	logrus.WithFields(logrus.Fields{
		"function":     "SetPublicKeyResolver",
		"resolver_set": resolver != nil,
	}).Info("Public key resolver configured")
}

// OnFileRequest sets the handler consulted for ordinary file offers. Offers
// are rejected while no handler is set.
func (m *Manager) OnFileRequest(handler FileRequestHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRequest = handler
}

// OnTransfer sets a callback invoked for every transfer the manager starts
// tracking, before any chunk for it is handled.
func (m *Manager) OnTransfer(callback func(*Transfer)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTransfer = callback
}

// Attach registers the manager's packet handlers with reg.
func (m *Manager) Attach(reg transport.Registrar) {
	reg.RegisterHandler(transport.PacketFileRequest, m.handleFileRequest)
	reg.RegisterHandler(transport.PacketFileControl, m.handleFileControl)
	reg.RegisterHandler(transport.PacketFileData, m.handleFileData)
	reg.RegisterHandler(transport.PacketFileChunkRequest, m.handleChunkRequest)

	logrus.WithFields(logrus.Fields{
		"function": "Attach",
	}).Info("File transfer manager handlers registered")
}

// SendFile starts sending the file at path to friendID.
func (m *Manager) SendFile(friendID uint32, path string) (*Transfer, error) {
	t, err := NewSendTransfer(m.transport, friendID, path, m.opts...)
	if err != nil {
		return nil, err
	}
	m.track(t)
	return t, nil
}

// SendAvatar offers the avatar at path to friendID. An empty path tells the
// friend to drop the avatar it stores.
func (m *Manager) SendAvatar(friendID uint32, path string) (*Transfer, error) {
	t, err := NewSendAvatar(m.transport, friendID, path, m.opts...)
	if err != nil {
		return nil, err
	}
	m.track(t)
	return t, nil
}

// SendBuffer starts sending data to friendID under name.
func (m *Manager) SendBuffer(friendID uint32, data []byte, name string) (*Transfer, error) {
	t, err := NewSendFromBuffer(m.transport, friendID, data, name, m.opts...)
	if err != nil {
		return nil, err
	}
	m.track(t)
	return t, nil
}

// Get retrieves an active transfer.
func (m *Manager) Get(friendID, fileNumber uint32) (*Transfer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, exists := m.transfers[transferKey{friendID: friendID, fileNumber: fileNumber}]
	if !exists {
		return nil, fmt.Errorf("%w: friend %d file %d", ErrTransferNotFound, friendID, fileNumber)
	}
	return t, nil
}

// Transfers returns the active transfers ordered by friend and file number.
func (m *Manager) Transfers() []*Transfer {
	m.mu.RLock()
	out := make([]*Transfer, 0, len(m.transfers))
	for _, t := range m.transfers {
		out = append(out, t)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].FriendID() != out[j].FriendID() {
			return out[i].FriendID() < out[j].FriendID()
		}
		return out[i].FileNumber() < out[j].FileNumber()
	})
	return out
}

// track adds t to the table and arranges for its removal on a terminal
// event. Transfers already terminal are reported but not tracked.
func (m *Manager) track(t *Transfer) {
	key := transferKey{friendID: t.FriendID(), fileNumber: t.FileNumber()}

	m.mu.Lock()
	callback := m.onTransfer
	if !t.State().IsTerminal() {
		m.transfers[key] = t
	}
	m.mu.Unlock()

	t.Subscribe(func(ev ProgressEvent) {
		if ev.State.IsTerminal() {
			m.untrack(key, t)
		}
	})

	logrus.WithFields(logrus.Fields{
		"function":    "track",
		"transfer_id": t.TraceID().String(),
		"friend_id":   key.friendID,
		"file_number": key.fileNumber,
		"kind":        t.Kind().String(),
		"file_kind":   t.FileKind().String(),
	}).Debug("Transfer tracked")

	if callback != nil {
		callback(t)
	}
}

// untrack removes t if it is still the transfer stored under key.
func (m *Manager) untrack(key transferKey, t *Transfer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.transfers[key] == t {
		delete(m.transfers, key)
	}
}

// OnFileRecv handles a peer's file offer. Avatar offers are evaluated
// against the avatar policy; ordinary offers go to the FileRequestHandler.
func (m *Manager) OnFileRecv(offer FileOffer) error {
	logrus.WithFields(logrus.Fields{
		"function":    "OnFileRecv",
		"friend_id":   offer.FriendID,
		"file_number": offer.FileNumber,
		"kind":        offer.Kind.String(),
		"file_name":   offer.Name,
		"file_size":   offer.Size,
	}).Info("Incoming file offer")

	if offer.Kind == transport.FileKindAvatar {
		return m.receiveAvatar(offer)
	}
	return m.receiveFile(offer)
}

func (m *Manager) receiveAvatar(offer FileOffer) error {
	m.mu.RLock()
	resolver := m.resolver
	m.mu.RUnlock()

	if resolver == nil {
		m.decline(offer, "no public key resolver")
		return errors.New("avatar offer without public key resolver")
	}

	pk, err := resolver.ResolvePublicKey(offer.FriendID)
	if err != nil {
		m.decline(offer, "public key unknown")
		return fmt.Errorf("resolve public key of friend %d: %w", offer.FriendID, err)
	}

	t, err := NewReceiveAvatar(m.transport, offer.FriendID, offer.FileNumber, offer.Size, pk, m.avatars, m.opts...)
	if err != nil {
		m.decline(offer, "avatar store unavailable")
		return err
	}
	m.track(t)
	return nil
}

func (m *Manager) receiveFile(offer FileOffer) error {
	m.mu.RLock()
	handler := m.onRequest
	m.mu.RUnlock()

	acceptance := Acceptance{Action: AcceptReject}
	if handler != nil {
		acceptance = handler(offer)
	}

	var t *Transfer
	switch acceptance.Action {
	case AcceptToFile:
		var err error
		t, err = NewReceiveTransfer(m.transport, offer.FriendID, offer.FileNumber, acceptance.Path, offer.Size, m.opts...)
		if err != nil {
			m.decline(offer, "destination unavailable")
			return err
		}
	case AcceptToBuffer:
		if err := limits.ValidateBufferSize(offer.Size); err != nil {
			m.decline(offer, "too large for memory")
			return err
		}
		t = NewReceiveToBuffer(m.transport, offer.FriendID, offer.FileNumber, offer.Size, m.opts...)
	default:
		m.decline(offer, "rejected by application")
		return nil
	}
	t.name = offer.Name

	m.track(t)
	if err := t.Resume(); err != nil {
		_ = t.Close()
		return err
	}
	return nil
}

// decline cancels an offer no transfer was created for.
func (m *Manager) decline(offer FileOffer, reason string) {
	err := m.transport.FileControl(offer.FriendID, offer.FileNumber, transport.FileControlCancel)

	fields := logrus.Fields{
		"function":    "decline",
		"friend_id":   offer.FriendID,
		"file_number": offer.FileNumber,
		"reason":      reason,
	}
	if err != nil {
		fields["error"] = err.Error()
		logrus.WithFields(fields).Warn("Failed to cancel declined offer")
		return
	}
	logrus.WithFields(fields).Info("File offer declined")
}

// OnChunkRequest routes a chunk request to the outgoing transfer. A transfer
// whose source can no longer be read is canceled.
func (m *Manager) OnChunkRequest(friendID, fileNumber uint32, position uint64, length int) error {
	t, err := m.Get(friendID, fileNumber)
	if err != nil {
		return err
	}
	err = t.Produce(position, length)
	if errors.Is(err, ErrStorage) {
		if cerr := t.Cancel(); cerr != nil {
			return errors.Join(err, cerr)
		}
	}
	return err
}

// OnChunkReceived routes received data to the incoming transfer.
func (m *Manager) OnChunkReceived(friendID, fileNumber uint32, position uint64, data []byte) error {
	t, err := m.Get(friendID, fileNumber)
	if err != nil {
		return err
	}
	return t.Consume(position, data)
}

// OnControlReceived routes a peer's control signal to the transfer.
func (m *Manager) OnControlReceived(friendID, fileNumber uint32, control transport.FileControl) error {
	t, err := m.Get(friendID, fileNumber)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "OnControlReceived",
			"friend_id":   friendID,
			"file_number": fileNumber,
			"control":     control.String(),
		}).Debug("Control for unknown transfer")
		return err
	}
	return t.PeerControl(control)
}

// CloseAll disposes of every active transfer without contacting the
// transport.
func (m *Manager) CloseAll() error {
	var errs []error
	for _, t := range m.Transfers() {
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "CloseAll",
		"failures": len(errs),
	}).Info("All file transfers closed")

	return errors.Join(errs...)
}

func (m *Manager) handleFileRequest(friendID uint32, packet *transport.Packet) error {
	req, err := transport.ParseFileRequest(packet.Data)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleFileRequest",
			"error":    err.Error(),
		}).Error("Failed to deserialize file request")
		return err
	}

	return m.OnFileRecv(FileOffer{
		FriendID:   friendID,
		FileNumber: req.FileNumber,
		Kind:       req.Kind,
		Size:       req.FileSize,
		Name:       req.FileName,
	})
}

func (m *Manager) handleFileControl(friendID uint32, packet *transport.Packet) error {
	msg, err := transport.ParseFileControl(packet.Data)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleFileControl",
			"error":    err.Error(),
		}).Error("Failed to deserialize file control")
		return err
	}
	return m.OnControlReceived(friendID, msg.FileNumber, msg.Control)
}

func (m *Manager) handleFileData(friendID uint32, packet *transport.Packet) error {
	data, err := transport.ParseFileData(packet.Data)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleFileData",
			"error":    err.Error(),
		}).Error("Failed to deserialize file data")
		return err
	}
	return m.OnChunkReceived(friendID, data.FileNumber, data.Position, data.Data)
}

func (m *Manager) handleChunkRequest(friendID uint32, packet *transport.Packet) error {
	req, err := transport.ParseChunkRequest(packet.Data)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleChunkRequest",
			"error":    err.Error(),
		}).Error("Failed to deserialize chunk request")
		return err
	}
	return m.OnChunkRequest(friendID, req.FileNumber, req.Position, int(req.Length))
}
