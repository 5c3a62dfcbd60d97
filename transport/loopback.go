package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/opd-ai/toxfile/crypto"
	"github.com/opd-ai/toxfile/limits"
	"github.com/sirupsen/logrus"
)

// MaxConcurrentFiles is the number of outgoing files an endpoint tracks per
// friend at once.
const MaxConcurrentFiles = 256

var (
	// ErrTooManyTransfers indicates all outgoing file numbers are in use.
	ErrTooManyTransfers = errors.New("too many concurrent file transfers")

	// ErrInvalidChunk indicates a chunk that falls outside the announced size.
	ErrInvalidChunk = errors.New("chunk outside announced file size")
)

// receivingNumber maps a sender's file number to the number used by the
// receiving side. Receiving numbers never collide with sending numbers.
func receivingNumber(sender uint32) uint32 { return (sender + 1) << 16 }

func senderNumber(receiving uint32) uint32 { return (receiving >> 16) - 1 }

func isReceivingNumber(n uint32) bool { return n >= 1<<16 }

type loopFile struct {
	kind     FileKind
	size     uint64
	fileID   crypto.ContentID
	name     string
	position uint64

	accepted     bool
	pausedLocal  bool
	pausedRemote bool
}

func (f *loopFile) transferring() bool {
	return f.accepted && !f.pausedLocal && !f.pausedRemote
}

// LoopbackEndpoint is one side of an in-process transport pair. It implements
// FileTransport and Registrar. Outbound packets are queued on the peer and
// delivered by the peer's Iterate, so handlers never run inside a transport
// call.
type LoopbackEndpoint struct {
	mu        sync.Mutex
	name      string
	friendID  uint32
	peer      *LoopbackEndpoint
	connected bool
	chunkSize int
	handlers  map[PacketType]PacketHandler
	inbox     [][]byte
	outgoing  map[uint32]*loopFile
	incoming  map[uint32]*loopFile
}

// NewLoopbackPair returns two connected endpoints. Endpoint a knows its peer
// as friend aPeerID and endpoint b knows its peer as friend bPeerID.
func NewLoopbackPair(aPeerID, bPeerID uint32) (*LoopbackEndpoint, *LoopbackEndpoint) {
	a := newLoopbackEndpoint("a", aPeerID)
	b := newLoopbackEndpoint("b", bPeerID)
	a.peer = b
	b.peer = a

	logrus.WithFields(logrus.Fields{
		"function":  "NewLoopbackPair",
		"a_peer_id": aPeerID,
		"b_peer_id": bPeerID,
	}).Debug("Loopback transport pair created")

	return a, b
}

func newLoopbackEndpoint(name string, friendID uint32) *LoopbackEndpoint {
	return &LoopbackEndpoint{
		name:      name,
		friendID:  friendID,
		connected: true,
		chunkSize: limits.DefaultChunkSize,
		handlers:  make(map[PacketType]PacketHandler),
		outgoing:  make(map[uint32]*loopFile),
		incoming:  make(map[uint32]*loopFile),
	}
}

// SetChunkSize sets the chunk length requested from local senders.
func (e *LoopbackEndpoint) SetChunkSize(size int) error {
	if size <= 0 {
		return fmt.Errorf("invalid chunk size %d", size)
	}
	if err := limits.ValidateChunkLength(size); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.chunkSize = size
	return nil
}

// FriendID returns the ID under which this endpoint knows its peer.
func (e *LoopbackEndpoint) FriendID() uint32 {
	return e.friendID
}

// RegisterHandler registers a handler for a packet type.
func (e *LoopbackEndpoint) RegisterHandler(packetType PacketType, handler PacketHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[packetType] = handler
}

// checkFriendLocked validates friendID. Caller holds e.mu.
func (e *LoopbackEndpoint) checkFriendLocked(friendID uint32) error {
	if friendID != e.friendID {
		return fmt.Errorf("%w: %d", ErrFriendNotFound, friendID)
	}
	if !e.connected {
		return ErrFriendNotConnected
	}
	return nil
}

// lookupLocked finds a file by local number. Caller holds e.mu.
func (e *LoopbackEndpoint) lookupLocked(fileNumber uint32) (*loopFile, bool, error) {
	if isReceivingNumber(fileNumber) {
		if f, ok := e.incoming[fileNumber]; ok {
			return f, true, nil
		}
	} else if f, ok := e.outgoing[fileNumber]; ok {
		return f, false, nil
	}
	return nil, false, fmt.Errorf("%w: %d", ErrFileNotFound, fileNumber)
}

// FileSend announces an outgoing file to the peer.
func (e *LoopbackEndpoint) FileSend(friendID uint32, kind FileKind, fileSize uint64, fileID crypto.ContentID, fileName string) (uint32, error) {
	e.mu.Lock()
	if err := e.checkFriendLocked(friendID); err != nil {
		e.mu.Unlock()
		return 0, err
	}

	number, ok := e.freeNumberLocked()
	if !ok {
		e.mu.Unlock()
		return 0, ErrTooManyTransfers
	}

	payload, err := MarshalFileRequest(FileRequest{
		FileNumber: number,
		Kind:       kind,
		FileSize:   fileSize,
		FileID:     fileID,
		FileName:   fileName,
	})
	if err != nil {
		e.mu.Unlock()
		return 0, err
	}

	e.outgoing[number] = &loopFile{
		kind:   kind,
		size:   fileSize,
		fileID: fileID,
		name:   fileName,
	}
	peer := e.peer
	e.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":    "FileSend",
		"endpoint":    e.name,
		"friend_id":   friendID,
		"file_number": number,
		"kind":        kind,
		"file_size":   fileSize,
	}).Debug("File announced to peer")

	peer.enqueue(&Packet{PacketType: PacketFileRequest, Data: payload})
	return number, nil
}

// freeNumberLocked returns the lowest unused outgoing file number.
func (e *LoopbackEndpoint) freeNumberLocked() (uint32, bool) {
	for n := uint32(0); n < MaxConcurrentFiles; n++ {
		if _, used := e.outgoing[n]; !used {
			return n, true
		}
	}
	return 0, false
}

// FileSendChunk sends a chunk of an outgoing file to the peer.
func (e *LoopbackEndpoint) FileSendChunk(friendID, fileNumber uint32, position uint64, data []byte) error {
	e.mu.Lock()
	if err := e.checkFriendLocked(friendID); err != nil {
		e.mu.Unlock()
		return err
	}

	f, ok := e.outgoing[fileNumber]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrFileNotFound, fileNumber)
	}
	if !f.transferring() {
		e.mu.Unlock()
		return ErrFileNotTransferring
	}
	if len(data) == 0 || position+uint64(len(data)) > f.size {
		e.mu.Unlock()
		return fmt.Errorf("%w: position %d length %d size %d", ErrInvalidChunk, position, len(data), f.size)
	}

	payload, err := MarshalFileData(FileData{FileNumber: fileNumber, Position: position, Data: data})
	peer := e.peer
	e.mu.Unlock()
	if err != nil {
		return err
	}

	peer.enqueue(&Packet{PacketType: PacketFileData, Data: payload})
	return nil
}

// FileControl applies a control signal locally and forwards it to the peer.
func (e *LoopbackEndpoint) FileControl(friendID, fileNumber uint32, control FileControl) error {
	e.mu.Lock()
	if err := e.checkFriendLocked(friendID); err != nil {
		e.mu.Unlock()
		return err
	}

	f, receiving, err := e.lookupLocked(fileNumber)
	if err != nil {
		e.mu.Unlock()
		return err
	}

	switch control {
	case FileControlPause:
		if f.pausedLocal {
			e.mu.Unlock()
			return ErrAlreadyPaused
		}
		f.pausedLocal = true
	case FileControlResume:
		switch {
		case receiving && !f.accepted:
			f.accepted = true
		case !f.pausedLocal:
			e.mu.Unlock()
			return ErrNotPaused
		default:
			f.pausedLocal = false
		}
	case FileControlCancel:
		if receiving {
			delete(e.incoming, fileNumber)
		} else {
			delete(e.outgoing, fileNumber)
		}
	default:
		e.mu.Unlock()
		return fmt.Errorf("unknown control type: %d", control)
	}

	wireNumber := fileNumber
	if receiving {
		wireNumber = senderNumber(fileNumber)
	}
	peer := e.peer
	e.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":    "FileControl",
		"endpoint":    e.name,
		"friend_id":   friendID,
		"file_number": fileNumber,
		"control":     control,
	}).Debug("File control sent")

	peer.enqueue(&Packet{
		PacketType: PacketFileControl,
		Data: MarshalFileControl(FileControlMessage{
			FileNumber:   wireNumber,
			Control:      control,
			FromReceiver: receiving,
		}),
	})
	return nil
}

// FileGetFileID returns the content identifier announced for a file.
func (e *LoopbackEndpoint) FileGetFileID(friendID, fileNumber uint32) (crypto.ContentID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if friendID != e.friendID {
		return crypto.ContentID{}, fmt.Errorf("%w: %d", ErrFriendNotFound, friendID)
	}

	f, _, err := e.lookupLocked(fileNumber)
	if err != nil {
		return crypto.ContentID{}, err
	}
	return f.fileID, nil
}

// Disconnect simulates loss of the connection between the endpoints. Both
// sides drop queued packets and report every tracked file as cancelled to
// their own handlers, the way a transport reports abandoned transfers.
func (e *LoopbackEndpoint) Disconnect() {
	e.disconnect()
	e.peer.disconnect()
}

// Reconnect restores the connection between the endpoints.
func (e *LoopbackEndpoint) Reconnect() {
	for _, ep := range []*LoopbackEndpoint{e, e.peer} {
		ep.mu.Lock()
		ep.connected = true
		ep.mu.Unlock()
	}
}

func (e *LoopbackEndpoint) disconnect() {
	e.mu.Lock()
	e.connected = false
	e.inbox = nil

	numbers := make([]uint32, 0, len(e.outgoing)+len(e.incoming))
	for n := range e.outgoing {
		numbers = append(numbers, n)
	}
	for n := range e.incoming {
		numbers = append(numbers, n)
	}
	e.outgoing = make(map[uint32]*loopFile)
	e.incoming = make(map[uint32]*loopFile)
	handler := e.handlers[PacketFileControl]
	e.mu.Unlock()

	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })

	logrus.WithFields(logrus.Fields{
		"function":  "disconnect",
		"endpoint":  e.name,
		"friend_id": e.friendID,
		"files":     len(numbers),
	}).Info("Loopback peer disconnected")

	if handler == nil {
		return
	}
	for _, n := range numbers {
		// Numbers are already local; the direction flag is informational.
		msg := MarshalFileControl(FileControlMessage{
			FileNumber:   n,
			Control:      FileControlCancel,
			FromReceiver: !isReceivingNumber(n),
		})
		e.dispatch(handler, &Packet{PacketType: PacketFileControl, Data: msg})
	}
}

// enqueue serializes a packet into the endpoint's inbox.
func (e *LoopbackEndpoint) enqueue(packet *Packet) {
	raw, err := packet.Serialize()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "enqueue",
			"endpoint": e.name,
			"error":    err.Error(),
		}).Error("Failed to serialize packet")
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.connected {
		return
	}
	e.inbox = append(e.inbox, raw)
}

// Iterate delivers queued packets to registered handlers, then issues one
// chunk request for every transferring outgoing file. It returns the number of
// events processed; zero means the endpoint is idle.
func (e *LoopbackEndpoint) Iterate() int {
	e.mu.Lock()
	inbox := e.inbox
	e.inbox = nil
	e.mu.Unlock()

	events := 0
	for _, raw := range inbox {
		if e.deliver(raw) {
			events++
		}
	}

	return events + e.requestChunks()
}

// Drain iterates the endpoints until none of them has work left and returns
// the number of events processed.
func Drain(endpoints ...*LoopbackEndpoint) int {
	total := 0
	for {
		round := 0
		for _, ep := range endpoints {
			round += ep.Iterate()
		}
		if round == 0 {
			return total
		}
		total += round
	}
}

// deliver parses one queued packet, applies it to the endpoint's file table,
// rewrites the file number into local numbering and dispatches it.
func (e *LoopbackEndpoint) deliver(raw []byte) bool {
	packet, err := ParsePacket(raw)
	if err != nil || len(packet.Data) < 4 {
		logrus.WithFields(logrus.Fields{
			"function": "deliver",
			"endpoint": e.name,
		}).Warn("Dropping malformed packet")
		return false
	}

	e.mu.Lock()
	local, endOfFile, ok := e.applyLocked(packet)
	handler := e.handlers[packet.PacketType]
	e.mu.Unlock()

	if !ok {
		return false
	}

	binary.BigEndian.PutUint32(packet.Data[0:4], local)
	if handler != nil {
		e.dispatch(handler, packet)
	}

	if endOfFile {
		e.mu.Lock()
		delete(e.incoming, local)
		e.mu.Unlock()
	}
	return true
}

// applyLocked updates the file table for an inbound packet and returns the
// local file number. Caller holds e.mu.
func (e *LoopbackEndpoint) applyLocked(packet *Packet) (local uint32, endOfFile, ok bool) {
	wire := binary.BigEndian.Uint32(packet.Data[0:4])

	switch packet.PacketType {
	case PacketFileRequest:
		req, err := ParseFileRequest(packet.Data)
		if err != nil {
			return 0, false, false
		}
		local = receivingNumber(wire)
		e.incoming[local] = &loopFile{
			kind:   req.Kind,
			size:   req.FileSize,
			fileID: req.FileID,
			name:   req.FileName,
		}
		return local, false, true

	case PacketFileData:
		local = receivingNumber(wire)
		if _, exists := e.incoming[local]; !exists {
			return 0, false, false
		}
		return local, len(packet.Data) == fileDataHeaderLen, true

	case PacketFileControl:
		msg, err := ParseFileControl(packet.Data)
		if err != nil {
			return 0, false, false
		}

		table := e.incoming
		local = receivingNumber(wire)
		if msg.FromReceiver {
			table = e.outgoing
			local = wire
		}

		f, exists := table[local]
		if !exists {
			return 0, false, false
		}

		switch msg.Control {
		case FileControlPause:
			f.pausedRemote = true
		case FileControlResume:
			if msg.FromReceiver && !f.accepted {
				f.accepted = true
			} else {
				f.pausedRemote = false
			}
		case FileControlCancel:
			delete(table, local)
		}
		return local, false, true
	}

	return 0, false, false
}

// requestChunks issues one chunk request per transferring outgoing file. A
// file whose position reached its size gets a zero-length request, the peer
// gets an end-of-file chunk, and the file is forgotten. The position only
// advances once the handler has served the request; a failed request
// cancels the file on both sides.
func (e *LoopbackEndpoint) requestChunks() int {
	type request struct {
		number   uint32
		position uint64
		length   uint32
	}

	e.mu.Lock()
	handler := e.handlers[PacketFileChunkRequest]
	numbers := make([]uint32, 0, len(e.outgoing))
	for n, f := range e.outgoing {
		if f.transferring() {
			numbers = append(numbers, n)
		}
	}
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })

	requests := make([]request, 0, len(numbers))
	for _, n := range numbers {
		f := e.outgoing[n]
		remaining := f.size - f.position
		length := uint64(e.chunkSize)
		if remaining < length {
			length = remaining
		}
		requests = append(requests, request{number: n, position: f.position, length: uint32(length)})
		if length == 0 {
			delete(e.outgoing, n)
		}
	}
	peer := e.peer
	e.mu.Unlock()

	for _, r := range requests {
		var err error
		if handler != nil {
			err = e.dispatch(handler, &Packet{
				PacketType: PacketFileChunkRequest,
				Data: MarshalChunkRequest(ChunkRequest{
					FileNumber: r.number,
					Position:   r.position,
					Length:     r.length,
				}),
			})
		}

		if r.length == 0 {
			eof, _ := MarshalFileData(FileData{FileNumber: r.number, Position: r.position})
			peer.enqueue(&Packet{PacketType: PacketFileData, Data: eof})
			continue
		}

		if err == nil {
			e.mu.Lock()
			if f, ok := e.outgoing[r.number]; ok && f.position == r.position {
				f.position += uint64(r.length)
			}
			e.mu.Unlock()
			continue
		}
		e.abandon(r.number)
	}

	return len(requests)
}

// abandon drops an outgoing file whose chunk request failed and tells the
// peer. Files already canceled by the handler are left alone.
func (e *LoopbackEndpoint) abandon(number uint32) {
	e.mu.Lock()
	_, ok := e.outgoing[number]
	delete(e.outgoing, number)
	peer := e.peer
	e.mu.Unlock()

	if !ok {
		return
	}

	logrus.WithFields(logrus.Fields{
		"function":    "abandon",
		"endpoint":    e.name,
		"file_number": number,
	}).Warn("Chunk request failed; canceling file")

	peer.enqueue(&Packet{
		PacketType: PacketFileControl,
		Data: MarshalFileControl(FileControlMessage{
			FileNumber: number,
			Control:    FileControlCancel,
		}),
	})
}

// dispatch runs a handler and logs its error.
func (e *LoopbackEndpoint) dispatch(handler PacketHandler, packet *Packet) error {
	err := handler(e.friendID, packet)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "dispatch",
			"endpoint":    e.name,
			"packet_type": packet.PacketType,
			"error":       err.Error(),
		}).Warn("Packet handler failed")
	}
	return err
}
