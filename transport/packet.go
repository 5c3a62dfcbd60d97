package transport

import (
	"errors"
)

// PacketType identifies the type of a file transfer packet.
type PacketType byte

const (
	// PacketFileRequest announces a file offered by a peer.
	PacketFileRequest PacketType = iota + 16
	// PacketFileControl carries a pause, resume or cancel from a peer.
	PacketFileControl
	// PacketFileData carries a chunk of an incoming file. An empty chunk
	// marks the end of the file.
	PacketFileData
	// PacketFileChunkRequest asks the local sender for the next chunk of an
	// outgoing file. A zero length marks the end of the file.
	PacketFileChunkRequest
)

// String returns a readable name for the packet type.
func (pt PacketType) String() string {
	switch pt {
	case PacketFileRequest:
		return "file_request"
	case PacketFileControl:
		return "file_control"
	case PacketFileData:
		return "file_data"
	case PacketFileChunkRequest:
		return "file_chunk_request"
	default:
		return "unknown"
	}
}

// Packet represents a transport packet.
type Packet struct {
	PacketType PacketType
	Data       []byte
}

// Serialize converts a packet to a byte slice for transmission.
func (p *Packet) Serialize() ([]byte, error) {
	if p.Data == nil {
		return nil, errors.New("packet data is nil")
	}

	// Format: [packet type (1 byte)][data (variable length)]
	result := make([]byte, 1+len(p.Data))
	result[0] = byte(p.PacketType)
	copy(result[1:], p.Data)

	return result, nil
}

// ParsePacket converts a byte slice to a Packet structure.
func ParsePacket(data []byte) (*Packet, error) {
	if len(data) < 1 {
		return nil, ErrPacketTooShort
	}

	packet := &Packet{
		PacketType: PacketType(data[0]),
		Data:       make([]byte, len(data)-1),
	}
	copy(packet.Data, data[1:])

	return packet, nil
}
