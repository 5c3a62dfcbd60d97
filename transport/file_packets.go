package transport

import (
	"encoding/binary"
	"fmt"

	"github.com/opd-ai/toxfile/crypto"
	"github.com/opd-ai/toxfile/limits"
)

// FileRequest announces a file offered by a peer.
type FileRequest struct {
	FileNumber uint32
	Kind       FileKind
	FileSize   uint64
	FileID     crypto.ContentID
	FileName   string
}

// FileControlMessage carries a control signal. FromReceiver is set when the
// signal was issued by the side receiving the file; FileNumber is always the
// sender's file number on the wire.
type FileControlMessage struct {
	FileNumber   uint32
	Control      FileControl
	FromReceiver bool
}

// FileData carries a chunk of a file. Empty Data marks the end of the file.
type FileData struct {
	FileNumber uint32
	Position   uint64
	Data       []byte
}

// ChunkRequest asks the sender for Length bytes at Position.
type ChunkRequest struct {
	FileNumber uint32
	Position   uint64
	Length     uint32
}

const (
	fileRequestHeaderLen  = 4 + 4 + 8 + crypto.ContentIDSize + 2
	fileControlLen        = 4 + 1 + 1
	fileDataHeaderLen     = 4 + 8
	fileChunkRequestLen   = 4 + 8 + 4
	controlFlagToReceiver = 0
	controlFlagToSender   = 1
)

// MarshalFileRequest encodes a file request payload.
func MarshalFileRequest(r FileRequest) ([]byte, error) {
	if err := limits.ValidateFileName(r.FileName); err != nil {
		return nil, err
	}

	// Format: [file_number (4)][kind (4)][file_size (8)][file_id (32)][name_len (2)][file_name]
	nameBytes := []byte(r.FileName)
	data := make([]byte, fileRequestHeaderLen+len(nameBytes))

	binary.BigEndian.PutUint32(data[0:4], r.FileNumber)
	binary.BigEndian.PutUint32(data[4:8], uint32(r.Kind))
	binary.BigEndian.PutUint64(data[8:16], r.FileSize)
	copy(data[16:16+crypto.ContentIDSize], r.FileID[:])
	binary.BigEndian.PutUint16(data[fileRequestHeaderLen-2:fileRequestHeaderLen], uint16(len(nameBytes)))
	copy(data[fileRequestHeaderLen:], nameBytes)

	return data, nil
}

// ParseFileRequest decodes a file request payload.
func ParseFileRequest(data []byte) (FileRequest, error) {
	var r FileRequest

	if len(data) < fileRequestHeaderLen {
		return r, fmt.Errorf("file request: %w", ErrPacketTooShort)
	}

	r.FileNumber = binary.BigEndian.Uint32(data[0:4])
	r.Kind = FileKind(binary.BigEndian.Uint32(data[4:8]))
	r.FileSize = binary.BigEndian.Uint64(data[8:16])
	copy(r.FileID[:], data[16:16+crypto.ContentIDSize])
	nameLen := int(binary.BigEndian.Uint16(data[fileRequestHeaderLen-2 : fileRequestHeaderLen]))

	if len(data) < fileRequestHeaderLen+nameLen {
		return r, fmt.Errorf("file request name: %w", ErrPacketTooShort)
	}
	r.FileName = string(data[fileRequestHeaderLen : fileRequestHeaderLen+nameLen])

	if err := limits.ValidateFileName(r.FileName); err != nil {
		return r, err
	}

	return r, nil
}

// MarshalFileControl encodes a file control payload.
func MarshalFileControl(c FileControlMessage) []byte {
	// Format: [file_number (4)][control (1)][direction (1)]
	data := make([]byte, fileControlLen)
	binary.BigEndian.PutUint32(data[0:4], c.FileNumber)
	data[4] = byte(c.Control)
	if c.FromReceiver {
		data[5] = controlFlagToSender
	} else {
		data[5] = controlFlagToReceiver
	}
	return data
}

// ParseFileControl decodes a file control payload.
func ParseFileControl(data []byte) (FileControlMessage, error) {
	var c FileControlMessage

	if len(data) < fileControlLen {
		return c, fmt.Errorf("file control: %w", ErrPacketTooShort)
	}

	c.FileNumber = binary.BigEndian.Uint32(data[0:4])
	c.Control = FileControl(data[4])
	c.FromReceiver = data[5] == controlFlagToSender

	if c.Control > FileControlCancel {
		return c, fmt.Errorf("unknown control type: %d", c.Control)
	}

	return c, nil
}

// MarshalFileData encodes a file data payload.
func MarshalFileData(d FileData) ([]byte, error) {
	if err := limits.ValidateChunk(d.Data); err != nil {
		return nil, err
	}

	// Format: [file_number (4)][position (8)][chunk_data]
	data := make([]byte, fileDataHeaderLen+len(d.Data))
	binary.BigEndian.PutUint32(data[0:4], d.FileNumber)
	binary.BigEndian.PutUint64(data[4:12], d.Position)
	copy(data[fileDataHeaderLen:], d.Data)
	return data, nil
}

// ParseFileData decodes a file data payload. The returned chunk is a copy.
func ParseFileData(data []byte) (FileData, error) {
	var d FileData

	if len(data) < fileDataHeaderLen {
		return d, fmt.Errorf("file data: %w", ErrPacketTooShort)
	}

	d.FileNumber = binary.BigEndian.Uint32(data[0:4])
	d.Position = binary.BigEndian.Uint64(data[4:12])
	if n := len(data) - fileDataHeaderLen; n > 0 {
		d.Data = make([]byte, n)
		copy(d.Data, data[fileDataHeaderLen:])
	}

	return d, nil
}

// MarshalChunkRequest encodes a chunk request payload.
func MarshalChunkRequest(r ChunkRequest) []byte {
	// Format: [file_number (4)][position (8)][length (4)]
	data := make([]byte, fileChunkRequestLen)
	binary.BigEndian.PutUint32(data[0:4], r.FileNumber)
	binary.BigEndian.PutUint64(data[4:12], r.Position)
	binary.BigEndian.PutUint32(data[12:16], r.Length)
	return data
}

// ParseChunkRequest decodes a chunk request payload.
func ParseChunkRequest(data []byte) (ChunkRequest, error) {
	var r ChunkRequest

	if len(data) < fileChunkRequestLen {
		return r, fmt.Errorf("chunk request: %w", ErrPacketTooShort)
	}

	r.FileNumber = binary.BigEndian.Uint32(data[0:4])
	r.Position = binary.BigEndian.Uint64(data[4:12])
	r.Length = binary.BigEndian.Uint32(data[12:16])

	return r, nil
}
