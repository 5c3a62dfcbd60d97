// Package transport defines the boundary between file transfers and the
// messaging layer that actually moves bytes between peers.
//
// # Capability
//
// File transfers depend only on the FileTransport interface:
//
//	type FileTransport interface {
//	    FileSend(friendID uint32, kind FileKind, fileSize uint64, fileID crypto.ContentID, fileName string) (uint32, error)
//	    FileSendChunk(friendID, fileNumber uint32, position uint64, data []byte) error
//	    FileControl(friendID, fileNumber uint32, control FileControl) error
//	    FileGetFileID(friendID, fileNumber uint32) (crypto.ContentID, error)
//	}
//
// Every call can fail (peer offline, unknown file number, control not valid in
// the current state). Callers treat such failures as non-fatal.
//
// # Packets
//
// Events flowing the other way (a peer announcing a file, a chunk arriving, a
// control signal, the transport asking for the next chunk) are delivered as
// packets to handlers registered through a Registrar:
//
//	endpoint.RegisterHandler(transport.PacketFileData, func(friendID uint32, p *transport.Packet) error {
//	    data, err := transport.ParseFileData(p.Data)
//	    ...
//	})
//
// The payload codecs (ParseFileRequest, ParseFileControl, ParseFileData,
// ParseChunkRequest and their Marshal counterparts) use big-endian framing.
//
// # Loopback
//
// NewLoopbackPair connects two in-process endpoints. Packets are serialized
// and parsed on every hop, and the endpoints enforce the same acceptance and
// pause rules as a network transport. Packets queue on the receiving endpoint
// until its Iterate runs, which also issues chunk requests for running
// outgoing files, so tests and tools can run complete transfers without a
// network. A chunk request whose handler returns an error cancels the file
// on both endpoints.
//
//	alice, bob := transport.NewLoopbackPair(bobID, aliceID)
//	...
//	transport.Drain(alice, bob)
package transport
