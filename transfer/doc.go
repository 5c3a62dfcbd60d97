// Package transfer implements peer-to-peer file transfers on top of a
// transport.FileTransport: progress tracking, the pause/resume/cancel state
// machine, and chunked reads and writes of file or in-memory payloads.
//
// # Transfers
//
// A Transfer is created once per exchange. Its Kind selects the backing
// store:
//
//	KindSendFile       // reads from a file
//	KindSendBuffer     // reads from an immutable byte slice
//	KindReceiveFile    // writes to a file
//	KindReceiveBuffer  // writes to memory
//	KindReceiveAvatar  // writes a friend's avatar after deduplication
//
// Outbound transfers answer chunk requests with Produce; a request of length
// zero finishes the transfer. Inbound transfers store chunks with Consume,
// which accepts positions in any order and zero-fills gaps; an empty chunk
// finishes the transfer.
//
//	t, err := transfer.NewSendTransfer(tr, friendID, "/tmp/report.pdf")
//	if err != nil {
//	    return err
//	}
//	unsubscribe := t.Subscribe(func(ev transfer.ProgressEvent) {
//	    fmt.Printf("%s %.0f%%\n", ev.State, ev.Fraction*100)
//	})
//	defer unsubscribe()
//
// # States
//
// Transfers start Running and move between Running and Paused on control
// signals. Canceled and Finished are terminal: every later chunk or control
// call fails with ErrTerminal, and the file handle has already been released.
// A receiving transfer that is canceled or closed removes its partial file.
//
// Control signals sent with Pause, Resume or Cancel change local state only
// when the transport accepts them. Signals from the peer are applied with
// PeerControl.
//
// # Avatars
//
// NewReceiveAvatar decides once, before any chunk arrives, whether an avatar
// offer is accepted, rejected as oversized, skipped as a duplicate of the
// stored avatar, or treated as a removal. DecideAvatar exposes the decision
// on its own.
//
// # Manager
//
// Manager tracks transfers by friend and file number and routes transport
// events to them:
//
//	m := transfer.NewManager(endpoint, transfer.AvatarPolicy{Paths: cfg})
//	m.SetPublicKeyResolver(resolver)
//	m.OnFileRequest(func(offer transfer.FileOffer) transfer.Acceptance {
//	    return transfer.Acceptance{Action: transfer.AcceptToFile, Path: filepath.Join(dir, offer.Name)}
//	})
//	m.Attach(endpoint)
package transfer
