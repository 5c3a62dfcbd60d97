package transfer

import "errors"

// ErrTerminal indicates a chunk or control operation on a finished or
// cancelled transfer. It points at a bug in the caller or the transport.
var ErrTerminal = errors.New("transfer is in a terminal state")

// ErrControlRejected indicates the transport did not honor a control signal.
// The transfer keeps its previous state.
var ErrControlRejected = errors.New("control signal rejected by transport")

// ErrChunkRejected indicates the transport refused an outgoing chunk. Progress
// is not advanced.
var ErrChunkRejected = errors.New("chunk rejected by transport")

// ErrWrongDirection indicates a produce call on an inbound transfer or a
// consume call on an outbound one.
var ErrWrongDirection = errors.New("operation not valid for transfer direction")

// ErrChunkOutOfRange indicates a chunk position or length inconsistent with
// the declared transfer size.
var ErrChunkOutOfRange = errors.New("chunk outside declared transfer size")

// ErrStorage indicates a failure reading or writing the transfer's file.
var ErrStorage = errors.New("transfer storage error")

// ErrCleanup indicates that releasing a transfer's resources failed. The
// state transition that triggered the cleanup was still applied.
var ErrCleanup = errors.New("transfer cleanup failed")

// ErrTransferNotFound indicates no tracked transfer matches a friend and file
// number.
var ErrTransferNotFound = errors.New("transfer not found")
