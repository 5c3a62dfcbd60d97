package transfer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/opd-ai/toxfile/crypto"
	"github.com/opd-ai/toxfile/limits"
	"github.com/opd-ai/toxfile/transport"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// AvatarDecision is the outcome of evaluating an avatar offer.
type AvatarDecision uint8

const (
	// AvatarAccept resumes the transfer and stores the new avatar.
	AvatarAccept AvatarDecision = iota
	// AvatarReject cancels an offer larger than the allowed maximum.
	AvatarReject
	// AvatarDuplicate cancels an offer whose content is already stored.
	AvatarDuplicate
	// AvatarRemoval cancels a zero-size offer and deletes the stored avatar.
	AvatarRemoval
)

// String returns a readable name for the decision.
func (d AvatarDecision) String() string {
	switch d {
	case AvatarAccept:
		return "accept"
	case AvatarReject:
		return "reject"
	case AvatarDuplicate:
		return "duplicate"
	case AvatarRemoval:
		return "removal"
	default:
		return "unknown"
	}
}

// DecideAvatar evaluates an avatar offer. maxSize of zero means
// limits.MaxAvatarSize. contentMatches is consulted only when a prior avatar
// exists and the offer is not empty.
func DecideAvatar(declaredSize, maxSize uint64, priorExists, contentMatches bool) AvatarDecision {
	if limits.ValidateAvatarSize(declaredSize, maxSize) != nil {
		return AvatarReject
	}
	if !priorExists {
		return AvatarAccept
	}
	if declaredSize == 0 {
		return AvatarRemoval
	}
	if contentMatches {
		return AvatarDuplicate
	}
	return AvatarAccept
}

// AvatarPathProvider maps a peer's public key to the location of its stored
// avatar.
type AvatarPathProvider interface {
	AvatarPath(pk crypto.PublicKey) string
}

// AvatarPathFunc adapts a function to AvatarPathProvider.
type AvatarPathFunc func(pk crypto.PublicKey) string

// AvatarPath implements AvatarPathProvider.
func (f AvatarPathFunc) AvatarPath(pk crypto.PublicKey) string {
	return f(pk)
}

// AvatarPolicy configures how avatar offers are evaluated.
type AvatarPolicy struct {
	Paths   AvatarPathProvider
	MaxSize uint64
}

// NewReceiveAvatar evaluates an avatar offer from the peer identified by
// peerKey and returns the transfer in its resulting state. An accepted offer
// is resumed and written to the path the policy derives from peerKey; every
// other decision cancels the offer without creating a file. Decision reports
// which branch was taken.
//
// Transport failures while signalling the decision do not fail construction;
// they are logged and available from Err.
func NewReceiveAvatar(tr transport.FileTransport, friendID, fileNumber uint32, size uint64, peerKey crypto.PublicKey, policy AvatarPolicy, opts ...Option) (*Transfer, error) {
	if policy.Paths == nil {
		return nil, errors.New("avatar policy has no path provider")
	}

	t := newTransfer(KindReceiveAvatar, tr, friendID, opts)
	t.fileKind = transport.FileKindAvatar
	t.fileNumber = fileNumber
	t.size = size
	t.path = policy.Paths.AvatarPath(peerKey)
	t.name = filepath.Base(t.path)

	prior, err := afero.Exists(t.fs, t.path)
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %w", ErrStorage, t.path, err)
	}

	matches := false
	if prior && size > 0 && limits.ValidateAvatarSize(size, policy.MaxSize) == nil {
		matches = t.storedAvatarMatches()
	}

	t.decision = DecideAvatar(size, policy.MaxSize, prior, matches)

	fields := t.fields("NewReceiveAvatar")
	fields["path"] = t.path
	fields["file_size"] = size
	fields["decision"] = t.decision.String()
	logrus.WithFields(fields).Info("Avatar offer evaluated")

	if t.decision != AvatarAccept {
		t.declineAvatar()
		return t, nil
	}

	if err := t.fs.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create avatar directory: %w", ErrStorage, err)
	}
	f, err := t.fs.OpenFile(t.path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %w", ErrStorage, t.path, err)
	}
	t.file = f

	if err := tr.FileControl(friendID, fileNumber, transport.FileControlResume); err != nil {
		fields := t.fields("NewReceiveAvatar")
		fields["error"] = err.Error()
		logrus.WithFields(fields).Warn("Transport rejected avatar resume")
		t.err = fmt.Errorf("%w: resume: %w", ErrControlRejected, err)
	}
	return t, nil
}

// Decision returns the outcome of the avatar evaluation. It is meaningful
// only for avatar transfers.
func (t *Transfer) Decision() AvatarDecision {
	return t.decision
}

// storedAvatarMatches compares the stored avatar's hash with the content
// identifier the peer advertised. Any failure counts as a mismatch.
func (t *Transfer) storedAvatarMatches() bool {
	advertised, err := t.FileID()
	if err != nil {
		fields := t.fields("storedAvatarMatches")
		fields["error"] = err.Error()
		logrus.WithFields(fields).Debug("Advertised avatar id unavailable")
		return false
	}

	stored, err := crypto.HashFile(t.fs, t.path)
	if err != nil {
		fields := t.fields("storedAvatarMatches")
		fields["error"] = err.Error()
		logrus.WithFields(fields).Warn("Failed to hash stored avatar")
		return false
	}
	return stored.Equal(advertised)
}

// declineAvatar cancels the offer and, for a removal, deletes the stored
// avatar. The transfer ends Canceled even if the transport refuses the
// signal.
func (t *Transfer) declineAvatar() {
	var errs []error

	if err := t.transport.FileControl(t.friendID, t.fileNumber, transport.FileControlCancel); err != nil {
		fields := t.fields("declineAvatar")
		fields["error"] = err.Error()
		logrus.WithFields(fields).Warn("Transport rejected avatar cancel")
		errs = append(errs, fmt.Errorf("%w: cancel: %w", ErrControlRejected, err))
	}
	t.state = TransferStateCanceled

	if t.decision == AvatarRemoval {
		if err := t.fs.Remove(t.path); err != nil {
			fields := t.fields("declineAvatar")
			fields["path"] = t.path
			fields["error"] = err.Error()
			logrus.WithFields(fields).Warn("Failed to remove stored avatar")
			errs = append(errs, fmt.Errorf("%w: remove %s: %w", ErrCleanup, t.path, err))
		} else {
			logrus.WithFields(t.fields("declineAvatar")).Info("Stored avatar removed")
		}
	}

	t.err = errors.Join(errs...)
}
