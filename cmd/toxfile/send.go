package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/opd-ai/toxfile/crypto"
	"github.com/opd-ai/toxfile/transfer"
	"github.com/opd-ai/toxfile/transport"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var errSameFile = errors.New("destination is the source file")

func newSendCmd(opts *options) *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "send <file>",
		Short: "Transfer a file over a loopback link and verify the copy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd.OutOrStdout(), afero.NewOsFs(), opts, args[0], outDir)
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "directory receiving the file")
	return cmd
}

func runSend(out io.Writer, fs afero.Fs, opts *options, src, outDir string) error {
	dest := filepath.Join(outDir, filepath.Base(src))
	if err := checkDistinct(fs, src, dest); err != nil {
		return err
	}
	want, err := crypto.HashFile(fs, src)
	if err != nil {
		return err
	}
	if err := fs.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	a, b := transport.NewLoopbackPair(senderSeesReceiver, receiverSeesSender)
	if err := a.SetChunkSize(opts.cfg.ChunkSize); err != nil {
		return err
	}

	policy := transfer.AvatarPolicy{Paths: opts.cfg, MaxSize: opts.cfg.MaxAvatarSize}

	sender := transfer.NewManager(a, policy, transfer.WithFs(fs))
	sender.Attach(a)

	receiver := transfer.NewManager(b, policy, transfer.WithFs(fs))
	receiver.OnFileRequest(func(transfer.FileOffer) transfer.Acceptance {
		return transfer.Acceptance{Action: transfer.AcceptToFile, Path: dest}
	})
	var received *transfer.Transfer
	receiver.OnTransfer(func(t *transfer.Transfer) {
		received = t
		t.Subscribe(progressPrinter(out, "recv"))
	})
	receiver.Attach(b)

	sent, err := sender.SendFile(senderSeesReceiver, src)
	if err != nil {
		return err
	}
	sent.Subscribe(progressPrinter(out, "send"))

	transport.Drain(a, b)

	if sent.State() != transfer.TransferStateFinished || received == nil || received.State() != transfer.TransferStateFinished {
		_ = sender.CloseAll()
		_ = receiver.CloseAll()
		return errors.New("transfer did not finish")
	}

	got, err := crypto.HashFile(fs, received.Path())
	if err != nil {
		return err
	}
	if !got.Equal(want) {
		return fmt.Errorf("content mismatch: sent %s received %s", want, got)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "runSend",
		"source":      src,
		"destination": received.Path(),
		"bytes":       received.Done(),
	}).Info("Loopback transfer verified")

	fmt.Fprintf(out, "%s -> %s (%d bytes, %s)\n", src, received.Path(), received.Done(), got)
	return nil
}

// checkDistinct refuses a destination that names the source, either by path
// or as the same file on disk.
func checkDistinct(fs afero.Fs, src, dest string) error {
	if filepath.Clean(src) == filepath.Clean(dest) {
		return fmt.Errorf("%w: %s", errSameFile, dest)
	}

	srcInfo, err := fs.Stat(src)
	if err != nil {
		return err
	}
	destInfo, err := fs.Stat(dest)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if os.SameFile(srcInfo, destInfo) {
		return fmt.Errorf("%w: %s", errSameFile, dest)
	}
	return nil
}

// progressPrinter writes a line whenever the whole percentage changes or the
// state does.
func progressPrinter(out io.Writer, label string) transfer.ProgressHandler {
	lastPct := -1
	var lastState transfer.TransferState
	return func(ev transfer.ProgressEvent) {
		pct := int(ev.Fraction * 100)
		if pct == lastPct && ev.State == lastState {
			return
		}
		lastPct, lastState = pct, ev.State
		fmt.Fprintf(out, "%s #%d %-8s %3d%%\n", label, ev.FileNumber, ev.State, pct)
	}
}
