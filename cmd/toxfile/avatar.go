package main

import (
	"fmt"
	"io"

	"github.com/opd-ai/toxfile/crypto"
	"github.com/opd-ai/toxfile/transfer"
	"github.com/opd-ai/toxfile/transport"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func newAvatarCmd(opts *options) *cobra.Command {
	var offers int

	cmd := &cobra.Command{
		Use:   "avatar <file>",
		Short: "Offer an avatar from a fresh identity and show how it is deduplicated",
		Long: "Generates a peer identity, offers the avatar to a receiver that stores it " +
			"in the profile directory, then offers it again. The second offer is " +
			"skipped because the stored avatar already has the same content.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAvatar(cmd.OutOrStdout(), afero.NewOsFs(), opts, args[0], offers)
		},
	}
	cmd.Flags().IntVar(&offers, "offers", 2, "how many times to offer the avatar")
	return cmd
}

func runAvatar(out io.Writer, fs afero.Fs, opts *options, path string, offers int) error {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return err
	}
	// Only the public key is needed to locate the stored avatar.
	kp.Wipe()
	if err := fs.MkdirAll(opts.cfg.AvatarDir(), 0o755); err != nil {
		return fmt.Errorf("create avatar directory: %w", err)
	}

	a, b := transport.NewLoopbackPair(senderSeesReceiver, receiverSeesSender)
	if err := a.SetChunkSize(opts.cfg.ChunkSize); err != nil {
		return err
	}

	policy := transfer.AvatarPolicy{Paths: opts.cfg, MaxSize: opts.cfg.MaxAvatarSize}

	sender := transfer.NewManager(a, policy, transfer.WithFs(fs))
	sender.Attach(a)

	receiver := transfer.NewManager(b, policy, transfer.WithFs(fs))
	receiver.SetPublicKeyResolver(transfer.PublicKeyResolverFunc(func(uint32) (crypto.PublicKey, error) {
		return kp.Public, nil
	}))
	var last *transfer.Transfer
	receiver.OnTransfer(func(t *transfer.Transfer) { last = t })
	receiver.Attach(b)

	fmt.Fprintf(out, "peer %s\n", kp.Public)

	for i := 1; i <= offers; i++ {
		last = nil
		sent, err := sender.SendAvatar(senderSeesReceiver, path)
		if err != nil {
			return err
		}
		transport.Drain(a, b)

		if last == nil {
			return fmt.Errorf("offer %d was not evaluated", i)
		}
		fmt.Fprintf(out, "offer %d: %-9s sender %-8s receiver %-8s %s\n",
			i, last.Decision(), sent.State(), last.State(), last.Path())
	}
	return nil
}
