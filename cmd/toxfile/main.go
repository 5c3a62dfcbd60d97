// Command toxfile exercises the file transfer core from the command line.
//
// Transfers run over an in-process loopback transport, so the send and avatar
// commands show the full offer, accept, chunk and finish cycle without a
// network:
//
//	toxfile send ./report.pdf --out ./received
//	toxfile avatar ./me.png --profile-dir /tmp/profile
//	toxfile hash ./me.png
//	toxfile keygen
package main

import (
	"fmt"
	"os"

	"github.com/opd-ai/toxfile/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Friend IDs used by the two ends of the loopback pair.
const (
	senderSeesReceiver = 1
	receiverSeesSender = 2
)

type options struct {
	profileDir    string
	logLevel      string
	chunkSize     int
	maxAvatarSize uint64

	cfg *config.Config
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "toxfile",
		Short:         "Peer-to-peer file transfer tools",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.profileDir, "profile-dir", "", "profile root (default: user config dir, or $"+config.EnvProfileDir+")")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: panic, fatal, error, warn, info, debug, trace")
	flags.IntVar(&opts.chunkSize, "chunk-size", 0, "chunk length requested from senders")
	flags.Uint64Var(&opts.maxAvatarSize, "max-avatar-size", 0, "largest avatar accepted, in bytes")

	root.AddCommand(
		newSendCmd(opts),
		newAvatarCmd(opts),
		newHashCmd(),
		newKeygenCmd(),
	)
	return root
}

// load builds the configuration from defaults, the environment and any
// flags given on the command line, then configures logging.
func (o *options) load(cmd *cobra.Command) error {
	cfg := config.Load()

	flags := cmd.Flags()
	if flags.Changed("profile-dir") {
		cfg.ProfileDir = o.profileDir
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
	if flags.Changed("chunk-size") {
		cfg.ChunkSize = o.chunkSize
	}
	if flags.Changed("max-avatar-size") {
		cfg.MaxAvatarSize = o.maxAvatarSize
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	logrus.SetOutput(cmd.ErrOrStderr())
	cfg.ApplyLogLevel()

	logrus.WithFields(logrus.Fields{
		"function":    "load",
		"profile_dir": cfg.ProfileDir,
		"chunk_size":  cfg.ChunkSize,
		"log_level":   cfg.LogLevel,
	}).Debug("Configuration loaded")

	o.cfg = cfg
	return nil
}
