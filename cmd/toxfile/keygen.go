package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/opd-ai/toxfile/crypto"
	"github.com/spf13/cobra"
)

func newKeygenCmd() *cobra.Command {
	var showSecret bool

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a peer identity and print its public key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := crypto.GenerateKeyPair()
			if err != nil {
				return err
			}
			defer kp.Wipe()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "public %s\n", kp.Public)
			if showSecret {
				fmt.Fprintf(out, "secret %s\n", strings.ToUpper(hex.EncodeToString(kp.Private[:])))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showSecret, "secret", false, "also print the secret key")
	return cmd
}
