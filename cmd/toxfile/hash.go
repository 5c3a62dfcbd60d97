package main

import (
	"fmt"

	"github.com/opd-ai/toxfile/crypto"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func newHashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash <file>...",
		Short: "Print the content identifier of files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs := afero.NewOsFs()
			for _, path := range args {
				id, err := crypto.HashFile(fs, path)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", id, path)
			}
			return nil
		},
	}
}
