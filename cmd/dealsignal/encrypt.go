package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"dealsignal/internal/crypto"
)

func newEncryptCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt <secret>",
		Short: "Seal a secret with the configured encryption key for use in config files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := opts.settings()
			if err != nil {
				return err
			}
			key, err := crypto.ParseKey(settings.EncryptionKey)
			if err != nil {
				return err
			}
			sealer, err := crypto.NewSealer(key)
			if err != nil {
				return err
			}
			sealed, err := sealer.Encrypt(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), crypto.EncryptedPrefix+sealed)
			return nil
		},
	}
}
