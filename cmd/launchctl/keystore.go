package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"launchpad/pkg/solana"
)

var keystoreDir string

var keystoreCmd = &cobra.Command{
	Use:   "keystore",
	Short: "Manage the encrypted issuance hot wallet",
}

var keystoreGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a hot wallet and save it encrypted with KEYSTORE_PASSWORD",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := keystorePassword()
		if err != nil {
			return err
		}

		km := solana.NewKeyManager(keystoreDir)
		account, err := km.GenerateKeyPair()
		if err != nil {
			return err
		}
		path, err := km.SaveKeyStoreEntry(account, password)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "address: %s\nfile:    %s\n", account.PublicKey.ToBase58(), path)
		return nil
	},
}

var keystoreShowCmd = &cobra.Command{
	Use:   "show <address>",
	Short: "Decrypt an entry and print its public key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := keystorePassword()
		if err != nil {
			return err
		}

		key, err := solana.NewKeyManager(keystoreDir).LoadHotWallet(args[0], password)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "address: %s\n", key.PublicKey())
		return nil
	},
}

func keystorePassword() (string, error) {
	password := os.Getenv("KEYSTORE_PASSWORD")
	if password == "" {
		return "", errors.New("KEYSTORE_PASSWORD is required")
	}
	return password, nil
}

func init() {
	keystoreDir = os.Getenv("KEYSTORE_DIR")
	keystoreCmd.PersistentFlags().StringVar(&keystoreDir, "dir", keystoreDir, "keystore directory")

	keystoreCmd.AddCommand(keystoreGenerateCmd)
	keystoreCmd.AddCommand(keystoreShowCmd)
	rootCmd.AddCommand(keystoreCmd)
}
