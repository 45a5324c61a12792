package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/airfi/airfi-guest-portal/internal/auth"
)

var overwriteKeys bool

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage session signing keys",
}

var generateKeysCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate the ES256 session signing key pair in KEYS_DIR",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !overwriteKeys {
			if _, err := auth.LoadKeyPair(cfg.KeysDir); err == nil {
				return fmt.Errorf("keys already exist in %s (use --force to replace them)", cfg.KeysDir)
			}
		}
		kp, err := auth.GenerateKeyPair()
		if err != nil {
			return err
		}
		if err := kp.Save(cfg.KeysDir); err != nil {
			return err
		}
		fmt.Printf("Private key: %s\n", filepath.Join(cfg.KeysDir, auth.PrivateKeyFile))
		fmt.Printf("Public key:  %s\n", filepath.Join(cfg.KeysDir, auth.PublicKeyFile))
		if overwriteKeys {
			fmt.Println("Existing session tokens are no longer valid.")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(generateKeysCmd)
	generateKeysCmd.Flags().BoolVar(&overwriteKeys, "force", false, "replace an existing key pair")
}
