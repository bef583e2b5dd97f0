package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/SgtCoDFish/PlayPG/internal/core/crypto"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen [base filename]",
	Short: "Generates a public/private RSA key pair for the login server",
	Long: "Generates a public/private RSA key pair for the login server. Map servers\n" +
		"need a copy of both files to recognise their login server.",
	Args: cobra.MaximumNArgs(1),
	RunE: KeygenCommand,
}

var KeyBitsFlag int

func init() {
	keygenCmd.Flags().IntVar(&KeyBitsFlag, "bits", 0, "RSA key size (defaults to login_server.key_bits)")
}

func KeygenCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	publicKeyFile := cfg.LoginServer.PublicKeyFile
	privateKeyFile := cfg.LoginServer.PrivateKeyFile
	if len(args) == 1 {
		publicKeyFile = args[0] + ".pub"
		privateKeyFile = args[0] + ".pem"
	}

	bits := KeyBitsFlag
	if bits == 0 {
		bits = cfg.LoginServer.KeyBits
	}

	keys, err := crypto.GenerateKeyPair(bits)
	if err != nil {
		return fmt.Errorf("error generating RSA key: %w", err)
	}
	if err := keys.WriteFiles(publicKeyFile, privateKeyFile); err != nil {
		return err
	}

	fmt.Println("Generated private key: " + privateKeyFile +
		"\nGenerated public key: " + publicKeyFile)
	return nil
}
