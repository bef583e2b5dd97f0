package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/SgtCoDFish/PlayPG/internal/core"
	"github.com/SgtCoDFish/PlayPG/internal/core/crypto"
	"github.com/SgtCoDFish/PlayPG/internal/core/data"
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Account management tools",
}

var accountAddCmd = &cobra.Command{
	Use:   "add [username] [password]",
	Short: "Registers a new account in the database",
	Args:  cobra.MaximumNArgs(2),
	RunE:  AccountAddCommand,
}

var LanguageFlag string

func init() {
	accountAddCmd.Flags().StringVar(&LanguageFlag, "language", "", "BCP 47 language preference of the account")
	accountCmd.AddCommand(accountAddCmd)
}

func AccountAddCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := core.NewLogger(cfg)
	if err != nil {
		return err
	}

	dialector, err := data.NewDialector(cfg.Database.Engine, cfg.DatabaseDSN())
	if err != nil {
		return err
	}
	db, err := data.Open(dialector, cfg.Debugging.DatabaseLoggingEnabled)
	if err != nil {
		return err
	}
	defer data.Close(db)

	username, args := popArg(args, "Username")
	password, _ := popArg(args, "Password")
	if username == "" || password == "" {
		return errors.New("username and password are required")
	}

	existing, err := data.FindPlayerByUsername(db, username)
	if err != nil && !errors.Is(err, data.ErrDuplicateRecords) {
		return fmt.Errorf("error looking up account: %w", err)
	} else if existing != nil {
		fmt.Printf("account '%s' already exists; skipping\n", username)
		return nil
	}

	hasher, err := crypto.NewHasher(logger, cfg.LoginServer.HashIterations)
	if err != nil {
		return err
	}
	hash, salt, err := hasher.Hash(password)
	if err != nil {
		return err
	}

	player := &data.Player{
		Username:     username,
		PasswordHash: hash,
		PasswordSalt: salt,
		Language:     LanguageFlag,
	}
	if err := db.Transaction(func(tx *gorm.DB) error {
		return data.CreatePlayer(tx, player)
	}); err != nil {
		return fmt.Errorf("error creating account: %w", err)
	}

	fmt.Printf("created account for '%s' (ID: %d, language: %s)\n", player.Username, player.ID, player.Language)
	return nil
}

func popArg(args []string, prompt string) (string, []string) {
	if len(args) > 0 {
		return args[0], args[1:]
	}

	fmt.Printf("%s: ", prompt)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Scan()
	return scanner.Text(), args
}
