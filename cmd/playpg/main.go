// The playpg command runs either the login server or a map server, plus a few
// tools for managing keys and accounts.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/SgtCoDFish/PlayPG/internal"
	"github.com/SgtCoDFish/PlayPG/internal/core"
)

var ConfigFlag string

// Flags are bound to these config keys when they're given on the command line.
var flagKeys = map[string]string{
	"login-server":      "login_server.port",
	"world-server":      "map_server.port",
	"name":              "name",
	"database-engine":   "database.engine",
	"database-server":   "database.host",
	"database-port":     "database.port",
	"database-username": "database.username",
	"database-password": "database.password",
	"database-name":     "database.name",
	"map-dir":           "map_dir",
	"master-address":    "map_server.master_address",
	"master-port":       "map_server.master_port",
	"master-public":     "map_server.master_public_key_file",
	"master-private":    "map_server.master_private_key_file",
	"public-key":        "login_server.public_key_file",
	"private-key":       "login_server.private_key_file",
	"regenerate-keys":   "login_server.regenerate_keys",
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "playpg",
		Short:         "PlayPG login server, map server and related tools",
		Version:       fmt.Sprintf("%s (%s)", core.Version, core.GitHash),
		Args:          cobra.NoArgs,
		RunE:          ServerCommand,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&ConfigFlag, "config", "c", "", "Path to a config file")

	flags := rootCmd.Flags()
	flags.Int("login-server", 0, "Run the login server, optionally on the given port")
	flags.Lookup("login-server").NoOptDefVal = strconv.Itoa(core.DefaultLoginPort)
	flags.Int("world-server", 0, "Run a map server accepting players on the given port")

	// Shared with the account and keygen tools.
	shared := rootCmd.PersistentFlags()
	shared.String("name", "", "Friendly server name")
	shared.String("database-engine", "", "Database engine: sqlite or postgres")
	shared.String("database-server", "", "Postgres host")
	shared.Int("database-port", 0, "Postgres port")
	shared.String("database-username", "", "Postgres username")
	shared.String("database-password", "", "Postgres password")
	shared.String("database-name", "", "Postgres database name")
	shared.String("map-dir", "", "Directory holding .tmx maps")
	shared.String("master-address", "", "Login server address a map server registers with")
	shared.Int("master-port", 0, "Login server port a map server registers with")
	shared.String("master-public", "", "Login server public key file")
	shared.String("master-private", "", "Login server private key file")
	shared.String("public-key", "", "Login server public key file")
	shared.String("private-key", "", "Login server private key file")
	shared.Bool("regenerate-keys", false, "Generate a new login server key pair on startup")
	rootCmd.MarkFlagsMutuallyExclusive("login-server", "world-server")
	rootCmd.MarkFlagsOneRequired("login-server", "world-server")

	rootCmd.AddCommand(accountCmd)
	rootCmd.AddCommand(keygenCmd)
	return rootCmd
}

// loadConfig reads the configuration with any flags set on cmd layered on top.
func loadConfig(cmd *cobra.Command) (*core.Config, error) {
	bindings := make(map[string]*pflag.Flag)
	for name, key := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			bindings[key] = f
		}
	}
	return core.LoadConfig(ConfigFlag, bindings)
}

func ServerCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	mode := core.LoginServerMode
	if cmd.Flags().Changed("world-server") {
		mode = core.MapServerMode
	}

	logger, err := core.NewLogger(cfg)
	if err != nil {
		return err
	}
	logger.Infof("PlayPG %s (%s) starting %v server", core.Version, core.GitHash, mode)

	// Bind the Controller to one top-level context so that we can shut down cleanly.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Ctrl-C shuts the server down gracefully; a second one exits immediately.
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go exitHandler(cancel, c)

	controller := &internal.Controller{
		Config: cfg,
		Mode:   mode,
		Logger: logger,
	}
	if err := controller.Start(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		logger.Error(err)
		return err
	}

	controller.Wait()
	logger.Info("shut down")
	return nil
}

func exitHandler(cancelFn func(), c chan os.Signal) {
	<-c
	fmt.Println("waiting to shut down gracefully...")
	cancelFn()

	<-c
	fmt.Println("hard exiting (killed)")
	os.Exit(1)
}
