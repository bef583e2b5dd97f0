package internal

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/SgtCoDFish/PlayPG/internal/core"
	"github.com/SgtCoDFish/PlayPG/internal/core/data"
	"github.com/SgtCoDFish/PlayPG/internal/core/debug"
	"github.com/SgtCoDFish/PlayPG/internal/login"
	"github.com/SgtCoDFish/PlayPG/internal/mapserver"
)

// Controller is the main entrypoint for PlayPG. It's responsible for initializing
// any shared resources (such as database and logging), defining the server for
// the selected mode, and launching it.
type Controller struct {
	Config *core.Config
	Mode   core.Mode
	// Optional; built from Config when nil.
	Logger *logrus.Logger

	db     *gorm.DB
	wg     sync.WaitGroup
	server *frontend
}

// Start validates the configuration, opens the database and starts the server.
// It returns once the server is accepting connections; Wait blocks until it has
// shut down after ctx is cancelled.
func (c *Controller) Start(ctx context.Context) error {
	if c.Logger == nil {
		logger, err := core.NewLogger(c.Config)
		if err != nil {
			return fmt.Errorf("error initializing logger: %w", err)
		}
		c.Logger = logger
	}

	if err := c.Config.Validate(c.Mode); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Start any debug utilities if we're configured to do so.
	if c.Config.Debugging.Enabled {
		debug.StartUtilities(ctx, c.Logger, c.Config.Debugging.PprofPort)
	}

	if c.Mode == core.LoginServerMode {
		if err := c.openDatabase(); err != nil {
			return err
		}
	}

	c.declareServer()
	if err := c.server.Start(ctx, &c.wg); err != nil {
		c.closeDatabase()
		return err
	}
	return nil
}

func (c *Controller) openDatabase() error {
	dialector, err := data.NewDialector(c.Config.Database.Engine, c.Config.DatabaseDSN())
	if err != nil {
		return err
	}
	db, err := data.Open(dialector, c.Config.Debugging.DatabaseLoggingEnabled)
	if err != nil {
		return err
	}
	c.db = db
	return nil
}

// Set up the server for the selected mode.
func (c *Controller) declareServer() {
	switch c.Mode {
	case core.MapServerMode:
		c.server = &frontend{
			Address: c.Config.MapServerAddress(),
			Backend: &mapserver.Server{
				Name:   "MAP",
				Config: c.Config,
				Logger: c.Logger,
			},
			Logger: c.Logger,
		}
	default:
		c.server = &frontend{
			Address: c.Config.LoginAddress(),
			Backend: &login.Server{
				Name:   "LOGIN",
				Config: c.Config,
				Logger: c.Logger,
				DB:     c.db,
			},
			Logger: c.Logger,
		}
	}
}

// Wait blocks until the server has stopped, then releases shared resources.
func (c *Controller) Wait() {
	c.wg.Wait()
	c.closeDatabase()
}

func (c *Controller) closeDatabase() {
	if c.db == nil {
		return
	}
	if err := data.Close(c.db); err != nil {
		c.Logger.Warnf("error closing database: %v", err)
	}
	c.db = nil
}
