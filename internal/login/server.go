// Package login implements the login server: it authenticates players, serves
// their character queries and hands them off to map servers, and it negotiates
// which maps each registering map server may host.
package login

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/SgtCoDFish/PlayPG/internal/core"
	"github.com/SgtCoDFish/PlayPG/internal/core/client"
	"github.com/SgtCoDFish/PlayPG/internal/core/crypto"
	"github.com/SgtCoDFish/PlayPG/internal/core/data"
)

// MaxAttemptsAllowed is the number of failed steps a connection may take before
// it is dropped.
const MaxAttemptsAllowed = 3

// Server is the login server backend. Connections handed to Admit go through the
// handshake on the incoming loop, then live in either the session registry or
// the map server federation.
type Server struct {
	Name   string
	Config *core.Config
	Logger *logrus.Logger
	DB     *gorm.DB
	// Optional; loaded or generated from the configured key files when nil.
	Keys *crypto.KeyPair

	hasher  *crypto.Hasher
	catalog *Catalog

	// Admit only ever takes admitMu so that accepting is never held up by a
	// tick of the incoming loop.
	admitMu  sync.Mutex
	admitted []*incomingConnection

	incomingMu sync.Mutex
	incoming   []*incomingConnection
	lastPurge  time.Time

	sessions   *SessionRegistry
	federation *Federation

	nextGUID atomic.Uint64
}

func (s *Server) Identifier() string {
	return s.Name
}

// Init loads the server's keys, map catalog and bootstrap account. Any error
// here means the server must not accept connections.
func (s *Server) Init(_ context.Context) error {
	cfg := s.Config.LoginServer

	if s.Keys == nil {
		keys, err := s.loadKeys()
		if err != nil {
			return err
		}
		s.Keys = keys
	}

	hasher, err := crypto.NewHasher(s.Logger, cfg.HashIterations)
	if err != nil {
		return err
	}
	s.hasher = hasher

	if err := s.bootstrapAccount(); err != nil {
		return err
	}

	catalog, err := LoadCatalog(s.Logger, s.DB, s.Config.MapDir)
	if err != nil {
		return fmt.Errorf("loading maps: %w", err)
	}
	s.catalog = catalog
	s.Logger.Infof("[%s] serving %d maps", s.Name, catalog.Len())

	s.sessions = NewSessionRegistry()
	s.federation = NewFederation(s.Name, s.Logger)
	s.lastPurge = time.Now()
	return nil
}

func (s *Server) loadKeys() (*crypto.KeyPair, error) {
	cfg := s.Config.LoginServer

	if cfg.RegenerateKeys {
		bits := cfg.KeyBits
		if bits == 0 {
			bits = crypto.DefaultKeyBits
		}
		s.Logger.Infof("[%s] generating a new %d bit key pair", s.Name, bits)
		keys, err := crypto.GenerateKeyPair(bits)
		if err != nil {
			return nil, err
		}
		if err := keys.WriteFiles(cfg.PublicKeyFile, cfg.PrivateKeyFile); err != nil {
			return nil, err
		}
		s.Logger.Infof("[%s] wrote %s and %s", s.Name, cfg.PublicKeyFile, cfg.PrivateKeyFile)
		return keys, nil
	}

	keys, err := crypto.LoadKeyPair(cfg.PublicKeyFile, cfg.PrivateKeyFile)
	if err != nil {
		return nil, fmt.Errorf("loading key pair: %w", err)
	}
	return keys, nil
}

// bootstrapAccount creates the superuser account when no accounts exist.
func (s *Server) bootstrapAccount() error {
	hash, salt, err := s.hasher.Hash(s.Config.LoginServer.BootstrapPassword)
	if err != nil {
		return err
	}
	created, err := data.CreateBootstrapPlayer(s.DB, hash, salt)
	if err != nil {
		return fmt.Errorf("creating bootstrap account: %w", err)
	}
	if created {
		s.Logger.Warnf("[%s] created account %q with the configured bootstrap password; change it",
			s.Name, data.BootstrapUsername)
	}
	return nil
}

// Admit queues a newly accepted connection for the handshake.
func (s *Server) Admit(c *client.Client) {
	c.ReadTimeout = s.Config.LoginServer.ReadTimeout
	c.WriteTimeout = s.Config.LoginServer.ReadTimeout
	c.Logger = s.Logger
	c.Debug = s.Config.Debugging.PacketLoggingEnabled

	s.admitMu.Lock()
	defer s.admitMu.Unlock()
	s.admitted = append(s.admitted, newIncomingConnection(c, time.Now()))
}

// Run drives the incoming, session and map server health loops until ctx is
// cancelled, then closes every connection the server owns.
func (s *Server) Run(ctx context.Context) {
	cfg := s.Config.LoginServer

	var wg sync.WaitGroup
	loops := []struct {
		interval time.Duration
		fn       func()
	}{
		{cfg.IncomingTick, func() { s.processIncoming(time.Now()) }},
		{cfg.SessionTick, s.processSessions},
		{cfg.HealthCheckInterval, func() { s.federation.CheckHealth() }},
	}
	for _, loop := range loops {
		wg.Add(1)
		go func(interval time.Duration, fn func()) {
			defer wg.Done()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					fn()
				}
			}
		}(loop.interval, loop.fn)
	}
	wg.Wait()

	s.Logger.Infof("[%s] shutting down", s.Name)
	s.closeIncoming()
	s.sessions.CloseAll()
	s.federation.CloseAll()
}

// Sessions exposes the session registry.
func (s *Server) Sessions() *SessionRegistry { return s.sessions }

// Federation exposes the map server registry.
func (s *Server) Federation() *Federation { return s.federation }

// Catalog returns the maps this server accepts.
func (s *Server) Catalog() *Catalog { return s.catalog }
