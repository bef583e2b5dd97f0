// Package mapserver implements a map (world) server: it registers with the
// login server for the maps it can host and then accepts the players the login
// server hands off to it.
package mapserver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"

	"github.com/SgtCoDFish/PlayPG/internal/core"
	"github.com/SgtCoDFish/PlayPG/internal/core/client"
	"github.com/SgtCoDFish/PlayPG/internal/core/crypto"
	"github.com/SgtCoDFish/PlayPG/internal/maps"
)

const (
	// Delay before the first registration retry; doubles on each attempt.
	retryBase = 500 * time.Millisecond
	retryCap  = 10 * time.Second
	// How often the login server link and player connections are polled.
	pollInterval = 250 * time.Millisecond
)

var (
	// ErrNotNeeded means the login server accepted none of our maps.
	ErrNotNeeded = errors.New("login server does not need any of our maps")
	// ErrVersionMismatch means the login server runs a different build.
	ErrVersionMismatch = errors.New("login server version mismatch")
	// ErrUntrustedMaster means the login server's public key is not the one
	// we were configured with.
	ErrUntrustedMaster = errors.New("login server public key does not match")
	// ErrUnexpectedReply means the login server broke the registration protocol.
	ErrUnexpectedReply = errors.New("unexpected reply from login server")
)

// Server is the map server backend.
type Server struct {
	Name   string
	Config *core.Config
	Logger *logrus.Logger
	// The login server's key pair. Loaded from the master key files when nil.
	MasterKeys *crypto.KeyPair

	maps []maps.Identifier

	masterMu sync.Mutex
	master   *client.Client
	granted  []maps.Identifier
	// Earliest time a lost login server link is re-registered.
	nextRegistration time.Time

	playersMu sync.Mutex
	players   []*client.Client
}

func (s *Server) Identifier() string {
	return s.Name
}

// Init loads the maps and registers with the login server. The map server
// must not accept players until this succeeds.
func (s *Server) Init(ctx context.Context) error {
	ids, err := maps.LoadDir(s.Logger, s.Config.MapDir)
	if err != nil {
		return fmt.Errorf("loading maps: %w", err)
	}
	s.maps = ids
	for _, id := range ids {
		s.Logger.Infof("[%s] loaded map %v", s.Name, id)
	}

	if s.MasterKeys == nil {
		cfg := s.Config.MapServer
		keys, err := crypto.LoadKeyPair(cfg.MasterPublicKeyFile, cfg.MasterPrivateKeyFile)
		if err != nil {
			return fmt.Errorf("loading login server keys: %w", err)
		}
		s.MasterKeys = keys
	}

	return s.Register(ctx)
}

// Register connects to the login server and negotiates the maps this server
// will host, retrying with backoff when the login server cannot be reached.
// Protocol failures are not retried.
func (s *Server) Register(ctx context.Context) error {
	backoff := retry.WithMaxRetries(uint64(s.Config.MapServer.RegistrationRetries),
		retry.WithCappedDuration(retryCap, retry.NewExponential(retryBase)))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := s.register(ctx)
		if errors.Is(err, errConnection) {
			s.Logger.Warnf("[%s] registration with %s failed, retrying: %v", s.Name, s.Config.MasterAddress(), err)
			return retry.RetryableError(err)
		}
		return err
	})
}

// Admit takes ownership of a player connection.
func (s *Server) Admit(c *client.Client) {
	c.ReadTimeout = s.Config.MapServer.ReplyTimeout
	c.WriteTimeout = s.Config.MapServer.ReplyTimeout
	c.Logger = s.Logger
	c.Debug = s.Config.Debugging.PacketLoggingEnabled

	s.Logger.Infof("[%s] player connected from %s", s.Name, c.IPAddr())

	s.playersMu.Lock()
	defer s.playersMu.Unlock()
	s.players = append(s.players, c)
	connectedPlayers.Set(float64(len(s.players)))
}

// Run watches the login server link and player connections until ctx is
// cancelled. A lost login server link is re-established.
func (s *Server) Run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return
		case <-ticker.C:
			s.checkMaster(ctx)
			s.pollPlayers()
		}
	}
}

func (s *Server) checkMaster(ctx context.Context) {
	s.masterMu.Lock()
	master := s.master
	s.masterMu.Unlock()

	if master != nil {
		if pkt, _ := master.Poll(); pkt != nil {
			s.Logger.Warnf("[%s] ignoring %v from login server", s.Name, pkt.Opcode())
		}
		err := master.Err()
		if err == nil {
			return
		}
		s.Logger.Errorf("[%s] lost connection to login server: %v", s.Name, err)
		_ = master.Close()
		s.setMaster(nil, nil)
	}

	if time.Now().Before(s.nextRegistration) {
		return
	}
	if err := s.Register(ctx); err != nil && ctx.Err() == nil {
		s.Logger.Errorf("[%s] re-registration failed: %v", s.Name, err)
		s.nextRegistration = time.Now().Add(retryCap)
	}
}

// pollPlayers drops players whose connection has failed. Anything players
// send is read and discarded.
func (s *Server) pollPlayers() {
	s.playersMu.Lock()
	defer s.playersMu.Unlock()

	kept := s.players[:0]
	for _, c := range s.players {
		if pkt, _ := c.Poll(); pkt != nil {
			s.Logger.Debugf("[%s] ignoring %v from %s", s.Name, pkt.Opcode(), c.IPAddr())
		}
		if err := c.Err(); err != nil {
			s.Logger.Infof("[%s] player %s disconnected: %v", s.Name, c.IPAddr(), err)
			_ = c.Close()
			continue
		}
		kept = append(kept, c)
	}
	for i := len(kept); i < len(s.players); i++ {
		s.players[i] = nil
	}
	s.players = kept
	connectedPlayers.Set(float64(len(s.players)))
}

func (s *Server) shutdown() {
	s.Logger.Infof("[%s] shutting down", s.Name)

	s.masterMu.Lock()
	if s.master != nil {
		_ = s.master.Close()
		s.master = nil
	}
	s.masterMu.Unlock()

	s.playersMu.Lock()
	for _, c := range s.players {
		_ = c.Close()
	}
	s.players = nil
	s.playersMu.Unlock()
	connectedPlayers.Set(0)
}

func (s *Server) setMaster(c *client.Client, granted []maps.Identifier) {
	s.masterMu.Lock()
	defer s.masterMu.Unlock()
	s.master = c
	s.granted = granted
	hostedMaps.Set(float64(len(granted)))
}

// Granted returns the maps the login server assigned to this server.
func (s *Server) Granted() []maps.Identifier {
	s.masterMu.Lock()
	defer s.masterMu.Unlock()
	return append([]maps.Identifier(nil), s.granted...)
}

// Registered reports whether the server currently holds a link to the login
// server.
func (s *Server) Registered() bool {
	s.masterMu.Lock()
	defer s.masterMu.Unlock()
	return s.master != nil
}
