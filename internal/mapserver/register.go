package mapserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/SgtCoDFish/PlayPG/internal/core"
	"github.com/SgtCoDFish/PlayPG/internal/core/client"
	"github.com/SgtCoDFish/PlayPG/internal/core/crypto"
	"github.com/SgtCoDFish/PlayPG/internal/maps"
	"github.com/SgtCoDFish/PlayPG/internal/packets"
)

// errConnection marks transport failures during registration, which are retried.
var errConnection = errors.New("connection to login server failed")

// register performs a single registration attempt. On success the connection
// is kept as the server's login server link.
func (s *Server) register(ctx context.Context) error {
	cfg := s.Config.MapServer
	address := s.Config.MasterAddress()
	s.Logger.Infof("[%s] registering with login server at %s", s.Name, address)

	dialer := net.Dialer{Timeout: cfg.ReplyTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("%w: %v", errConnection, err)
	}
	c := client.NewClient(conn)
	c.ReadTimeout = cfg.ReplyTimeout
	c.WriteTimeout = cfg.ReplyTimeout
	c.Logger = s.Logger
	c.Debug = s.Config.Debugging.PacketLoggingEnabled

	granted, err := s.negotiate(c)
	if err != nil {
		_ = c.Close()
		return err
	}

	s.setMaster(c, granted)
	s.nextRegistration = time.Time{}
	for _, id := range granted {
		s.Logger.Infof("[%s] hosting %v", s.Name, id)
	}
	return nil
}

func (s *Server) negotiate(c *client.Client) ([]maps.Identifier, error) {
	pkt, err := s.recv(c)
	if err != nil {
		return nil, err
	}
	challenge, ok := pkt.(*packets.LoginAuthenticationChallenge)
	if !ok {
		return nil, fmt.Errorf("%w: expected a challenge, got %v", ErrUnexpectedReply, pkt.Opcode())
	}
	s.Logger.Infof("[%s] login server %q is v%s (%s)", s.Name, challenge.Name, challenge.Version, challenge.VersionHash)

	pub, err := crypto.ParsePublicKey(challenge.PubKey)
	if err != nil || !pub.Equal(s.MasterKeys.PublicKey()) {
		return nil, ErrUntrustedMaster
	}

	if challenge.Version != core.Version || challenge.VersionHash != core.GitHash {
		_ = c.Send(&packets.VersionMismatch{})
		return nil, fmt.Errorf("%w: login server is %s (%s), we are %s (%s)",
			ErrVersionMismatch, challenge.Version, challenge.VersionHash, core.Version, core.GitHash)
	}

	err = s.send(c, &packets.MapServerRegistrationRequest{
		Name:    s.Config.Name,
		Address: s.Config.ExternalAddress,
		Port:    uint16(s.Config.MapServer.Port),
	})
	if err != nil {
		return nil, err
	}
	if pkt, err = s.recv(c); err != nil {
		return nil, err
	}
	if _, ok := pkt.(*packets.MapServerRegistrationResponse); !ok {
		return nil, fmt.Errorf("%w: expected a registration response, got %v", ErrUnexpectedReply, pkt.Opcode())
	}

	offer := &packets.MapServerMapList{}
	for _, id := range s.maps {
		offer.MapHashes = append(offer.MapHashes, packets.MapHash{Name: id.Name, Hash: id.Hash})
	}
	if err := s.send(c, offer); err != nil {
		return nil, err
	}
	s.Logger.Debugf("[%s] offered %d maps", s.Name, len(offer.MapHashes))

	if pkt, err = s.recv(c); err != nil {
		return nil, err
	}
	var granted []maps.Identifier
	switch p := pkt.(type) {
	case *packets.MapServerNotNeeded:
		return nil, ErrNotNeeded
	case *packets.MapServerMapList:
		granted = s.resolve(p.MapHashes)
	default:
		return nil, fmt.Errorf("%w: expected a map list, got %v", ErrUnexpectedReply, pkt.Opcode())
	}

	if err := s.send(c, &packets.MapServerAck{}); err != nil {
		return nil, err
	}
	return granted, nil
}

// resolve maps the granted hashes back to our maps. Anything we did not offer
// is logged and ignored.
func (s *Server) resolve(hashes []packets.MapHash) []maps.Identifier {
	var granted []maps.Identifier
	for _, h := range hashes {
		found := false
		for _, id := range s.maps {
			if id.Name == h.Name && id.Hash == h.Hash {
				granted = append(granted, id)
				found = true
				break
			}
		}
		if !found {
			s.Logger.Warnf("[%s] login server granted %s (%s) which we did not offer", s.Name, h.Name, h.Hash)
		}
	}
	return granted
}

func (s *Server) recv(c *client.Client) (packets.Packet, error) {
	pkt, err := c.Recv()
	if errors.Is(err, packets.ErrMalformed) {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedReply, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errConnection, err)
	}
	return pkt, nil
}

func (s *Server) send(c *client.Client, pkt packets.Packet) error {
	if err := c.Send(pkt); err != nil {
		return fmt.Errorf("%w: %v", errConnection, err)
	}
	return nil
}
