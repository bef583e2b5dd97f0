package login

import (
	"errors"
	"time"

	"github.com/SgtCoDFish/PlayPG/internal/core"
	"github.com/SgtCoDFish/PlayPG/internal/core/client"
	"github.com/SgtCoDFish/PlayPG/internal/maps"
	"github.com/SgtCoDFish/PlayPG/internal/packets"
)

type incomingState int

const (
	// Nothing sent yet.
	stateFresh incomingState = iota
	// Challenge sent; expecting credentials or a map server registration.
	stateChallengeSent
	// At least one failed step; expecting credentials.
	stateLoginFailed
	// Map server registered; expecting its map list.
	stateMapList
	// Granted maps sent; expecting the map server's acknowledgement.
	stateMapWaitAck
	// Finished. The client has been handed off or is waiting to be closed.
	stateDone
)

var stateNames = map[incomingState]string{
	stateFresh:         "FRESH",
	stateChallengeSent: "CHALLENGE_SENT",
	stateLoginFailed:   "LOGIN_FAILED",
	stateMapList:       "MAP_LIST",
	stateMapWaitAck:    "MAP_WAIT_ACK",
	stateDone:          "DONE",
}

func (s incomingState) String() string { return stateNames[s] }

type incomingConnection struct {
	// Nil once ownership has moved to a session or map server registration.
	client        *client.Client
	state         incomingState
	loginAttempts int
	// Time of the last state change.
	since time.Time

	registration *packets.MapServerRegistrationRequest
	granted      []maps.Identifier
}

func newIncomingConnection(c *client.Client, now time.Time) *incomingConnection {
	return &incomingConnection{client: c, state: stateFresh, since: now}
}

func (ic *incomingConnection) transition(state incomingState, now time.Time) {
	ic.state = state
	ic.since = now
}

// processIncoming advances every pending connection by at most one step and
// sweeps finished connections once per purge interval.
func (s *Server) processIncoming(now time.Time) {
	s.incomingMu.Lock()
	defer s.incomingMu.Unlock()

	s.takeAdmitted()
	for _, ic := range s.incoming {
		s.step(ic, now)
	}

	if now.Sub(s.lastPurge) >= s.Config.LoginServer.PurgeInterval {
		s.purge()
		s.lastPurge = now
	}
}

// takeAdmitted moves connections queued by Admit onto the incoming list. The
// caller holds incomingMu.
func (s *Server) takeAdmitted() {
	s.admitMu.Lock()
	admitted := s.admitted
	s.admitted = nil
	s.admitMu.Unlock()

	s.incoming = append(s.incoming, admitted...)
	pendingConnections.Set(float64(len(s.incoming)))
}

func (s *Server) step(ic *incomingConnection, now time.Time) {
	if ic.state == stateDone {
		return
	}
	if err := ic.client.Err(); err != nil {
		s.Logger.Debugf("[%s] dropping %s in %v: %v", s.Name, ic.client.IPAddr(), ic.state, err)
		ic.transition(stateDone, now)
		return
	}
	if ic.loginAttempts >= MaxAttemptsAllowed {
		s.Logger.Infof("[%s] %s used all %d attempts", s.Name, ic.client.IPAddr(), MaxAttemptsAllowed)
		ic.transition(stateDone, now)
		return
	}

	if ic.state == stateFresh {
		s.sendChallenge(ic, now)
		return
	}

	pkt, err := ic.client.Poll()
	if err != nil && !errors.Is(err, packets.ErrMalformed) {
		s.Logger.Infof("[%s] lost connection from %s in %v: %v", s.Name, ic.client.IPAddr(), ic.state, err)
		ic.transition(stateDone, now)
		return
	}
	if pkt == nil && err == nil {
		if now.Sub(ic.since) > s.Config.LoginServer.HandshakeTimeout {
			s.Logger.Infof("[%s] abandoning unresponsive connection from %s in %v", s.Name, ic.client.IPAddr(), ic.state)
			ic.transition(stateDone, now)
		}
		return
	}
	if err != nil {
		s.Logger.Warnf("[%s] %v from %s in %v", s.Name, err, ic.client.IPAddr(), ic.state)
	}

	switch ic.state {
	case stateChallengeSent:
		s.handleChallengeSent(ic, pkt, now)
	case stateLoginFailed:
		s.handleLoginFailed(ic, pkt, now)
	case stateMapList:
		s.handleMapList(ic, pkt, now)
	case stateMapWaitAck:
		s.handleMapWaitAck(ic, pkt, now)
	}

	if ic.state != stateDone && ic.loginAttempts >= MaxAttemptsAllowed {
		ic.transition(stateDone, now)
	}
}

func (s *Server) sendChallenge(ic *incomingConnection, now time.Time) {
	err := ic.client.Send(&packets.LoginAuthenticationChallenge{
		Name:        s.Config.Name,
		Version:     core.Version,
		VersionHash: core.GitHash,
		PubKey:      s.Keys.PublicKeyPEM(),
	})
	if err != nil {
		s.Logger.Infof("[%s] failed to send challenge to %s: %v", s.Name, ic.client.IPAddr(), err)
		ic.transition(stateDone, now)
		return
	}
	ic.transition(stateChallengeSent, now)
}

// pkt is nil when the peer sent something that could not be decoded.
func (s *Server) handleChallengeSent(ic *incomingConnection, pkt packets.Packet, now time.Time) {
	switch p := pkt.(type) {
	case *packets.LoginAuthenticationIdentity:
		s.authenticate(ic, p, now)
	case *packets.VersionMismatch:
		s.Logger.Infof("[%s] %s reported a version mismatch", s.Name, ic.client.IPAddr())
		ic.transition(stateDone, now)
	case *packets.MapServerRegistrationRequest:
		s.Logger.Infof("[%s] map server %q registering from %s, advertising %s:%d",
			s.Name, p.Name, ic.client.IPAddr(), p.Address, p.Port)
		ic.registration = p
		if err := ic.client.Send(&packets.MapServerRegistrationResponse{Message: packets.RegistrationGreeting}); err != nil {
			ic.transition(stateDone, now)
			return
		}
		ic.transition(stateMapList, now)
	default:
		s.failAttempt(ic, packets.UnexpectedDataMessage, now)
	}
}

func (s *Server) handleLoginFailed(ic *incomingConnection, pkt packets.Packet, now time.Time) {
	if p, ok := pkt.(*packets.LoginAuthenticationIdentity); ok {
		s.authenticate(ic, p, now)
		return
	}
	s.failAttempt(ic, packets.UnexpectedDataMessage, now)
}

// failAttempt consumes an attempt and tells the peer how many remain.
func (s *Server) failAttempt(ic *incomingConnection, message string, now time.Time) {
	ic.loginAttempts++
	ic.transition(stateLoginFailed, now)

	err := ic.client.Send(&packets.LoginAuthenticationResponse{
		Successful:        false,
		AttemptsRemaining: MaxAttemptsAllowed - ic.loginAttempts,
		Message:           message,
	})
	if err != nil {
		ic.transition(stateDone, now)
	}
}

func (s *Server) handleMapList(ic *incomingConnection, pkt packets.Packet, now time.Time) {
	list, ok := pkt.(*packets.MapServerMapList)
	if !ok {
		s.Logger.Warnf("[%s] map server %s sent %v instead of its map list", s.Name, ic.registration.Name, opcodeOf(pkt))
		ic.transition(stateDone, now)
		return
	}

	granted := s.negotiateMaps(ic, list)
	if len(granted) == 0 {
		s.Logger.Infof("[%s] map server %s offers no maps we need", s.Name, ic.registration.Name)
		_ = ic.client.Send(&packets.MapServerNotNeeded{})
		ic.transition(stateDone, now)
		return
	}

	response := &packets.MapServerMapList{}
	for _, id := range granted {
		response.MapHashes = append(response.MapHashes, packets.MapHash{Name: id.Name, Hash: id.Hash})
	}
	if err := ic.client.Send(response); err != nil {
		ic.transition(stateDone, now)
		return
	}
	ic.granted = granted
	ic.transition(stateMapWaitAck, now)
}

// negotiateMaps returns the offered maps that match the catalog by name and hash
// and that nobody else hosts or has been offered.
func (s *Server) negotiateMaps(ic *incomingConnection, list *packets.MapServerMapList) []maps.Identifier {
	pending := make(map[string]bool)
	for _, other := range s.incoming {
		if other != ic && other.state == stateMapWaitAck {
			for _, id := range other.granted {
				pending[id.Name] = true
			}
		}
	}

	var granted []maps.Identifier
	for _, offered := range list.MapHashes {
		ours, ok := s.catalog.Lookup(offered.Name)
		switch {
		case !ok:
			s.Logger.Debugf("[%s] map server %s offers unknown map %s", s.Name, ic.registration.Name, offered.Name)
			continue
		case ours.Hash != offered.Hash:
			s.Logger.Warnf("[%s] map names same but hash differs for %s (%s offered, %s expected)",
				s.Name, offered.Name, offered.Hash, ours.Hash)
			continue
		case pending[offered.Name]:
			s.Logger.Debugf("[%s] map %s is already being negotiated with another map server", s.Name, offered.Name)
			continue
		case s.federation.Lookup(offered.Name) != nil:
			s.Logger.Debugf("[%s] map %s is already hosted", s.Name, offered.Name)
			continue
		}
		pending[offered.Name] = true
		granted = append(granted, ours)
	}
	return granted
}

func (s *Server) handleMapWaitAck(ic *incomingConnection, pkt packets.Packet, now time.Time) {
	if _, ok := pkt.(*packets.MapServerAck); !ok {
		s.Logger.Warnf("[%s] map server %s sent %v instead of an acknowledgement", s.Name, ic.registration.Name, opcodeOf(pkt))
		ic.transition(stateDone, now)
		return
	}

	m := &MapServerConnection{
		Name:     ic.registration.Name,
		Hostname: ic.registration.Address,
		Port:     ic.registration.Port,
		Maps:     ic.granted,
		client:   ic.client,
	}
	if err := s.federation.Register(m); err != nil {
		s.Logger.Warnf("[%s] could not register map server %s: %v", s.Name, m.Name, err)
		ic.transition(stateDone, now)
		return
	}

	s.Logger.Infof("[%s] registered map server %s at %s:%d with %d maps", s.Name, m.Name, m.Hostname, m.Port, len(m.Maps))
	ic.client = nil
	ic.transition(stateDone, now)
}

// purge removes finished connections, closing any whose ownership was not
// handed off.
func (s *Server) purge() {
	kept := s.incoming[:0]
	removed := 0
	for _, ic := range s.incoming {
		if ic.state != stateDone {
			kept = append(kept, ic)
			continue
		}
		if ic.client != nil {
			_ = ic.client.Close()
		}
		removed++
	}
	for i := len(kept); i < len(s.incoming); i++ {
		s.incoming[i] = nil
	}
	s.incoming = kept
	pendingConnections.Set(float64(len(s.incoming)))

	if removed > 0 {
		s.Logger.Debugf("[%s] purged %d finished connections", s.Name, removed)
	}
}

func (s *Server) closeIncoming() {
	s.incomingMu.Lock()
	defer s.incomingMu.Unlock()

	s.takeAdmitted()
	for _, ic := range s.incoming {
		ic.transition(stateDone, time.Now())
	}
	s.purge()
}

func opcodeOf(pkt packets.Packet) string {
	if pkt == nil {
		return "a malformed packet"
	}
	return pkt.Opcode().String()
}
