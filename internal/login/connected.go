package login

import (
	"errors"

	"gorm.io/gorm"

	"github.com/SgtCoDFish/PlayPG/internal/core"
	"github.com/SgtCoDFish/PlayPG/internal/core/data"
	"github.com/SgtCoDFish/PlayPG/internal/packets"
)

// processSessions services at most one packet from each player session.
func (s *Server) processSessions() {
	s.sessions.each(s.serviceSession)
}

// serviceSession returns false when the session should be dropped.
func (s *Server) serviceSession(session *PlayerSession) bool {
	c := session.client
	if err := c.Err(); err != nil {
		s.Logger.Infof("[%s] session %d (%q) disconnected: %v", s.Name, session.GUID, session.Username, err)
		return false
	}
	pkt, err := c.Poll()
	if err != nil && !errors.Is(err, packets.ErrMalformed) {
		s.Logger.Infof("[%s] session %d (%q) lost: %v", s.Name, session.GUID, session.Username, err)
		return false
	}
	if pkt == nil && err == nil {
		return true
	}

	switch p := pkt.(type) {
	case *packets.RequestCharacters:
		return s.sendCharacters(session)
	case *packets.CharacterSelect:
		return s.selectCharacter(session, p.CharacterID)
	default:
		s.Logger.Warnf("[%s] session %d (%q) sent %s", s.Name, session.GUID, session.Username, opcodeOf(pkt))
		_ = c.Send(&packets.MalformedPacket{})
		return false
	}
}

func (s *Server) sendCharacters(session *PlayerSession) bool {
	var characters []data.Character
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		characters, err = data.FindCharactersByPlayer(tx, session.PlayerID)
		return err
	})
	if err != nil {
		s.Logger.Errorf("[%s] listing characters for %q: %v", s.Name, session.Username, err)
		return true
	}

	response := &packets.PlayerCharacters{Characters: make([]packets.CharacterInfo, 0, len(characters))}
	for _, ch := range characters {
		response.Characters = append(response.Characters, packets.CharacterInfo{
			ID:   ch.ID,
			Name: ch.Name,
			Stats: packets.CharacterStats{
				MaxHP:        ch.MaxHP,
				Strength:     ch.Strength,
				Intelligence: ch.Intelligence,
			},
		})
	}
	if err := session.client.Send(response); err != nil {
		s.Logger.Infof("[%s] failed to send characters to %q: %v", s.Name, session.Username, err)
		return false
	}
	return true
}

// selectCharacter binds the session to a character the player owns and tells
// the client which map server to go to. Selecting someone else's character is
// logged as a security event and drops the session without a reply.
func (s *Server) selectCharacter(session *PlayerSession, characterID uint64) bool {
	if session.CharacterID != nil {
		s.Logger.Warnf("[%s] %q tried to select character %d but already selected %d",
			s.Name, session.Username, characterID, *session.CharacterID)
		return true
	}

	var character *data.Character
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		character, err = data.FindPlayerCharacter(tx, session.PlayerID, characterID)
		return err
	})
	switch {
	case errors.Is(err, data.ErrDuplicateRecords):
		core.SecurityLog(s.Logger).Errorf("[%s] %v selected by %q", s.Name, err, session.Username)
		return false
	case err != nil:
		s.Logger.Errorf("[%s] looking up character %d for %q: %v", s.Name, characterID, session.Username, err)
		return true
	case character == nil:
		core.SecurityLog(s.Logger).Errorf("[%s] %q (player %d) tried to select character %d which they do not own",
			s.Name, session.Username, session.PlayerID, characterID)
		return false
	}

	id := character.ID
	session.CharacterID = &id
	s.Logger.Infof("[%s] %q selected character %q", s.Name, session.Username, character.Name)
	return s.handOff(session, character)
}

func (s *Server) handOff(session *PlayerSession, character *data.Character) bool {
	mapName := s.catalog.StartingMap()
	if character.Location != nil {
		mapName = character.Location.Name
	}

	var pkt packets.Packet
	if m := s.federation.Lookup(mapName); m != nil {
		pkt = &packets.MapServerConnectionInstructions{
			Name:       m.Name,
			Address:    m.Hostname,
			Port:       m.Port,
			Map:        mapName,
			SessionKey: session.SessionKey,
		}
	} else {
		s.Logger.Warnf("[%s] no map server hosts %s for %q", s.Name, mapName, session.Username)
		pkt = &packets.NoMapServerError{
			Map:     mapName,
			Message: "No map server is currently hosting " + mapName + ".",
		}
	}

	if err := session.client.Send(pkt); err != nil {
		s.Logger.Infof("[%s] failed to send map server details to %q: %v", s.Name, session.Username, err)
		return false
	}
	return true
}
