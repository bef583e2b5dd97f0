package login

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/SgtCoDFish/PlayPG/internal/core/crypto"
	"github.com/SgtCoDFish/PlayPG/internal/core/data"
	"github.com/SgtCoDFish/PlayPG/internal/packets"
)

// authenticate checks the credentials in p. On success the connection becomes a
// player session and leaves the incoming list; on failure it uses up an attempt.
func (s *Server) authenticate(ic *incomingConnection, p *packets.LoginAuthenticationIdentity, now time.Time) {
	password, ok := s.decryptPassword(p.Password)
	if !ok {
		s.Logger.Infof("[%s] undecryptable password from %s", s.Name, ic.client.IPAddr())
		s.hasher.VerifyDummy("")
		loginAttempts.WithLabelValues(resultFailure).Inc()
		s.failAttempt(ic, packets.AuthenticationFailureMessage, now)
		return
	}

	var player *data.Player
	result := resultFailure
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		found, err := data.FindPlayerByUsername(tx, p.Username)
		if errors.Is(err, data.ErrDuplicateRecords) {
			s.Logger.Warnf("[%s] %v; using the first", s.Name, err)
		} else if err != nil {
			return err
		}

		if found == nil {
			s.hasher.VerifyDummy(password)
			return nil
		}
		if !s.hasher.Verify(password, found.PasswordHash, found.PasswordSalt) {
			return nil
		}
		if found.Locked {
			s.Logger.Infof("[%s] refusing login to locked account %q", s.Name, found.Username)
			result = resultLocked
			return nil
		}

		if err := data.RecordLogin(tx, found, now); err != nil {
			return err
		}
		player = found
		return nil
	})
	if err != nil {
		s.Logger.Errorf("[%s] error authenticating %q: %v", s.Name, p.Username, err)
		loginAttempts.WithLabelValues(resultError).Inc()
		s.failAttempt(ic, packets.AuthenticationFailureMessage, now)
		return
	}
	if player == nil {
		s.Logger.Infof("[%s] failed login for %q from %s", s.Name, p.Username, ic.client.IPAddr())
		loginAttempts.WithLabelValues(result).Inc()
		s.failAttempt(ic, packets.AuthenticationFailureMessage, now)
		return
	}

	sessionKey, err := crypto.NewSessionKey(player.Username)
	if err != nil {
		s.Logger.Errorf("[%s] %v", s.Name, err)
		loginAttempts.WithLabelValues(resultError).Inc()
		s.failAttempt(ic, packets.AuthenticationFailureMessage, now)
		return
	}

	err = ic.client.Send(&packets.LoginAuthenticationResponse{
		Successful:        true,
		AttemptsRemaining: MaxAttemptsAllowed - ic.loginAttempts,
		Message:           packets.AuthenticationSuccessMessage,
	})
	if err != nil {
		ic.transition(stateDone, now)
		return
	}
	loginAttempts.WithLabelValues(resultSuccess).Inc()

	session := &PlayerSession{
		PlayerID:      player.ID,
		Username:      player.Username,
		SessionKey:    sessionKey,
		GUID:          s.nextGUID.Add(1),
		Authenticated: true,
		client:        ic.client,
	}
	if previous := s.sessions.Add(session); previous != nil {
		s.Logger.Infof("[%s] %q logged in again; disconnected session %d", s.Name, player.Username, previous.GUID)
	}
	s.Logger.Infof("[%s] %q logged in from %s as session %d", s.Name, player.Username, ic.client.IPAddr(), session.GUID)

	ic.client = nil
	ic.transition(stateDone, now)
}

func (s *Server) decryptPassword(encoded string) (string, bool) {
	ciphertext, err := crypto.DecodeHex(encoded)
	if err != nil {
		return "", false
	}
	plaintext, err := s.Keys.Decrypt(ciphertext)
	if err != nil {
		return "", false
	}
	return string(plaintext), true
}
