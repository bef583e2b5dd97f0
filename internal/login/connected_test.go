package login

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"

	"github.com/SgtCoDFish/PlayPG/internal/core/client"
	"github.com/SgtCoDFish/PlayPG/internal/core/data"
	"github.com/SgtCoDFish/PlayPG/internal/packets"
)

func (h *harness) createCharacter(t *testing.T, player *data.Player, name, location string) *data.Character {
	t.Helper()
	c := &data.Character{PlayerID: player.ID, Name: name, MaxHP: 10, Strength: 3, Intelligence: 4}
	if location != "" {
		loc, err := data.FindLocation(h.server.DB, location)
		if err != nil || loc == nil {
			t.Fatalf("error finding location %s: %v", location, err)
		}
		c.LocationID = &loc.ID
	}
	if err := data.CreateCharacter(h.server.DB, c); err != nil {
		t.Fatalf("error creating character: %v", err)
	}
	return c
}

// request sends pkt from a logged in peer and returns the server's reply.
func (h *harness) request(t *testing.T, peer *client.Client, pkt packets.Packet) packets.Packet {
	t.Helper()
	if err := peer.Send(pkt); err != nil {
		t.Fatalf("error sending %v: %v", pkt.Opcode(), err)
	}
	done := make(chan struct{})
	var (
		reply packets.Packet
		err   error
	)
	go func() {
		reply, err = peer.Recv()
		close(done)
	}()
	deadline := time.After(testWait)
	for {
		select {
		case <-done:
			if err != nil {
				t.Fatalf("error receiving reply to %v: %v", pkt.Opcode(), err)
			}
			return reply
		case <-deadline:
			t.Fatalf("no reply to %v", pkt.Opcode())
		default:
			h.server.processSessions()
			time.Sleep(2 * time.Millisecond)
		}
	}
}

func TestRequestCharacters(t *testing.T) {
	h := newHarness(t)
	alice := h.createPlayer(t, "alice", "secret", false)
	bob := h.createPlayer(t, "bob", "secret", false)
	first := h.createCharacter(t, alice, "Aria", "")
	second := h.createCharacter(t, alice, "Brin", "town")
	h.createCharacter(t, bob, "Cato", "")

	peer := h.login(t, "alice", "secret")
	got := h.request(t, peer, &packets.RequestCharacters{})

	stats := packets.CharacterStats{MaxHP: 10, Strength: 3, Intelligence: 4}
	want := &packets.PlayerCharacters{Characters: []packets.CharacterInfo{
		{ID: first.ID, Name: "Aria", Stats: stats},
		{ID: second.ID, Name: "Brin", Stats: stats},
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("characters mismatch (-want +got):\n%s", diff)
	}
}

func TestRequestCharacters_None(t *testing.T) {
	h := newHarness(t)
	peer := h.login(t, "superuser", "superuser")

	got := h.request(t, peer, &packets.RequestCharacters{})
	want := &packets.PlayerCharacters{Characters: []packets.CharacterInfo{}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("characters mismatch (-want +got):\n%s", diff)
	}
}

func TestCharacterSelect_NoMapServer(t *testing.T) {
	h := newHarness(t)
	alice := h.createPlayer(t, "alice", "secret", false)
	c := h.createCharacter(t, alice, "Aria", "")
	peer := h.login(t, "alice", "secret")

	got := h.request(t, peer, &packets.CharacterSelect{CharacterID: c.ID})
	nms, ok := got.(*packets.NoMapServerError)
	if !ok {
		t.Fatalf("expected %v, got %v", packets.NoMapServerErrorType, got.Opcode())
	}
	// Characters without a location start on the first map by name.
	if nms.Map != "forest" {
		t.Errorf("expected the starting map forest, got %s", nms.Map)
	}

	session := h.server.Sessions().Lookup("alice")
	if session.CharacterID == nil || *session.CharacterID != c.ID {
		t.Errorf("expected character %d to be selected, got %v", c.ID, session.CharacterID)
	}
}

func TestCharacterSelect_HandOff(t *testing.T) {
	h := newHarness(t)
	h.hostMaps(t, "east", "town")
	alice := h.createPlayer(t, "alice", "secret", false)
	c := h.createCharacter(t, alice, "Aria", "town")
	peer := h.login(t, "alice", "secret")

	got := h.request(t, peer, &packets.CharacterSelect{CharacterID: c.ID})
	want := &packets.MapServerConnectionInstructions{
		Name:       "east",
		Address:    "10.0.0.1",
		Port:       7001,
		Map:        "town",
		SessionKey: h.server.Sessions().Lookup("alice").SessionKey,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("instructions mismatch (-want +got):\n%s", diff)
	}
}

func TestCharacterSelect_NotOwned(t *testing.T) {
	h := newHarness(t)
	h.createPlayer(t, "alice", "secret", false)
	bob := h.createPlayer(t, "bob", "secret", false)
	theirs := h.createCharacter(t, bob, "Cato", "")
	peer := h.login(t, "alice", "secret")

	if err := peer.Send(&packets.CharacterSelect{CharacterID: theirs.ID}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h.serviceUntil(t, func() bool { return h.server.Sessions().Len() == 0 })
	expectClosed(t, peer)

	found := false
	for _, entry := range h.hook.AllEntries() {
		if entry.Level == logrus.ErrorLevel && entry.Data["security"] == true {
			found = true
		}
	}
	if !found {
		t.Error("expected a security log entry")
	}
}

func TestCharacterSelect_Twice(t *testing.T) {
	h := newHarness(t)
	alice := h.createPlayer(t, "alice", "secret", false)
	first := h.createCharacter(t, alice, "Aria", "")
	second := h.createCharacter(t, alice, "Brin", "")
	peer := h.login(t, "alice", "secret")

	h.request(t, peer, &packets.CharacterSelect{CharacterID: first.ID})
	if err := peer.Send(&packets.CharacterSelect{CharacterID: second.ID}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h.serviceUntil(t, func() bool { return h.logged(logrus.WarnLevel, "already selected") })

	session := h.server.Sessions().Lookup("alice")
	if session == nil {
		t.Fatal("second select dropped the session")
	}
	if *session.CharacterID != first.ID {
		t.Errorf("selected character changed to %d", *session.CharacterID)
	}
}

func TestSession_UnexpectedPacket(t *testing.T) {
	h := newHarness(t)
	peer := h.login(t, "superuser", "superuser")

	got := h.request(t, peer, &packets.MapServerAck{})
	if _, ok := got.(*packets.MalformedPacket); !ok {
		t.Fatalf("expected %v, got %v", packets.MalformedPacketType, got.Opcode())
	}
	if h.server.Sessions().Len() != 0 {
		t.Error("expected the session to be dropped")
	}
	expectClosed(t, peer)
}

func TestSession_Disconnect(t *testing.T) {
	h := newHarness(t)
	peer := h.login(t, "superuser", "superuser")

	peer.Close()
	h.serviceUntil(t, func() bool { return h.server.Sessions().Len() == 0 })
}

func TestSession_DoubleLogin(t *testing.T) {
	h := newHarness(t)
	first := h.login(t, "superuser", "superuser")
	original := h.server.Sessions().Lookup("superuser")

	h.login(t, "superuser", "superuser")
	replacement := h.server.Sessions().Lookup("superuser")
	if replacement == original {
		t.Fatal("expected the second login to replace the session")
	}
	if replacement.GUID <= original.GUID {
		t.Errorf("GUIDs must increase: %d then %d", original.GUID, replacement.GUID)
	}
	if h.server.Sessions().Len() != 1 {
		t.Errorf("expected 1 session, got %d", h.server.Sessions().Len())
	}
	expectClosed(t, first)
}
