package login

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"go.uber.org/goleak"

	"github.com/SgtCoDFish/PlayPG/internal/core"
	"github.com/SgtCoDFish/PlayPG/internal/core/client"
	"github.com/SgtCoDFish/PlayPG/internal/core/crypto"
	"github.com/SgtCoDFish/PlayPG/internal/core/data"
	"github.com/SgtCoDFish/PlayPG/internal/packets"
)

const (
	testHashIterations = 1000
	testWait           = 2 * time.Second
)

var (
	testKeysOnce sync.Once
	testKeys     *crypto.KeyPair
	testKeysErr  error
)

// sharedTestKeys generates one small key pair for the whole package.
func sharedTestKeys(t *testing.T) *crypto.KeyPair {
	t.Helper()
	testKeysOnce.Do(func() {
		testKeys, testKeysErr = crypto.GenerateKeyPair(1024)
	})
	if testKeysErr != nil {
		t.Fatalf("error generating test keys: %v", testKeysErr)
	}
	return testKeys
}

func testMap(name, hash, version string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<map version="1.0" width="1" height="1">
 <properties>
  <property name="name" value="%s"/>
  <property name="hash" value="%s"/>
  <property name="version" value="%s"/>
 </properties>
</map>`, name, hash, version)
}

type harness struct {
	server *Server
	hook   *logtest.Hook
}

// newHarness returns an initialized login server backed by a fresh sqlite
// database, serving the maps "forest" and "town".
func newHarness(t *testing.T) *harness {
	t.Helper()

	mapDir := t.TempDir()
	for name, contents := range map[string]string{
		"forest.tmx": testMap("forest", "forest-1", "1.0.0"),
		"town.tmx":   testMap("town", "town-1", "1.0.0"),
	} {
		if err := os.WriteFile(filepath.Join(mapDir, name), []byte(contents), 0644); err != nil {
			t.Fatalf("error writing test map: %v", err)
		}
	}

	db, err := data.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), false)
	if err != nil {
		t.Fatalf("error initializing test database: %v", err)
	}
	t.Cleanup(func() { _ = data.Close(db) })

	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	s := &Server{
		Name: "test",
		Config: &core.Config{
			Name:   "test",
			MapDir: mapDir,
			LoginServer: core.LoginServerConfig{
				HashIterations:      testHashIterations,
				BootstrapPassword:   "superuser",
				HandshakeTimeout:    10 * time.Second,
				ReadTimeout:         time.Second,
				PurgeInterval:       time.Hour,
				IncomingTick:        5 * time.Millisecond,
				SessionTick:         5 * time.Millisecond,
				HealthCheckInterval: 5 * time.Millisecond,
			},
		},
		Logger: logger,
		DB:     db,
		Keys:   sharedTestKeys(t),
	}
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("error initializing login server: %v", err)
	}
	t.Cleanup(func() {
		s.closeIncoming()
		s.sessions.CloseAll()
		s.federation.CloseAll()
	})
	return &harness{server: s, hook: hook}
}

// connect admits a new loopback connection and returns the remote peer along
// with the server's record of the connection.
func (h *harness) connect(t *testing.T) (*client.Client, *incomingConnection) {
	t.Helper()
	_, peer, ic := h.connectRaw(t)
	return peer, ic
}

// connectRaw is connect that also returns the peer's socket, for writing bytes
// that are not valid packets.
func (h *harness) connectRaw(t *testing.T) (*net.TCPConn, *client.Client, *incomingConnection) {
	t.Helper()
	listener, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("error initializing test listener: %v", err)
	}
	defer listener.Close()

	conn, err := net.DialTCP("tcp", nil, listener.Addr().(*net.TCPAddr))
	if err != nil {
		t.Fatalf("error dialing test listener: %v", err)
	}
	serverConn, err := listener.AcceptTCP()
	if err != nil {
		t.Fatalf("error accepting test connection: %v", err)
	}

	peer := client.NewClient(conn)
	peer.ReadTimeout = testWait
	peer.WriteTimeout = testWait
	t.Cleanup(func() { peer.Close() })

	h.server.Admit(client.NewClient(serverConn))
	h.server.incomingMu.Lock()
	defer h.server.incomingMu.Unlock()
	h.server.takeAdmitted()
	return conn, peer, h.server.incoming[len(h.server.incoming)-1]
}

// stepUntil runs the incoming loop until cond holds.
func (h *harness) stepUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testWait)
	for time.Now().Before(deadline) {
		h.server.processIncoming(time.Now())
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("timed out waiting for the incoming loop")
}

// serviceUntil runs the connected session loop until cond holds.
func (h *harness) serviceUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testWait)
	for time.Now().Before(deadline) {
		h.server.processSessions()
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("timed out waiting for the session loop")
}

func (h *harness) logged(level logrus.Level, substr string) bool {
	for _, entry := range h.hook.AllEntries() {
		if entry.Level == level && strings.Contains(entry.Message, substr) {
			return true
		}
	}
	return false
}

func (h *harness) createPlayer(t *testing.T, username, password string, locked bool) *data.Player {
	t.Helper()
	hash, salt, err := h.server.hasher.Hash(password)
	if err != nil {
		t.Fatalf("error hashing password: %v", err)
	}
	p := &data.Player{Username: username, PasswordHash: hash, PasswordSalt: salt, Locked: locked}
	if err := data.CreatePlayer(h.server.DB, p); err != nil {
		t.Fatalf("error creating player: %v", err)
	}
	return p
}

// challenge moves a new connection past FRESH and returns the challenge the
// peer received.
func (h *harness) challenge(t *testing.T, peer *client.Client, ic *incomingConnection) *packets.LoginAuthenticationChallenge {
	t.Helper()
	h.stepUntil(t, func() bool { return ic.state != stateFresh })
	pkt, err := peer.Recv()
	if err != nil {
		t.Fatalf("error receiving challenge: %v", err)
	}
	challenge, ok := pkt.(*packets.LoginAuthenticationChallenge)
	if !ok {
		t.Fatalf("expected a challenge, got %v", pkt.Opcode())
	}
	return challenge
}

func encryptPassword(t *testing.T, challenge *packets.LoginAuthenticationChallenge, password string) string {
	t.Helper()
	pub, err := crypto.ParsePublicKey(challenge.PubKey)
	if err != nil {
		t.Fatalf("error parsing challenge key: %v", err)
	}
	ciphertext, err := crypto.Encrypt(pub, []byte(password))
	if err != nil {
		t.Fatalf("error encrypting password: %v", err)
	}
	return crypto.EncodeHex(ciphertext)
}

// sendAndAwait sends pkt from the peer, runs the incoming loop until the
// connection leaves its current state or attempt count, and returns the reply.
func (h *harness) sendAndAwait(t *testing.T, peer *client.Client, ic *incomingConnection, pkt packets.Packet) packets.Packet {
	t.Helper()
	state, attempts := ic.state, ic.loginAttempts
	if err := peer.Send(pkt); err != nil {
		t.Fatalf("error sending %v: %v", pkt.Opcode(), err)
	}
	h.stepUntil(t, func() bool { return ic.state != state || ic.loginAttempts != attempts })
	reply, err := peer.Recv()
	if err != nil {
		t.Fatalf("error receiving reply to %v: %v", pkt.Opcode(), err)
	}
	return reply
}

// login authenticates username on a new connection and returns the peer.
func (h *harness) login(t *testing.T, username, password string) *client.Client {
	t.Helper()
	peer, ic := h.connect(t)
	challenge := h.challenge(t, peer, ic)
	reply := h.sendAndAwait(t, peer, ic, &packets.LoginAuthenticationIdentity{
		Username: username,
		Password: encryptPassword(t, challenge, password),
	})
	if r, ok := reply.(*packets.LoginAuthenticationResponse); !ok || !r.Successful {
		t.Fatalf("login as %s failed: %+v", username, reply)
	}
	return peer
}

func expectClosed(t *testing.T, peer *client.Client) {
	t.Helper()
	pkt, err := peer.Recv()
	if err == nil {
		t.Fatalf("expected the connection to be closed, received %v", pkt.Opcode())
	}
}

func TestInit_Bootstrap(t *testing.T) {
	h := newHarness(t)

	p, err := data.FindPlayerByUsername(h.server.DB, data.BootstrapUsername)
	if err != nil || p == nil {
		t.Fatalf("expected the bootstrap account, got %v, %v", p, err)
	}
	if !h.server.hasher.Verify("superuser", p.PasswordHash, p.PasswordSalt) {
		t.Error("bootstrap account does not accept the bootstrap password")
	}

	// A second start must not create a second account.
	if err := h.server.bootstrapAccount(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count, _ := data.CountPlayers(h.server.DB); count != 1 {
		t.Errorf("expected 1 player, got %d", count)
	}
}

func TestInit_Keys(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t)
	cfg := &h.server.Config.LoginServer
	cfg.PublicKeyFile = filepath.Join(dir, "server.pub")
	cfg.PrivateKeyFile = filepath.Join(dir, "server.pem")

	if _, err := h.server.loadKeys(); err == nil {
		t.Fatal("expected an error loading missing key files")
	}

	cfg.RegenerateKeys = true
	cfg.KeyBits = 1024
	generated, err := h.server.loadKeys()
	if err != nil {
		t.Fatalf("unexpected error generating keys: %v", err)
	}

	cfg.RegenerateKeys = false
	loaded, err := h.server.loadKeys()
	if err != nil {
		t.Fatalf("unexpected error loading generated keys: %v", err)
	}
	if loaded.PublicKeyPEM() != generated.PublicKeyPEM() {
		t.Error("loaded key does not match the generated key")
	}
}

func TestChallenge(t *testing.T) {
	h := newHarness(t)
	peer, ic := h.connect(t)

	got := h.challenge(t, peer, ic)
	want := &packets.LoginAuthenticationChallenge{
		Name:        "test",
		Version:     core.Version,
		VersionHash: core.GitHash,
		PubKey:      h.server.Keys.PublicKeyPEM(),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("challenge mismatch (-want +got):\n%s", diff)
	}
	if ic.state != stateChallengeSent {
		t.Errorf("expected %v, got %v", stateChallengeSent, ic.state)
	}
}

func TestAuthenticate_Success(t *testing.T) {
	h := newHarness(t)
	peer, ic := h.connect(t)
	challenge := h.challenge(t, peer, ic)

	got := h.sendAndAwait(t, peer, ic, &packets.LoginAuthenticationIdentity{
		Username: "superuser",
		Password: encryptPassword(t, challenge, "superuser"),
	})
	want := &packets.LoginAuthenticationResponse{
		Successful:        true,
		AttemptsRemaining: MaxAttemptsAllowed,
		Message:           packets.AuthenticationSuccessMessage,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("response mismatch (-want +got):\n%s", diff)
	}

	if ic.state != stateDone || ic.client != nil {
		t.Errorf("expected the connection to be handed off, got state %v", ic.state)
	}
	session := h.server.Sessions().Lookup("superuser")
	if session == nil {
		t.Fatal("expected a session for superuser")
	}
	if !session.Authenticated || session.GUID == 0 || len(session.SessionKey) != 32 {
		t.Errorf("unexpected session: %+v", session)
	}

	p, _ := data.FindPlayerByUsername(h.server.DB, "superuser")
	if p.LastLogin == nil {
		t.Error("expected the last login time to be recorded")
	}

	// Purging the handed off connection must leave the session's socket open.
	h.server.incomingMu.Lock()
	h.server.purge()
	h.server.incomingMu.Unlock()
	if session.Client().HasError() {
		t.Errorf("session connection was closed by the purge: %v", session.Client().Err())
	}
}

func TestAuthenticate_Failures(t *testing.T) {
	tests := []struct {
		name     string
		username string
		password func(t *testing.T, c *packets.LoginAuthenticationChallenge) string
	}{
		{
			name:     "wrong password",
			username: "alice",
			password: func(t *testing.T, c *packets.LoginAuthenticationChallenge) string {
				return encryptPassword(t, c, "wrong")
			},
		},
		{
			name:     "unknown user",
			username: "nobody",
			password: func(t *testing.T, c *packets.LoginAuthenticationChallenge) string {
				return encryptPassword(t, c, "secret")
			},
		},
		{
			name:     "locked account",
			username: "mallory",
			password: func(t *testing.T, c *packets.LoginAuthenticationChallenge) string {
				return encryptPassword(t, c, "secret")
			},
		},
		{
			name:     "undecryptable password",
			username: "alice",
			password: func(*testing.T, *packets.LoginAuthenticationChallenge) string {
				return "not hex"
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.createPlayer(t, "alice", "secret", false)
			h.createPlayer(t, "mallory", "secret", true)

			peer, ic := h.connect(t)
			challenge := h.challenge(t, peer, ic)
			got := h.sendAndAwait(t, peer, ic, &packets.LoginAuthenticationIdentity{
				Username: tt.username,
				Password: tt.password(t, challenge),
			})
			want := &packets.LoginAuthenticationResponse{
				Successful:        false,
				AttemptsRemaining: MaxAttemptsAllowed - 1,
				Message:           packets.AuthenticationFailureMessage,
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("response mismatch (-want +got):\n%s", diff)
			}
			if ic.state != stateLoginFailed {
				t.Errorf("expected %v, got %v", stateLoginFailed, ic.state)
			}
			if h.server.Sessions().Len() != 0 {
				t.Error("expected no sessions")
			}
		})
	}
}

func TestAuthenticate_RetryAfterFailure(t *testing.T) {
	h := newHarness(t)
	h.createPlayer(t, "alice", "secret", false)
	peer, ic := h.connect(t)
	challenge := h.challenge(t, peer, ic)

	h.sendAndAwait(t, peer, ic, &packets.LoginAuthenticationIdentity{
		Username: "alice",
		Password: encryptPassword(t, challenge, "wrong"),
	})
	got := h.sendAndAwait(t, peer, ic, &packets.LoginAuthenticationIdentity{
		Username: "alice",
		Password: encryptPassword(t, challenge, "secret"),
	})
	want := &packets.LoginAuthenticationResponse{
		Successful:        true,
		AttemptsRemaining: MaxAttemptsAllowed - 1,
		Message:           packets.AuthenticationSuccessMessage,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("response mismatch (-want +got):\n%s", diff)
	}
	if h.server.Sessions().Lookup("alice") == nil {
		t.Error("expected a session for alice")
	}
}

func TestAuthenticate_AttemptsExhausted(t *testing.T) {
	h := newHarness(t)
	peer, ic := h.connect(t)
	challenge := h.challenge(t, peer, ic)

	for i := 1; i <= MaxAttemptsAllowed; i++ {
		got := h.sendAndAwait(t, peer, ic, &packets.LoginAuthenticationIdentity{
			Username: "superuser",
			Password: encryptPassword(t, challenge, "wrong"),
		})
		r := got.(*packets.LoginAuthenticationResponse)
		if r.Successful || r.AttemptsRemaining != MaxAttemptsAllowed-i {
			t.Fatalf("attempt %d: unexpected response %+v", i, r)
		}
	}
	if ic.state != stateDone {
		t.Fatalf("expected %v after %d failures, got %v", stateDone, MaxAttemptsAllowed, ic.state)
	}

	h.server.processIncoming(time.Now().Add(2 * time.Hour))
	if len(h.server.incoming) != 0 {
		t.Errorf("expected the purge to remove the connection, %d remain", len(h.server.incoming))
	}
	expectClosed(t, peer)
}

func TestChallengeSent_UnexpectedData(t *testing.T) {
	h := newHarness(t)
	peer, ic := h.connect(t)
	h.challenge(t, peer, ic)

	got := h.sendAndAwait(t, peer, ic, &packets.RequestCharacters{})
	want := &packets.LoginAuthenticationResponse{
		Successful:        false,
		AttemptsRemaining: MaxAttemptsAllowed - 1,
		Message:           packets.UnexpectedDataMessage,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("response mismatch (-want +got):\n%s", diff)
	}
	if ic.state != stateLoginFailed {
		t.Errorf("expected %v, got %v", stateLoginFailed, ic.state)
	}
}

func TestLoginFailed_RegistrationNotAccepted(t *testing.T) {
	h := newHarness(t)
	peer, ic := h.connect(t)
	h.challenge(t, peer, ic)
	h.sendAndAwait(t, peer, ic, &packets.RequestCharacters{})

	got := h.sendAndAwait(t, peer, ic, &packets.MapServerRegistrationRequest{Name: "ms", Address: "10.0.0.1", Port: 7000})
	r, ok := got.(*packets.LoginAuthenticationResponse)
	if !ok || r.Successful || r.AttemptsRemaining != MaxAttemptsAllowed-2 {
		t.Errorf("unexpected response %+v", got)
	}
	if ic.registration != nil {
		t.Error("registration recorded after a failed login")
	}
}

func TestChallengeSent_VersionMismatch(t *testing.T) {
	h := newHarness(t)
	peer, ic := h.connect(t)
	h.challenge(t, peer, ic)

	if err := peer.Send(&packets.VersionMismatch{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h.stepUntil(t, func() bool { return ic.state == stateDone })
	if ic.loginAttempts != 0 {
		t.Errorf("version mismatch consumed an attempt")
	}

	h.server.processIncoming(time.Now().Add(2 * time.Hour))
	expectClosed(t, peer)
}

func TestIncoming_HandshakeTimeout(t *testing.T) {
	h := newHarness(t)
	peer, ic := h.connect(t)
	h.challenge(t, peer, ic)

	h.server.processIncoming(time.Now())
	if ic.state != stateChallengeSent {
		t.Fatalf("connection timed out early: %v", ic.state)
	}
	h.server.processIncoming(time.Now().Add(h.server.Config.LoginServer.HandshakeTimeout + time.Second))
	if ic.state != stateDone {
		t.Errorf("expected %v, got %v", stateDone, ic.state)
	}
}

func TestIncoming_PeerDisconnect(t *testing.T) {
	h := newHarness(t)
	peer, ic := h.connect(t)
	h.challenge(t, peer, ic)

	peer.Close()
	h.stepUntil(t, func() bool { return ic.state == stateDone })
	if ic.loginAttempts != 0 {
		t.Error("disconnect consumed an attempt")
	}
}

func TestIncoming_Malformed(t *testing.T) {
	h := newHarness(t)
	conn, peer, ic := h.connectRaw(t)
	h.challenge(t, peer, ic)

	// 0x000A is not an opcode.
	if _, err := conn.Write([]byte{0x00, 0x0A}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h.stepUntil(t, func() bool { return ic.loginAttempts != 0 })
	got, err := peer.Recv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r, ok := got.(*packets.LoginAuthenticationResponse)
	if !ok || r.Message != packets.UnexpectedDataMessage {
		t.Errorf("unexpected response %+v", got)
	}
	if ic.loginAttempts != 1 {
		t.Errorf("expected 1 attempt used, got %d", ic.loginAttempts)
	}
}

func TestRun_Shutdown(t *testing.T) {
	h := newHarness(t)
	peer, _ := h.connect(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.server.Run(ctx)
		close(done)
	}()

	if _, err := peer.Recv(); err != nil {
		t.Fatalf("expected a challenge from the running server: %v", err)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(testWait):
		t.Fatal("Run did not return after cancellation")
	}
	expectClosed(t, peer)
}

func TestIncoming_PartialPacketDoesNotStall(t *testing.T) {
	h := newHarness(t)
	conn, stalledPeer, stalled := h.connectRaw(t)
	h.challenge(t, stalledPeer, stalled)
	peer, ic := h.connect(t)
	challenge := h.challenge(t, peer, ic)

	// The first byte of an opcode and nothing else.
	if _, err := conn.Write([]byte{0x00}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	readTimeout := h.server.Config.LoginServer.ReadTimeout
	for i := 0; i < 3; i++ {
		start := time.Now()
		h.server.processIncoming(time.Now())
		if elapsed := time.Since(start); elapsed > readTimeout/2 {
			t.Fatalf("a tick took %v with a partial packet pending", elapsed)
		}
	}
	if stalled.state != stateChallengeSent {
		t.Fatalf("expected the partial packet to be held in %v, got %v", stateChallengeSent, stalled.state)
	}

	reply := h.sendAndAwait(t, peer, ic, &packets.LoginAuthenticationIdentity{
		Username: "superuser",
		Password: encryptPassword(t, challenge, "superuser"),
	})
	if r, ok := reply.(*packets.LoginAuthenticationResponse); !ok || !r.Successful {
		t.Fatalf("login alongside a stalled connection failed: %+v", reply)
	}

	// The rest never arrives, so the connection is dropped after ReadTimeout.
	h.stepUntil(t, func() bool { return stalled.state == stateDone })
	if stalled.loginAttempts != 0 {
		t.Error("a stalled packet consumed an attempt")
	}
	if !errors.Is(stalled.client.Err(), client.ErrStalled) {
		t.Errorf("expected %v, got %v", client.ErrStalled, stalled.client.Err())
	}
}

func TestAdmit_DoesNotWaitForIncomingLoop(t *testing.T) {
	h := newHarness(t)
	local, remote := net.Pipe()
	t.Cleanup(func() { remote.Close() })
	go func() { _, _ = io.Copy(io.Discard, remote) }()

	// Stand in for a long tick of the incoming loop.
	h.server.incomingMu.Lock()
	admitted := make(chan struct{})
	go func() {
		h.server.Admit(client.NewClient(local))
		close(admitted)
	}()
	select {
	case <-admitted:
	case <-time.After(testWait):
		h.server.incomingMu.Unlock()
		t.Fatal("Admit waited for the incoming loop")
	}
	if len(h.server.incoming) != 0 {
		t.Error("connection joined the incoming list outside a tick")
	}
	h.server.incomingMu.Unlock()

	h.server.processIncoming(time.Now())
	if len(h.server.incoming) != 1 {
		t.Fatalf("expected the admitted connection to be picked up, got %d", len(h.server.incoming))
	}
}

func TestPurge_KeepsUnfinishedConnections(t *testing.T) {
	h := newHarness(t)
	finishedPeer, finished := h.connect(t)
	h.challenge(t, finishedPeer, finished)
	livePeer, live := h.connect(t)
	h.challenge(t, livePeer, live)
	_, mapServer := h.register(t, "east", 7000)

	finished.transition(stateDone, time.Now())
	h.server.incomingMu.Lock()
	h.server.purge()
	remaining := append([]*incomingConnection(nil), h.server.incoming...)
	h.server.incomingMu.Unlock()

	if len(remaining) != 2 || remaining[0] != live || remaining[1] != mapServer {
		t.Fatalf("expected only the finished connection to be purged, %d remain", len(remaining))
	}
	if live.state != stateChallengeSent || mapServer.state != stateMapList {
		t.Errorf("purge changed states: %v, %v", live.state, mapServer.state)
	}
	for _, ic := range remaining {
		if err := ic.client.Err(); err != nil {
			t.Errorf("purge closed an unfinished connection: %v", err)
		}
	}
	if !errors.Is(finished.client.Err(), client.ErrClosed) {
		t.Errorf("expected the finished connection to be closed, got %v", finished.client.Err())
	}
	expectClosed(t, finishedPeer)
}
