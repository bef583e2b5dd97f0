package packets

// Message text sent in LoginAuthenticationResponse packets.
const (
	AuthenticationSuccessMessage = "Authentication successful."
	AuthenticationFailureMessage = "Authentication failure."
	UnexpectedDataMessage        = "Unexpected data."
)

// LoginAuthenticationChallenge is sent to every new connection. PubKey is the PEM
// encoded public key the client must encrypt its password with.
type LoginAuthenticationChallenge struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	VersionHash string `json:"versionHash"`
	PubKey      string `json:"pubKey"`
}

// LoginAuthenticationIdentity carries the player's credentials. Password is the
// hex encoded RSA-OAEP ciphertext of the plaintext password.
type LoginAuthenticationIdentity struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginAuthenticationResponse struct {
	Successful        bool   `json:"successful"`
	AttemptsRemaining int    `json:"attemptsRemaining"`
	Message           string `json:"message"`
}

// VersionMismatch is sent by a peer that refuses to continue because the
// challenge advertised a different server version.
type VersionMismatch struct{}

// MalformedPacket tells the peer that its last message could not be understood.
type MalformedPacket struct{}

func (*LoginAuthenticationChallenge) Opcode() Opcode { return LoginAuthenticationChallengeType }
func (*LoginAuthenticationIdentity) Opcode() Opcode  { return LoginAuthenticationIdentityType }
func (*LoginAuthenticationResponse) Opcode() Opcode  { return LoginAuthenticationResponseType }
func (*VersionMismatch) Opcode() Opcode              { return VersionMismatchType }
func (*MalformedPacket) Opcode() Opcode              { return MalformedPacketType }
