// Package packets defines every message exchanged between players, the login
// server and map servers. Each message begins with a 16 bit opcode; messages with
// a JSON body follow it with a 16 bit body length.
package packets

import "fmt"

type Opcode uint16

// Sent by game clients.
const (
	LoginAuthenticationIdentityType Opcode = 0x0001
	VersionMismatchType             Opcode = 0x0002
	RequestCharactersType           Opcode = 0x0003
	CharacterSelectType             Opcode = 0x0004
)

// Sent by the login server or by map servers.
const (
	LoginAuthenticationChallengeType    Opcode = 0xFFFE
	LoginAuthenticationResponseType     Opcode = 0xFFFD
	MapServerRegistrationRequestType    Opcode = 0xFFFC
	MapServerRegistrationResponseType   Opcode = 0xFFFB
	MapServerMapListType                Opcode = 0xFFFA
	MapServerNotNeededType              Opcode = 0xFFF9
	MapServerAckType                    Opcode = 0xFFF8
	MapServerConnectionInstructionsType Opcode = 0xFFF7
	PlayerCharactersType                Opcode = 0xFFF6
	NoMapServerErrorType                Opcode = 0xFFF5
	MalformedPacketType                 Opcode = 0xFFF3
)

var opcodeNames = map[Opcode]string{
	LoginAuthenticationIdentityType:     "LOGIN_AUTHENTICATION_IDENTITY",
	VersionMismatchType:                 "VERSION_MISMATCH",
	RequestCharactersType:               "REQUEST_CHARACTERS",
	CharacterSelectType:                 "CHARACTER_SELECT",
	LoginAuthenticationChallengeType:    "LOGIN_AUTHENTICATION_CHALLENGE",
	LoginAuthenticationResponseType:     "LOGIN_AUTHENTICATION_RESPONSE",
	MapServerRegistrationRequestType:    "MAP_SERVER_REGISTRATION_REQUEST",
	MapServerRegistrationResponseType:   "MAP_SERVER_REGISTRATION_RESPONSE",
	MapServerMapListType:                "MAP_SERVER_MAP_LIST",
	MapServerNotNeededType:              "MAP_SERVER_NOT_NEEDED",
	MapServerAckType:                    "MAP_SERVER_ACK",
	MapServerConnectionInstructionsType: "MAP_SERVER_CONNECTION_INSTRUCTIONS",
	PlayerCharactersType:                "PLAYER_CHARACTERS",
	NoMapServerErrorType:                "NO_MAP_SERVER_ERROR",
	MalformedPacketType:                 "MALFORMED_PACKET",
}

func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%#04x)", uint16(o))
}

// Packet is implemented by every message type.
type Packet interface {
	Opcode() Opcode
}
