package packets

// RegistrationGreeting is the message carried by MapServerRegistrationResponse.
const RegistrationGreeting = "hello, world"

// MapServerRegistrationRequest announces a map server and where players should
// connect to it. Unlike most packets it is encoded as raw length-prefixed fields.
type MapServerRegistrationRequest struct {
	Name    string
	Address string
	Port    uint16
}

type MapServerRegistrationResponse struct {
	Message string `json:"message"`
}

// MapHash identifies one map by name and content hash.
type MapHash struct {
	Name string `json:"name"`
	Hash string `json:"hash"`
}

// MapServerMapList is sent by a map server to offer its maps and echoed back by
// the login server with only the maps the map server is granted.
type MapServerMapList struct {
	MapHashes []MapHash `json:"mapHashes"`
}

// MapServerNotNeeded tells a map server none of its maps were accepted.
type MapServerNotNeeded struct{}

// MapServerAck is sent by a map server to accept the granted map list.
type MapServerAck struct{}

// MapServerConnectionInstructions tells a player which map server to connect to.
type MapServerConnectionInstructions struct {
	Name       string `json:"name"`
	Address    string `json:"address"`
	Port       uint16 `json:"port"`
	Map        string `json:"map"`
	SessionKey string `json:"sessionKey"`
}

// NoMapServerError tells a player that no map server currently hosts the map
// their character is on.
type NoMapServerError struct {
	Map     string `json:"map"`
	Message string `json:"message"`
}

func (*MapServerRegistrationRequest) Opcode() Opcode    { return MapServerRegistrationRequestType }
func (*MapServerRegistrationResponse) Opcode() Opcode   { return MapServerRegistrationResponseType }
func (*MapServerMapList) Opcode() Opcode                { return MapServerMapListType }
func (*MapServerNotNeeded) Opcode() Opcode              { return MapServerNotNeededType }
func (*MapServerAck) Opcode() Opcode                    { return MapServerAckType }
func (*MapServerConnectionInstructions) Opcode() Opcode { return MapServerConnectionInstructionsType }
func (*NoMapServerError) Opcode() Opcode                { return NoMapServerErrorType }
