package packets

// RequestCharacters asks for the characters owned by the session's account.
type RequestCharacters struct{}

// CharacterSelect picks one of the account's characters by id. The id is sent as
// a raw 8 byte integer.
type CharacterSelect struct {
	CharacterID uint64
}

type CharacterStats struct {
	MaxHP        uint32 `json:"maxHP"`
	Strength     uint32 `json:"strength"`
	Intelligence uint32 `json:"intelligence"`
}

type CharacterInfo struct {
	ID    uint64         `json:"id"`
	Name  string         `json:"name"`
	Stats CharacterStats `json:"stats"`
}

type PlayerCharacters struct {
	Characters []CharacterInfo `json:"characters"`
}

func (*RequestCharacters) Opcode() Opcode { return RequestCharactersType }
func (*CharacterSelect) Opcode() Opcode   { return CharacterSelectType }
func (*PlayerCharacters) Opcode() Opcode  { return PlayerCharactersType }
