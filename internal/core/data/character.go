package data

import (
	"fmt"

	"gorm.io/gorm"
)

// Character belongs to exactly one Player. A nil Location means the character
// has not entered the world yet.
type Character struct {
	ID       uint64 `gorm:"primaryKey"`
	PlayerID uint64 `gorm:"index;not null"`
	Player   *Player

	Name         string `gorm:"not null"`
	MaxHP        uint32
	Strength     uint32
	Intelligence uint32

	LocationID *uint64
	Location   *Location
}

// FindCharactersByPlayer returns every character owned by the player, ordered by id.
func FindCharactersByPlayer(db *gorm.DB, playerID uint64) ([]Character, error) {
	var characters []Character
	err := db.Where("player_id = ?", playerID).Order("id").Find(&characters).Error
	if err != nil {
		return nil, err
	}
	return characters, nil
}

// FindPlayerCharacter returns the character with characterID only if it is owned
// by playerID, or nil otherwise. More than one match returns ErrDuplicateRecords
// and no character.
func FindPlayerCharacter(db *gorm.DB, playerID, characterID uint64) (*Character, error) {
	var characters []Character
	err := db.Preload("Location").
		Where("id = ? AND player_id = ?", characterID, playerID).
		Limit(2).
		Find(&characters).Error
	if err != nil {
		return nil, err
	}

	switch len(characters) {
	case 0:
		return nil, nil
	case 1:
		return &characters[0], nil
	default:
		return nil, fmt.Errorf("%w: character %d", ErrDuplicateRecords, characterID)
	}
}

func CreateCharacter(db *gorm.DB, character *Character) error {
	return db.Create(character).Error
}
