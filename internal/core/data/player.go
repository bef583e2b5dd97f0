package data

import (
	"fmt"
	"time"

	"golang.org/x/text/language"
	"gorm.io/gorm"
)

// DefaultLanguage is assigned to accounts created without a preference.
const DefaultLanguage = "en"

// Player is a registered account. PasswordHash and PasswordSalt are hex encoded.
type Player struct {
	ID           uint64 `gorm:"primaryKey"`
	Username     string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	PasswordSalt string `gorm:"not null"`
	// BCP 47 language tag.
	Language  string `gorm:"not null;default:en"`
	Locked    bool   `gorm:"not null;default:false"`
	JoinDate  time.Time
	LastLogin *time.Time
}

// BeforeSave normalizes the language tag, rejecting tags that don't parse.
func (p *Player) BeforeSave(*gorm.DB) error {
	tag, err := NormalizeLanguage(p.Language)
	if err != nil {
		return err
	}
	p.Language = tag
	if p.JoinDate.IsZero() {
		p.JoinDate = time.Now().UTC()
	}
	return nil
}

// NormalizeLanguage returns the canonical form of a BCP 47 tag. The empty string
// maps to DefaultLanguage.
func NormalizeLanguage(tag string) (string, error) {
	if tag == "" {
		return DefaultLanguage, nil
	}
	parsed, err := language.Parse(tag)
	if err != nil {
		return "", fmt.Errorf("invalid language %q: %w", tag, err)
	}
	return parsed.String(), nil
}

// FindPlayerByUsername returns the account with the given username, or nil if there
// is none. If more than one row matches, the first is returned along with
// ErrDuplicateRecords.
func FindPlayerByUsername(db *gorm.DB, username string) (*Player, error) {
	var players []Player
	err := db.Where("username = ?", username).Order("id").Limit(2).Find(&players).Error
	if err != nil {
		return nil, err
	}

	switch len(players) {
	case 0:
		return nil, nil
	case 1:
		return &players[0], nil
	default:
		return &players[0], fmt.Errorf("%w: username %q", ErrDuplicateRecords, username)
	}
}

// CreatePlayer persists a new Player record to the database.
func CreatePlayer(db *gorm.DB, player *Player) error {
	return db.Create(player).Error
}

// UpdatePlayer saves every field of an existing Player.
func UpdatePlayer(db *gorm.DB, player *Player) error {
	return db.Save(player).Error
}

// RecordLogin sets the player's last login time.
func RecordLogin(db *gorm.DB, player *Player, at time.Time) error {
	at = at.UTC()
	player.LastLogin = &at
	return db.Model(player).Update("last_login", at).Error
}

func CountPlayers(db *gorm.DB) (int64, error) {
	var count int64
	err := db.Model(&Player{}).Count(&count).Error
	return count, err
}

// BootstrapUsername is the account created when the player table is empty.
const BootstrapUsername = "superuser"

// CreateBootstrapPlayer creates the bootstrap account with the given hash and
// salt if and only if no accounts exist. The returned bool reports whether an
// account was created.
func CreateBootstrapPlayer(db *gorm.DB, passwordHash, passwordSalt string) (bool, error) {
	created := false
	err := db.Transaction(func(tx *gorm.DB) error {
		count, err := CountPlayers(tx)
		if err != nil {
			return fmt.Errorf("counting players: %w", err)
		}
		if count != 0 {
			return nil
		}
		if err := CreatePlayer(tx, &Player{
			Username:     BootstrapUsername,
			PasswordHash: passwordHash,
			PasswordSalt: passwordSalt,
		}); err != nil {
			return fmt.Errorf("creating bootstrap player: %w", err)
		}
		created = true
		return nil
	})
	return created, err
}
