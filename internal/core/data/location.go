package data

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
	"gorm.io/gorm"
)

// Location is a map known to the login server. Name is the natural key; Hash is
// the MD5 hex identity of the map's contents.
type Location struct {
	ID           uint64 `gorm:"primaryKey"`
	Name         string `gorm:"uniqueIndex;not null"`
	FileName     string
	Hash         string `gorm:"not null"`
	VersionMajor uint16
	VersionMinor uint16
	VersionPatch uint16
}

// Version returns the location's version triple.
func (l *Location) Version() *semver.Version {
	return semver.New(uint64(l.VersionMajor), uint64(l.VersionMinor), uint64(l.VersionPatch), "", "")
}

// SetVersion stores v, failing if a component does not fit in 16 bits.
func (l *Location) SetVersion(v *semver.Version) error {
	const limit = 1<<16 - 1
	if v.Major() > limit || v.Minor() > limit || v.Patch() > limit {
		return fmt.Errorf("version %s out of range", v)
	}
	l.VersionMajor = uint16(v.Major())
	l.VersionMinor = uint16(v.Minor())
	l.VersionPatch = uint16(v.Patch())
	return nil
}

// FindLocation returns the location with the given name or nil if there is none.
// If more than one row matches, the first is returned along with ErrDuplicateRecords.
func FindLocation(db *gorm.DB, name string) (*Location, error) {
	var locations []Location
	if err := db.Where("name = ?", name).Order("id").Limit(2).Find(&locations).Error; err != nil {
		return nil, err
	}

	switch len(locations) {
	case 0:
		return nil, nil
	case 1:
		return &locations[0], nil
	default:
		return &locations[0], fmt.Errorf("%w: location %q", ErrDuplicateRecords, name)
	}
}

func CreateLocation(db *gorm.DB, location *Location) error {
	return db.Create(location).Error
}

func UpdateLocation(db *gorm.DB, location *Location) error {
	return db.Save(location).Error
}
