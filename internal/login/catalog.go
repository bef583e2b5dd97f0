package login

import (
	"errors"
	"fmt"
	"sort"

	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/SgtCoDFish/PlayPG/internal/core"
	"github.com/SgtCoDFish/PlayPG/internal/core/data"
	"github.com/SgtCoDFish/PlayPG/internal/maps"
)

// Catalog is the authoritative set of maps the login server will accept map
// servers for, keyed by map name.
type Catalog struct {
	cache *gocache.Cache
	// Names in sorted order; the first is where new characters start.
	names []string
}

func NewCatalog(ids []maps.Identifier) *Catalog {
	c := &Catalog{cache: gocache.New(gocache.NoExpiration, 0)}
	for _, id := range ids {
		if _, ok := c.cache.Get(id.Name); !ok {
			c.names = append(c.names, id.Name)
		}
		c.cache.Set(id.Name, id, gocache.NoExpiration)
	}
	sort.Strings(c.names)
	return c
}

func (c *Catalog) Lookup(name string) (maps.Identifier, bool) {
	v, ok := c.cache.Get(name)
	if !ok {
		return maps.Identifier{}, false
	}
	return v.(maps.Identifier), true
}

// StartingMap is the map characters without a location are sent to.
func (c *Catalog) StartingMap() string {
	if len(c.names) == 0 {
		return ""
	}
	return c.names[0]
}

func (c *Catalog) Len() int { return len(c.names) }

// LoadCatalog reads the maps in dir and reconciles each with its location
// record, creating records for new maps and updating them when a map's version
// moves forward.
func LoadCatalog(logger *logrus.Logger, db *gorm.DB, dir string) (*Catalog, error) {
	ids, err := maps.LoadDir(logger, dir)
	if err != nil {
		return nil, err
	}

	authoritative := make([]maps.Identifier, 0, len(ids))
	err = db.Transaction(func(tx *gorm.DB) error {
		for _, id := range ids {
			resolved, err := reconcileLocation(logger, tx, id)
			if err != nil {
				return fmt.Errorf("reconciling map %s: %w", id.Name, err)
			}
			authoritative = append(authoritative, resolved)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, id := range authoritative {
		logger.Infof("loaded map %v", id)
	}
	return NewCatalog(authoritative), nil
}

func reconcileLocation(logger *logrus.Logger, tx *gorm.DB, id maps.Identifier) (maps.Identifier, error) {
	loc, err := data.FindLocation(tx, id.Name)
	if errors.Is(err, data.ErrDuplicateRecords) {
		logger.Warnf("multiple location records for map %s; using the first", id.Name)
	} else if err != nil {
		return id, err
	}

	if loc == nil {
		loc = &data.Location{Name: id.Name, FileName: id.FileName, Hash: id.Hash}
		if err := loc.SetVersion(id.Version); err != nil {
			return id, err
		}
		return id, data.CreateLocation(tx, loc)
	}

	recorded := loc.Version()
	switch {
	case loc.Hash == id.Hash:
		if recorded.Equal(id.Version) && loc.FileName == id.FileName {
			return id, nil
		}
		loc.FileName = id.FileName
		if err := loc.SetVersion(id.Version); err != nil {
			return id, err
		}
		return id, data.UpdateLocation(tx, loc)

	case id.Version.GreaterThan(recorded):
		logger.Infof("map %s updated from v%s to v%s", id.Name, recorded, id.Version)
		loc.Hash = id.Hash
		loc.FileName = id.FileName
		if err := loc.SetVersion(id.Version); err != nil {
			return id, err
		}
		return id, data.UpdateLocation(tx, loc)

	case id.Version.Equal(recorded):
		core.SecurityLog(logger).Errorf("map %s v%s on disk has hash %s but %s is recorded for that version; using the recorded hash",
			id.Name, id.Version, id.Hash, loc.Hash)
	default:
		logger.Warnf("map %s on disk (v%s) is older than the recorded v%s; using the recorded map",
			id.Name, id.Version, recorded)
	}

	return maps.Identifier{
		Name:     loc.Name,
		Hash:     loc.Hash,
		Version:  recorded,
		FileName: loc.FileName,
	}, nil
}
