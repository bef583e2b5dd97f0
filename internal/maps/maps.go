// Package maps reads the identity of TMX map files: the name players know the
// map by, a hash identifying its contents and its version.
package maps

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/sirupsen/logrus"
)

// Extension of map files picked up by LoadDir.
const Extension = ".tmx"

// ErrNoMaps is returned by LoadDir when the directory holds no map files.
var ErrNoMaps = errors.New("no maps found")

// Identifier is the identity of a single map.
type Identifier struct {
	Name     string
	Hash     string
	Version  *semver.Version
	FileName string
}

func (id Identifier) String() string {
	return fmt.Sprintf("%s v%s (%s)", id.Name, id.Version, id.Hash)
}

type tmxProperty struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type tmxMap struct {
	XMLName    xml.Name      `xml:"map"`
	Properties []tmxProperty `xml:"properties>property"`
}

// Load reads the map at path. The name comes from the map's "name" property or
// the file name. The hash is the MD5 of the map's "hash" property, or of the whole
// file when the property is absent. The version comes from the "version"
// property and defaults to 1.0.0.
func Load(path string) (Identifier, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return Identifier{}, fmt.Errorf("reading map: %w", err)
	}

	var m tmxMap
	if err := xml.Unmarshal(contents, &m); err != nil {
		return Identifier{}, fmt.Errorf("parsing map %s: %w", path, err)
	}

	props := make(map[string]string, len(m.Properties))
	for _, p := range m.Properties {
		props[p.Name] = p.Value
	}

	id := Identifier{
		Name:     props["name"],
		FileName: filepath.Base(path),
	}
	if id.Name == "" {
		id.Name = strings.TrimSuffix(id.FileName, filepath.Ext(id.FileName))
	}

	hashSource := contents
	if h, ok := props["hash"]; ok && h != "" {
		hashSource = []byte(h)
	}
	sum := md5.Sum(hashSource)
	id.Hash = hex.EncodeToString(sum[:])

	id.Version = semver.New(1, 0, 0, "", "")
	if v, ok := props["version"]; ok {
		if id.Version, err = semver.NewVersion(v); err != nil {
			return Identifier{}, fmt.Errorf("map %s has invalid version %q: %w", path, v, err)
		}
	}
	return id, nil
}

// LoadDir loads every map file in dir, sorted by name. When two files declare
// the same map name the first file in path order is used and the other is
// skipped with a warning.
func LoadDir(logger logrus.FieldLogger, dir string) ([]Identifier, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*"+Extension))
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoMaps, dir)
	}
	sort.Strings(paths)

	seen := make(map[string]string)
	ids := make([]Identifier, 0, len(paths))
	for _, path := range paths {
		id, err := Load(path)
		if err != nil {
			return nil, err
		}
		if other, ok := seen[id.Name]; ok {
			logger.Warnf("map name %q declared by both %s and %s; ignoring %s", id.Name, other, id.FileName, id.FileName)
			continue
		}
		seen[id.Name] = id.FileName
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i].Name < ids[j].Name })
	return ids, nil
}
