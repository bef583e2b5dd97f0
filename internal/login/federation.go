package login

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/SgtCoDFish/PlayPG/internal/core/client"
	"github.com/SgtCoDFish/PlayPG/internal/maps"
	"github.com/SgtCoDFish/PlayPG/internal/packets"
)

// ErrMapAlreadyHosted is returned when registering a map server for a map that
// another live map server already hosts.
var ErrMapAlreadyHosted = errors.New("map already hosted")

// MapServerConnection is a registered map server. Its fields never change after
// registration.
type MapServerConnection struct {
	Name     string
	Hostname string
	Port     uint16
	Maps     []maps.Identifier

	client *client.Client
}

// Federation tracks registered map servers and which map each one hosts.
type Federation struct {
	Name   string
	Logger *logrus.Logger

	mu      sync.Mutex
	servers []*MapServerConnection
	byMap   map[string]*MapServerConnection
}

func NewFederation(name string, logger *logrus.Logger) *Federation {
	return &Federation{
		Name:   name,
		Logger: logger,
		byMap:  make(map[string]*MapServerConnection),
	}
}

// Register adds a map server and indexes each of its maps. Nothing is registered
// if any of its maps is already hosted.
func (f *Federation) Register(m *MapServerConnection) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, id := range m.Maps {
		if existing, ok := f.byMap[id.Name]; ok {
			return fmt.Errorf("%w: %s is hosted by %s", ErrMapAlreadyHosted, id.Name, existing.Name)
		}
	}

	f.servers = append(f.servers, m)
	for _, id := range m.Maps {
		f.byMap[id.Name] = m
	}
	registeredMapServers.Set(float64(len(f.servers)))
	return nil
}

// Lookup returns the map server hosting mapName, or nil.
func (f *Federation) Lookup(mapName string) *MapServerConnection {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byMap[mapName]
}

func (f *Federation) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.servers)
}

// CheckHealth polls every registered map server and removes those whose
// connection has failed, returning how many were removed. Map servers are not
// expected to send anything after registration; anything they do send is read
// and logged.
func (f *Federation) CheckHealth() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	kept := f.servers[:0]
	removed := 0
	for _, m := range f.servers {
		if pkt, err := m.client.Poll(); pkt != nil {
			f.Logger.Warnf("[%s] unexpected %v from map server %s", f.Name, pkt.Opcode(), m.Name)
		} else if errors.Is(err, packets.ErrMalformed) {
			f.Logger.Warnf("[%s] %v from map server %s", f.Name, err, m.Name)
		}

		if err := m.client.Err(); err != nil {
			f.Logger.Warnf("[%s] map server %s (%s:%d) is gone: %v", f.Name, m.Name, m.Hostname, m.Port, err)
			_ = m.client.Close()
			for _, id := range m.Maps {
				if f.byMap[id.Name] == m {
					delete(f.byMap, id.Name)
				}
			}
			removed++
			continue
		}
		kept = append(kept, m)
	}
	for i := len(kept); i < len(f.servers); i++ {
		f.servers[i] = nil
	}
	f.servers = kept
	registeredMapServers.Set(float64(len(f.servers)))
	return removed
}

// CloseAll disconnects every map server and empties the registry.
func (f *Federation) CloseAll() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, m := range f.servers {
		_ = m.client.Close()
	}
	f.servers = nil
	f.byMap = make(map[string]*MapServerConnection)
	registeredMapServers.Set(0)
}
