// Package settings provides the named integer store of the node.
package settings

import (
	"sort"
	"sync"

	"github.com/golang/glog"
)

// Well known setting names.
const (
	CmdPort           = "cmd.port"
	CmdTimeout        = "cmd.timeout"
	CmdWebSocketPort  = "cmd.ws.port"
	BridgePort        = "bridge.port"
	BridgeTimeout     = "bridge.timeout"
	BridgeStripTelnet = "bridge.strip-telnet"
	TriggerAssocIO    = "trigger.assoc.io"
	TriggerAssocPin   = "trigger.assoc.pin"
	TriggerStatusIO   = "trigger.status.io"
	TriggerStatusPin  = "trigger.status.pin"
	WLANMode          = "wlan.mode"
)

// WLAN modes stored in WLANMode.
const (
	WLANModeClient = 0
	WLANModeAP     = 1
)

// Defaults used when a setting is absent.
const (
	DefaultCmdPort       = 24
	DefaultCmdTimeout    = 90
	DefaultBridgePort    = 0
	DefaultBridgeTimeout = 90
)

// Store is a concurrency safe map of named integers.
type Store struct {
	values map[string]int
	lock   sync.RWMutex
}

// New creates a Store seeded with values.
func New(values map[string]int) *Store {
	s := &Store{values: make(map[string]int)}
	for name, val := range values {
		s.values[name] = val
	}
	return s
}

// GetInt returns the value or def when absent.
func (s *Store) GetInt(name string, def int) int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if val, ok := s.values[name]; ok {
		return val
	}
	return def
}

// Lookup returns the value and whether it is present.
func (s *Store) Lookup(name string) (int, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	val, ok := s.values[name]
	return val, ok
}

// SetInt stores a value.
func (s *Store) SetInt(name string, value int) {
	s.lock.Lock()
	s.values[name] = value
	s.lock.Unlock()
	glog.V(2).Infof("setting %s = %d", name, value)
}

// Delete removes a value.
func (s *Store) Delete(name string) {
	s.lock.Lock()
	delete(s.values, name)
	s.lock.Unlock()
}

// Names returns the sorted names of all present settings.
func (s *Store) Names() []string {
	s.lock.RLock()
	names := make([]string, 0, len(s.values))
	for name := range s.values {
		names = append(names, name)
	}
	s.lock.RUnlock()
	sort.Strings(names)
	return names
}

// Snapshot returns a copy of all values.
func (s *Store) Snapshot() map[string]int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	values := make(map[string]int, len(s.values))
	for name, val := range s.values {
		values[name] = val
	}
	return values
}

// Pin reads an io/pin pair. ok is false unless both are present and
// not negative.
func (s *Store) Pin(ioName, pinName string) (io, pin int, ok bool) {
	io, pin = s.GetInt(ioName, -1), s.GetInt(pinName, -1)
	return io, pin, io >= 0 && pin >= 0
}
