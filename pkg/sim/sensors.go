package sim

import (
	"sync"

	"github.com/golang/glog"
)

// Sensor is a simulated bus device.
type Sensor struct {
	Name    string `yaml:"name"`
	Address uint8  `yaml:"address"`
	Present bool   `yaml:"present"`
}

// Sensors probes one sensor per init slice.
type Sensors struct {
	Devices []Sensor

	next     int
	detected []Sensor
	lock     sync.Mutex
}

// NewSensors creates Sensors on the devices.
func NewSensors(devices ...Sensor) *Sensors {
	return &Sensors{Devices: devices}
}

// InitStep implements node.Sensors. The first slice of a run starts
// over, so reassociation detects the devices again.
func (s *Sensors) InitStep() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.next == 0 {
		s.detected = s.detected[:0]
	}
	if s.next < len(s.Devices) {
		dev := s.Devices[s.next]
		if dev.Present {
			s.detected = append(s.detected, dev)
			glog.V(1).Infof("sensor %s detected at %#02x", dev.Name, dev.Address)
		}
		s.next++
	}
	if s.next < len(s.Devices) {
		return true
	}
	s.next = 0
	return false
}

// Detected returns the devices found by the last init.
func (s *Sensors) Detected() []Sensor {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]Sensor(nil), s.detected...)
}
