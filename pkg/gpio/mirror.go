package gpio

import (
	"fmt"
	"strconv"
	"strings"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"
)

// Queue is the MQTT side of a Mirror, implemented by mqtt.Queue.
type Queue interface {
	Pub(topic string, payload []byte, retain bool) paho.Token
	Sub(pattern string, handler func(topic string, payload []byte))
}

// Mirror publishes every pin change as a retained message on
// "io/<io>/pin/<pin>" and applies remote writes received on
// "io/<io>/pin/<pin>/set" to Target.
type Mirror struct {
	Queue  Queue
	Target IO
}

// NewMirror creates a Mirror.
func NewMirror(q Queue, target IO) *Mirror {
	return &Mirror{Queue: q, Target: target}
}

// PinTopic returns the topic of a pin.
func PinTopic(io, pin int) string {
	return fmt.Sprintf("io/%d/pin/%d", io, pin)
}

// Subscribe starts accepting remote writes.
func (m *Mirror) Subscribe() {
	m.Queue.Sub("io/+/pin/+/set", m.handleSet)
}

// TriggerPin implements IO.
func (m *Mirror) TriggerPin(io, pin int, on bool) {
	var value uint32
	if on {
		value = 1
	}
	m.publish(io, pin, value)
}

// WritePin implements IO.
func (m *Mirror) WritePin(io, pin int, value uint32) {
	m.publish(io, pin, value)
}

func (m *Mirror) publish(io, pin int, value uint32) {
	m.Queue.Pub(PinTopic(io, pin), []byte(strconv.FormatUint(uint64(value), 10)), true)
}

func (m *Mirror) handleSet(topic string, payload []byte) {
	tokens := strings.Split(topic, "/")
	if len(tokens) != 5 {
		return
	}
	io, err1 := strconv.Atoi(tokens[1])
	pin, err2 := strconv.Atoi(tokens[3])
	value, err3 := strconv.ParseUint(strings.TrimSpace(string(payload)), 0, 32)
	if err1 != nil || err2 != nil || err3 != nil {
		glog.Warningf("gpio: invalid remote write %s %q", topic, payload)
		return
	}
	glog.V(1).Infof("gpio: remote write %d/%d = %d", io, pin, value)
	if m.Target != nil {
		m.Target.WritePin(io, pin, uint32(value))
	}
}
