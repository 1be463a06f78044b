// Package env configures and assembles a node daemon.
package env

import (
	"flag"
	"fmt"
	"io/ioutil"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/robotalks/nodecore/pkg/framework"
	"github.com/robotalks/nodecore/pkg/gpio"
	"github.com/robotalks/nodecore/pkg/sequencer"
	"github.com/robotalks/nodecore/pkg/sim"
	"github.com/robotalks/nodecore/pkg/uart"
)

// FlashConfig describes the flash device and the sequencer table.
type FlashConfig struct {
	// Image is the file backing the flash, empty keeps it in memory.
	Image   string    `yaml:"image"`
	Size    uint32    `yaml:"size"`
	Mirrors [2]uint32 `yaml:"mirrors"`
	// Active selects the mirror mapped for reading.
	Active int `yaml:"active"`
}

// DisplayConfig describes the simulated display.
type DisplayConfig struct {
	Rows    int `yaml:"rows"`
	Columns int `yaml:"columns"`
}

// Config provides the options of a node daemon.
type Config struct {
	// Settings seed the named integer store.
	Settings map[string]int `yaml:"settings"`
	Flash    FlashConfig    `yaml:"flash"`
	// UART is the serial port of the bridge, required by bridge.port.
	UART   *uart.Config        `yaml:"uart"`
	Modbus []gpio.ModbusConfig `yaml:"modbus"`

	// MQTTBrokerURL specifies the MQTT broker for status and pins.
	// e.g. mqtt://host:port/topic-prefix/{id}
	MQTTBrokerURL string `yaml:"mqtt"`
	// MetricsAddr serves Prometheus metrics when set.
	MetricsAddr string `yaml:"metrics"`
	// MulticastGroup is joined by the command console.
	MulticastGroup string `yaml:"multicast"`

	Display        DisplayConfig `yaml:"display"`
	Sensors        []sim.Sensor  `yaml:"sensors"`
	AssociateAfter time.Duration `yaml:"associate-after"`
	Unreachable    bool          `yaml:"unreachable"`

	FastInterval   time.Duration `yaml:"fast-interval"`
	SlowInterval   time.Duration `yaml:"slow-interval"`
	StatusInterval time.Duration `yaml:"status-interval"`
}

// Default flash geometry, two mirrors below 1MB.
const (
	DefaultFlashSize uint32 = 0x100000
	DefaultMirror0   uint32 = 0x80000
	DefaultMirror1   uint32 = 0xc0000
)

var (
	configFile string

	defaultConfig = Config{
		Flash: FlashConfig{
			Size:    DefaultFlashSize,
			Mirrors: [2]uint32{DefaultMirror0, DefaultMirror1},
		},
		Display:        DisplayConfig{Rows: 4, Columns: 20},
		AssociateAfter: 2 * time.Second,
		FastInterval:   framework.DefaultFastInterval,
		SlowInterval:   framework.DefaultSlowInterval,
	}
)

func init() {
	if val := os.Getenv("NODECORE_MQTT_URL"); val != "" {
		defaultConfig.MQTTBrokerURL = val
	}
	if val := os.Getenv("NODECORE_CONFIG"); val != "" {
		configFile = val
	}
}

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.StringVar(&configFile, "config", configFile, "YAML config file")
	flag.StringVar(&defaultConfig.Flash.Image, "flash", defaultConfig.Flash.Image, "Flash image file")
	flag.StringVar(&defaultConfig.MQTTBrokerURL, "mqtt", defaultConfig.MQTTBrokerURL, "MQTT broker URL")
	flag.StringVar(&defaultConfig.MetricsAddr, "metrics", defaultConfig.MetricsAddr, "Prometheus metrics address")
}

// NewConfig creates a Config with default configurations, the config
// file named by -config is applied on top.
func NewConfig() (*Config, error) {
	conf := defaultConfig
	if configFile != "" {
		if err := conf.LoadFile(configFile); err != nil {
			return nil, err
		}
	}
	return &conf, conf.Validate()
}

// LoadFile applies a YAML file.
func (c *Config) LoadFile(fn string) error {
	data, err := ioutil.ReadFile(fn)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config %s: %v", fn, err)
	}
	return nil
}

// Validate checks the flash layout.
func (c *Config) Validate() error {
	f := &c.Flash
	if f.Active != 0 && f.Active != 1 {
		return fmt.Errorf("flash: active mirror must be 0 or 1")
	}
	if f.Mirrors[f.Active] == 0 {
		return fmt.Errorf("flash: active mirror %d has no offset", f.Active)
	}
	for n, offset := range f.Mirrors {
		if offset%sequencer.SectorSize != 0 {
			return fmt.Errorf("flash: mirror %d offset %#x not sector aligned", n, offset)
		}
		if offset+sequencer.Size > f.Size {
			return fmt.Errorf("flash: mirror %d at %#x exceeds flash size %#x", n, offset, f.Size)
		}
	}
	if f.Mirrors[0] != 0 && f.Mirrors[1] != 0 {
		lo, hi := f.Mirrors[0], f.Mirrors[1]
		if lo > hi {
			lo, hi = hi, lo
		}
		if lo+sequencer.Size > hi {
			return fmt.Errorf("flash: mirrors overlap")
		}
	}
	return nil
}

// Layout returns the sequencer table layout.
func (c *Config) Layout() sequencer.Layout {
	return sequencer.Layout{
		Mirrors: c.Flash.Mirrors,
		Active:  c.Flash.Mirrors[c.Flash.Active],
	}
}
