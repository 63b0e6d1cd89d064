// Package env provides the common configuration of the lenlab tools.
package env

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/robotalks/lenlab.go/pkg/bridge/mqtt"
	"github.com/robotalks/lenlab.go/pkg/link"
)

// LinkAuto selects the first LaunchPad serial port running the firmware.
const LinkAuto = "auto"

// Config provides common options of the tools.
type Config struct {
	// Link is the instrument link, e.g. serial:///dev/ttyACM0,
	// tcp://localhost:6600 or LinkAuto.
	Link string

	// Listen is where a virtual instrument serves.
	Listen string

	// MQTTBrokerURL specifies the MQTT broker to use.
	// e.g. mqtt://host:port/topic-prefix
	MQTTBrokerURL string

	// DeviceID names the instrument on MQTT. Defaults to MachineID.
	DeviceID string

	// Timeout bounds a single command.
	Timeout time.Duration
}

var defaultConfig = Config{
	Link:          LinkAuto,
	Listen:        "tcp://localhost:6600",
	MQTTBrokerURL: "mqtt://localhost:1883/lenlab/",
	Timeout:       2 * time.Second,
}

// Ports lists all serial ports.
var Ports = link.Ports

func init() {
	loadEnv(&defaultConfig, os.Getenv)
}

func loadEnv(c *Config, getenv func(string) string) {
	if val := getenv("LENLAB_LINK"); val != "" {
		c.Link = val
	}
	if val := getenv("LENLAB_LISTEN"); val != "" {
		c.Listen = val
	}
	if val := getenv("LENLAB_MQTT_URL"); val != "" {
		c.MQTTBrokerURL = val
	}
	if val := getenv("LENLAB_DEVICE_ID"); val != "" {
		c.DeviceID = val
	}
}

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.Link, "link", defaultConfig.Link, "Instrument link URL or auto")
	flag.StringVar(&defaultConfig.Listen, "listen", defaultConfig.Listen, "Virtual instrument listen URL")
	flag.StringVar(&defaultConfig.MQTTBrokerURL, "mqtt", defaultConfig.MQTTBrokerURL, "MQTT broker URL")
	flag.StringVar(&defaultConfig.DeviceID, "id", defaultConfig.DeviceID, "Device ID")
	flag.DurationVar(&defaultConfig.Timeout, "timeout", defaultConfig.Timeout, "Command timeout")
}

// Default gets default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// Device returns DeviceID, or the machine ID if unset.
func (c *Config) Device() string {
	if c.DeviceID != "" {
		return c.DeviceID
	}
	return MachineID()
}

// LinkURL resolves LinkAuto to the first LaunchPad answering a knock.
func (c *Config) LinkURL() (string, error) {
	if c.Link != LinkAuto {
		return c.Link, nil
	}
	return Detect()
}

// Dial opens the instrument link.
func (c *Config) Dial() (link.Conn, error) {
	u, err := c.LinkURL()
	if err != nil {
		return nil, err
	}
	return link.Dial(u)
}

// MustDial opens the instrument link and fails on error.
func (c *Config) MustDial() link.Conn {
	conn, err := c.Dial()
	if err != nil {
		log.Fatalln(err)
	}
	return conn
}

// MustListen serves the virtual instrument and fails on error.
func (c *Config) MustListen() link.Listener {
	ln, err := link.Listen(c.Listen)
	if err != nil {
		log.Fatalln(err)
	}
	return ln
}

// NewQueue connects the MQTT broker.
func (c *Config) NewQueue() (*mqtt.Queue, error) {
	q, err := mqtt.NewQueueFromURL(c.MQTTBrokerURL)
	if err != nil {
		return nil, fmt.Errorf("create MQTT queue error: %v", err)
	}
	if err := q.Connect(); err != nil {
		return nil, fmt.Errorf("connect %s: %v", c.MQTTBrokerURL, err)
	}
	return q, nil
}

// MustNewQueue connects the MQTT broker and fails on error.
func (c *Config) MustNewQueue() *mqtt.Queue {
	q, err := c.NewQueue()
	if err != nil {
		log.Fatalln(err)
	}
	return q
}
