package session

import (
	"fmt"
	"time"
)

// Config collects everything the session needs to reach and steer a camera.
type Config struct {
	Address   string // camera IP address or hostname
	Username  string
	Password  string
	OnvifPort int // device-management port, 2020 on Tapo cameras

	StepSize  float64 // normalized pan/tilt distance per key press
	PanSpeed  float64
	TiltSpeed float64

	Rate           float64 // control loop iterations per second
	ConnectTimeout time.Duration
	SnapshotDir    string
}

// DefaultConfig returns the defaults matching a Tapo-class camera.
func DefaultConfig() Config {
	return Config{
		OnvifPort:      2020,
		StepSize:       0.1,
		PanSpeed:       0.5,
		TiltSpeed:      0.5,
		Rate:           10,
		ConnectTimeout: 10 * time.Second,
		SnapshotDir:    ".",
	}
}

// Validate checks the configuration before any connection attempt.
func (c Config) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("session: camera address is required")
	}
	if c.OnvifPort <= 0 || c.OnvifPort > 65535 {
		return fmt.Errorf("session: invalid ONVIF port %d", c.OnvifPort)
	}
	if c.StepSize <= 0 || c.StepSize > 1 {
		return fmt.Errorf("session: step size %.3f outside (0,1]", c.StepSize)
	}
	if c.PanSpeed < 0 || c.PanSpeed > 1 {
		return fmt.Errorf("session: pan speed %.3f outside [0,1]", c.PanSpeed)
	}
	if c.TiltSpeed < 0 || c.TiltSpeed > 1 {
		return fmt.Errorf("session: tilt speed %.3f outside [0,1]", c.TiltSpeed)
	}
	if c.Rate <= 0 {
		return fmt.Errorf("session: loop rate must be positive, got %.2f", c.Rate)
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("session: connect timeout must be positive")
	}
	return nil
}
