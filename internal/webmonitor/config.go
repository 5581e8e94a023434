package webmonitor

import (
	"time"
)

// Config defines the runtime configuration for the web monitor server.
type Config struct {
	CameraName         string
	STUNServers        []string
	TargetFPS          int
	InferenceThreshold float64
	DisplayThreshold   float64
	MJPEGKeepalive     time.Duration
	SSEKeepalive       time.Duration
	HistorySize        int
}

// DefaultConfig returns the dashboard defaults.
func DefaultConfig() Config {
	return Config{
		CameraName:         "Jalan SK 6/1",
		STUNServers:        []string{"stun:stun.l.google.com:19302"},
		TargetFPS:          10,
		InferenceThreshold: 0.3,
		DisplayThreshold:   0.5,
		MJPEGKeepalive:     5 * time.Second,
		SSEKeepalive:       30 * time.Second,
		HistorySize:        8,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.CameraName == "" {
		c.CameraName = def.CameraName
	}
	if len(c.STUNServers) == 0 {
		c.STUNServers = def.STUNServers
	}
	if c.TargetFPS <= 0 {
		c.TargetFPS = def.TargetFPS
	}
	if c.MJPEGKeepalive <= 0 {
		c.MJPEGKeepalive = def.MJPEGKeepalive
	}
	if c.SSEKeepalive <= 0 {
		c.SSEKeepalive = def.SSEKeepalive
	}
	if c.HistorySize <= 0 {
		c.HistorySize = def.HistorySize
	}
	return c
}
