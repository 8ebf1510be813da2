package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// File is a supplementary options file for settings resolv.conf has no
// syntax for (inflight cap, retry/reissue limits, the server listener).
// It is optional: a resolver built from resolv.conf alone never needs
// one.
type File struct {
	Nameservers []string       `yaml:"nameservers,omitempty"`
	Search      SearchSection  `yaml:"search,omitempty"`
	Limits      LimitsSection  `yaml:"limits,omitempty"`
	Server      *ServerSection `yaml:"server,omitempty"`
}

// SearchSection configures the suffix engine.
type SearchSection struct {
	Ndots   int      `yaml:"ndots,omitempty"`
	Domains []string `yaml:"domains,omitempty"`
}

// LimitsSection overrides the request table's policy defaults.
type LimitsSection struct {
	InflightCap            int `yaml:"inflight_cap,omitempty"`
	TimeoutSeconds         int `yaml:"timeout_seconds,omitempty"`
	MaxRetransmits         int `yaml:"max_retransmits,omitempty"`
	MaxReissues            int `yaml:"max_reissues,omitempty"`
	MaxConsecutiveTimeouts int `yaml:"max_consecutive_timeouts,omitempty"`
}

// ServerSection configures the optional responder listener.
type ServerSection struct {
	Listen           string  `yaml:"listen"`
	QueriesPerSecond float64 `yaml:"queries_per_second,omitempty"`
	Burst            int     `yaml:"burst,omitempty"`
}

// LoadFile reads and parses a YAML options file at path.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}
