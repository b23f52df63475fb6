// Package config holds the server's tunables: defaults matching the
// constants named in the wire protocol and event loop design, loadable
// from flags and optionally overlaid by a JSON file.
package config

import (
	"os"

	goccy "github.com/goccy/go-json"

	"github.com/zond/nanokv"
)

// Config holds every runtime-tunable knob the server exposes. Defaults
// match k_max_msg, k_max_args, k_idle_timeout_ms, k_rehash_work, and
// k_max_ttl_works.
type Config struct {
	ListenAddr string `json:"listen_addr"`

	MaxMsg         int `json:"max_msg"`
	MaxArgs        int `json:"max_args"`
	IdleTimeoutMS  int `json:"idle_timeout_ms"`
	RehashWork     int `json:"rehash_work"`
	MaxTTLWorks    int `json:"max_ttl_works"`
	WorkerPoolSize int `json:"worker_pool_size"`

	LogFile    string `json:"log_file"`
	LogMaxSize int    `json:"log_max_size_mb"`
}

// Default returns a Config with every field set to the store's built-in
// defaults.
func Default() Config {
	return Config{
		ListenAddr: "0.0.0.0:1234",

		MaxMsg:         4096,
		MaxArgs:        1024,
		IdleTimeoutMS:  5000,
		RehashWork:     128,
		MaxTTLWorks:    2000,
		WorkerPoolSize: 4,

		LogFile:    "",
		LogMaxSize: 100,
	}
}

// OverlayJSONFile reads path as JSON and overwrites any field it sets
// onto c, leaving fields the file omits at their current value.
func (c *Config) OverlayJSONFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return nanokv.WithStack(err)
	}
	if err := goccy.Unmarshal(data, c); err != nil {
		return nanokv.WithStack(err)
	}
	return nil
}
