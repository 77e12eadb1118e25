package config

import (
	"encoding/json"

	"github.com/cespare/xxhash/v2"
)

// hashConfig fingerprints the decoded config so reloads that change only
// formatting or comments are ignored. Zero means "unknown".
func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	return xxhash.Sum64(b)
}
