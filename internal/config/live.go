package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"
)

// LiveConfig describes the kernel a live producer is instrumenting. A
// pinned ring buffer carries no kernel header, so the launch comes from the
// environment.
type LiveConfig struct {
	Kernel          string `env:"LIVE_KERNEL" envDefault:"live"`
	Threads         uint64 `env:"LIVE_THREADS,required,notEmpty"`
	ThreadsPerBlock uint32 `env:"LIVE_BLOCK,required,notEmpty"`
	// Sites maps fence ids to locations: 1=reduce.cu:10;2=reduce.cu:20
	Sites string `env:"LIVE_SITES"`
}

// ParseLiveConfig parses the live kernel description from environment variables
func ParseLiveConfig() (*LiveConfig, error) {
	var cfg LiveConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse live config: %w", err)
	}
	return &cfg, nil
}

// SiteMap parses Sites.
func (c *LiveConfig) SiteMap() (map[uint32]string, error) {
	sites := make(map[uint32]string)
	for _, part := range strings.Split(c.Sites, ";") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		id, loc, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("invalid site %q, want id=location", part)
		}
		n, err := strconv.ParseUint(strings.TrimSpace(id), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid fence id in %q: %w", part, err)
		}
		sites[uint32(n)] = strings.TrimSpace(loc)
	}
	return sites, nil
}
