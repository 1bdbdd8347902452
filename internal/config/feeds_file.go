package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Aste21/Lodz-Hack/internal/models"
)

// FeedOverride holds per-feed settings from the feeds file. Zero values keep the flag or env value.
type FeedOverride struct {
	URL      string        `yaml:"url"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
	Dir      string        `yaml:"dir"`
}

// FeedsFile is the optional YAML document named by FEEDS_FILE:
//
//	feeds:
//	  alerts:
//	    url: https://example.org/alerts.bin
//	    interval: 15s
//	  vehicle_positions:
//	    dir: /var/lib/monitor/vehicles
type FeedsFile struct {
	Feeds map[string]FeedOverride `yaml:"feeds"`
}

// LoadFeedsFile reads and parses a feeds file
func LoadFeedsFile(path string) (*FeedsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read feeds file: %w", err)
	}

	var ff FeedsFile
	if err := yaml.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("failed to parse feeds file %s: %w", path, err)
	}

	for name := range ff.Feeds {
		if _, err := models.ParseFeedKind(name); err != nil {
			return nil, fmt.Errorf("feeds file %s: %w", path, err)
		}
	}

	return &ff, nil
}

// Apply overrides cfg with every non-zero value of the file
func (ff *FeedsFile) Apply(cfg *Cfg) {
	for i := range cfg.Feeds {
		o, ok := ff.Feeds[cfg.Feeds[i].Kind.String()]
		if !ok {
			continue
		}
		f := &cfg.Feeds[i]
		if o.URL != "" {
			f.URL = o.URL
		}
		if o.Interval > 0 {
			f.Interval = o.Interval
		}
		if o.Timeout > 0 {
			f.Timeout = o.Timeout
		}
		if o.Dir != "" {
			f.Dir = o.Dir
		}
	}
}
