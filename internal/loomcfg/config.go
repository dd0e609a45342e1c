// Package loomcfg loads the snapshot engine's runtime configuration, in the
// same viper/mapstructure style the teacher repository uses for its own
// storage configuration (internal/config.go upstream).
package loomcfg

import (
	"fmt"

	"github.com/spf13/viper"
)

// LoomConfig is the on-disk (YAML) configuration shape.
type LoomConfig struct {
	Loom struct {
		// WordCount is the total loom size W, in 32-bit words.
		WordCount uint32 `mapstructure:"word_count"`
		// PageWords is the page size S, in 32-bit words. Must be a power
		// of two and a multiple of os.Getpagesize()/4.
		PageWords uint32 `mapstructure:"page_words"`
	} `mapstructure:"loom"`

	Snapshot struct {
		// Root is the runtime directory; images live under
		// <Root>/.urb/chk and backups under <Root>/.urb/bhk.
		Root string `mapstructure:"root"`
		// DryRun makes save() a no-op (spec.md §9 recommends surfacing
		// this as an explicit mode rather than a silent short-circuit).
		DryRun bool `mapstructure:"dry_run"`
		// Validate turns on the mug-based cross-check of every live page
		// against memory after each save (spec.md §9, "Snapshot
		// validation toggle" — a runtime option here, not a build tag).
		Validate bool `mapstructure:"validate"`
	} `mapstructure:"snapshot"`
}

// Load reads and validates a LoomConfig from a YAML file at path.
func Load(path string) (*LoomConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("loom.word_count", 1<<27) // 128 Mi words = 512 MiB
	v.SetDefault("loom.page_words", 1<<12) // 4096 words = 16 KiB
	v.SetDefault("snapshot.root", ".")
	v.SetDefault("snapshot.dry_run", false)
	v.SetDefault("snapshot.validate", false)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("loomcfg: read config: %w", err)
	}

	var cfg LoomConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("loomcfg: unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the structural invariants spec.md §7 ("configuration /
// startup" errors) requires before the loom can be mapped.
func (c *LoomConfig) Validate() error {
	pw := c.Loom.PageWords
	if pw == 0 || pw&(pw-1) != 0 {
		return fmt.Errorf("loomcfg: page_words %d must be a power of two", pw)
	}
	if c.Loom.WordCount == 0 {
		return fmt.Errorf("loomcfg: word_count must be nonzero")
	}
	if c.Loom.WordCount%pw != 0 {
		return fmt.Errorf("loomcfg: word_count %d must be a multiple of page_words %d", c.Loom.WordCount, pw)
	}
	if c.Snapshot.Root == "" {
		return fmt.Errorf("loomcfg: snapshot.root must not be empty")
	}
	return nil
}

// PageBytes returns the page size in bytes.
func (c *LoomConfig) PageBytes() uint32 { return c.Loom.PageWords * 4 }

// PageCount returns P, the total number of loom pages.
func (c *LoomConfig) PageCount() uint32 { return c.Loom.WordCount / c.Loom.PageWords }
