package cache

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/goliatone/go-ledger-cache/pkg/dataerr"
)

// Policy selects the eviction strategy of a Main cache.
type Policy string

const (
	// PolicyLRU evicts the least recently accessed entry once MaxEntries is reached.
	PolicyLRU Policy = "lru"
	// PolicySharded spreads entries over sturdyc shards and evicts a percentage of
	// the fullest shard, entries closest to expiry first.
	PolicySharded Policy = "sharded"
)

// Config sizes a bounded main cache.
type Config struct {
	MaxEntries int           `mapstructure:"max_entries" json:"max_entries"`
	Policy     Policy        `mapstructure:"policy" json:"policy"`
	TTL        time.Duration `mapstructure:"ttl" json:"ttl"` // zero disables expiry

	// sharded policy only
	NumShards          int `mapstructure:"num_shards" json:"num_shards"`
	EvictionPercentage int `mapstructure:"eviction_percentage" json:"eviction_percentage"`
}

// DefaultConfig returns an LRU cache of 10000 entries without expiry.
func DefaultConfig() Config {
	return Config{
		MaxEntries:         10000,
		Policy:             PolicyLRU,
		NumShards:          16,
		EvictionPercentage: 10,
	}
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	sharded := c.Policy == PolicySharded
	err := validation.ValidateStruct(&c,
		validation.Field(&c.MaxEntries, validation.Required, validation.Min(1)),
		validation.Field(&c.Policy, validation.Required, validation.In(PolicyLRU, PolicySharded)),
		validation.Field(&c.TTL, validation.Min(time.Duration(0))),
		validation.Field(&c.NumShards,
			validation.When(sharded, validation.Required, validation.Min(1), validation.Max(c.MaxEntries))),
		validation.Field(&c.EvictionPercentage,
			validation.When(sharded, validation.Required, validation.Min(1), validation.Max(100))),
	)
	if err != nil {
		return dataerr.FromValidation(err, "invalid main cache config")
	}
	return nil
}
