// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package config loads the on-disk server/registry configuration: cursor
// sweep timing, the netfanin worker pool size, default request timeouts,
// and hybrid scoring defaults. It follows the teacher's db/cmd config
// loading style -- a plain yaml.v2-tagged struct read straight off disk,
// no schema validation framework.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/RediSearch/RediSearch-sub005/cursor"
	"github.com/RediSearch/RediSearch-sub005/hybrid"
)

// Config is the top-level server configuration document.
type Config struct {
	Cursor CursorConfig `yaml:"cursor"`
	Hybrid HybridConfig `yaml:"hybrid"`
	Query  QueryConfig  `yaml:"query"`
}

// CursorConfig holds the idle-cursor settings. cursor.List sweeps with its
// own SweepInterval and SweepThrottle constants and reads neither sweep
// field below; command.Server reads DefaultTimeoutMS.
type CursorConfig struct {
	// SweepIntervalMS is converted as milliseconds by SweepInterval().
	// Default() seeds it with cursor.SweepInterval, which the cursor
	// package counts in Reserve calls (every 500th Reserve sweeps), not
	// in milliseconds.
	SweepIntervalMS int `yaml:"sweep_interval_ms"`
	// SweepThrottleMS mirrors cursor.SweepThrottle, the minimum gap
	// between two counter-triggered sweeps.
	SweepThrottleMS int `yaml:"sweep_throttle_ms"`
	// DefaultTimeoutMS is the idle timeout assigned to a cursor that
	// doesn't specify its own via MAXIDLE.
	DefaultTimeoutMS int `yaml:"default_timeout_ms"`
}

// HybridConfig controls FT.HYBRID's default scoring behavior when a
// request's SCORER clause doesn't override it.
type HybridConfig struct {
	RRFConstant float64 `yaml:"rrf_constant"`
	Window      int     `yaml:"window"`
}

// QueryConfig holds request-wide default settings. No other package in
// this module reads these fields; they carry the loaded values only.
type QueryConfig struct {
	// WorkerPoolSize is a limit on shard-fetch goroutines; 0 means
	// unbounded. netfanin does not take it: netfanin.New starts one
	// goroutine per shard transport.
	WorkerPoolSize int `yaml:"worker_pool_size"`
	// DefaultTimeoutMS is the default request TIMEOUT, in milliseconds.
	DefaultTimeoutMS int `yaml:"default_timeout_ms"`
	// Dialect is the default DIALECT value.
	Dialect int `yaml:"dialect"`
	// MaxPrefixExpansions is the cap on how many terms a wildcard/prefix
	// query may expand to before MAX_PREFIX_EXPANSIONS fires.
	MaxPrefixExpansions int `yaml:"max_prefix_expansions"`
}

// Default returns the configuration the server runs with absent an
// on-disk override, matching the constants already baked into cursor
// and hybrid as their own zero-config defaults.
func Default() Config {
	return Config{
		Cursor: CursorConfig{
			SweepIntervalMS:  cursor.SweepInterval,
			SweepThrottleMS:  int(cursor.SweepThrottle / time.Millisecond),
			DefaultTimeoutMS: 300_000,
		},
		Hybrid: HybridConfig{
			RRFConstant: hybrid.DefaultRRFConstant,
			Window:      hybrid.DefaultWindow,
		},
		Query: QueryConfig{
			WorkerPoolSize:      0,
			DefaultTimeoutMS:    500,
			Dialect:             2,
			MaxPrefixExpansions: 200,
		},
	}
}

// Load reads and parses a yaml configuration file at path. Fields the
// file omits keep Default()'s value; a field the file sets, even to
// zero, takes the file's value.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// SweepInterval returns c.Cursor.SweepIntervalMS as a time.Duration.
func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.Cursor.SweepIntervalMS) * time.Millisecond
}

// SweepThrottle returns c.Cursor.SweepThrottleMS as a time.Duration.
func (c Config) SweepThrottle() time.Duration {
	return time.Duration(c.Cursor.SweepThrottleMS) * time.Millisecond
}

// DefaultCursorTimeout returns c.Cursor.DefaultTimeoutMS as a
// time.Duration.
func (c Config) DefaultCursorTimeout() time.Duration {
	return time.Duration(c.Cursor.DefaultTimeoutMS) * time.Millisecond
}

// DefaultQueryTimeout returns c.Query.DefaultTimeoutMS as a
// time.Duration.
func (c Config) DefaultQueryTimeout() time.Duration {
	return time.Duration(c.Query.DefaultTimeoutMS) * time.Millisecond
}

// HybridScoring builds the hybrid.ScoringContext these defaults describe.
func (c Config) HybridScoring() hybrid.ScoringContext {
	return hybrid.NewRRFScoringContext(c.Hybrid.RRFConstant, c.Hybrid.Window)
}
