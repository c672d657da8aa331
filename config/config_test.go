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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/RediSearch/RediSearch-sub005/cursor"
	"github.com/RediSearch/RediSearch-sub005/hybrid"
	"github.com/stretchr/testify/require"
)

func TestDefaultMatchesPackageConstants(t *testing.T) {
	cfg := Default()
	require.EqualValues(t, cursor.SweepInterval, cfg.Cursor.SweepIntervalMS)
	require.Equal(t, cursor.SweepThrottle, cfg.SweepThrottle())
	require.Equal(t, hybrid.DefaultRRFConstant, cfg.Hybrid.RRFConstant)
	require.Equal(t, hybrid.DefaultWindow, cfg.Hybrid.Window)
}

func TestLoadOverridesOnlySpecifiedFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := []byte("query:\n  worker_pool_size: 16\n  dialect: 3\nhybrid:\n  rrf_constant: 30\n")
	require.NoError(t, os.WriteFile(path, contents, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 16, cfg.Query.WorkerPoolSize)
	require.Equal(t, 3, cfg.Query.Dialect)
	require.Equal(t, 30.0, cfg.Hybrid.RRFConstant)
	// untouched fields keep their Default() value
	require.Equal(t, Default().Query.DefaultTimeoutMS, cfg.Query.DefaultTimeoutMS)
	require.Equal(t, Default().Hybrid.Window, cfg.Hybrid.Window)
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	require.Error(t, err)
}

func TestHybridScoringBuildsContextFromConfig(t *testing.T) {
	cfg := Default()
	cfg.Hybrid.RRFConstant = 45
	sc := cfg.HybridScoring()
	require.Equal(t, hybrid.ScoringRRF, sc.Type)
	require.Equal(t, 45.0, sc.RRFConstant)
}
