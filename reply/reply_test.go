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

package reply

import (
	"testing"

	"github.com/RediSearch/RediSearch-sub005/ferr"
	"github.com/stretchr/testify/require"
)

func TestOOMUnderFailReturnsHardError(t *testing.T) {
	res, err := OOM(PolicyFail, false)
	require.Equal(t, Result{}, res)
	require.NotNil(t, err)
	require.Equal(t, ferr.OutOfMemory, err.Kind)
	require.Contains(t, err.Error(), ferr.OOMMessage)
}

func TestOOMUnderReturnYieldsWellFormedEmptyResult(t *testing.T) {
	res, err := OOM(PolicyReturn, false)
	require.Nil(t, err)
	require.Zero(t, res.TotalResults)
	require.Equal(t, []string{ferr.OOMMessage}, res.Warnings)
}

func TestOOMUnderReturnClusterUsesClusterWarning(t *testing.T) {
	res, err := OOM(PolicyReturn, true)
	require.Nil(t, err)
	require.Equal(t, []string{string(ferr.WarnOOMCluster)}, res.Warnings)
}

func TestTimeoutUnderFailReturnsHardError(t *testing.T) {
	res, err := Timeout(PolicyFail, 0, false)
	require.Equal(t, Result{}, res)
	require.NotNil(t, err)
	require.Equal(t, ferr.TimedOut, err.Kind)
}

func TestTimeoutUnderFailWithProfileStillReturnsPartialRows(t *testing.T) {
	res, err := Timeout(PolicyFail, 3, true)
	require.Nil(t, err)
	require.EqualValues(t, 3, res.TotalResults)
	require.Contains(t, res.Warnings, string(ferr.WarnTimedOut))
}

func TestTimeoutUnderReturnKeepsPartialRowsAndWarns(t *testing.T) {
	res, err := Timeout(PolicyReturn, 5, false)
	require.Nil(t, err)
	require.EqualValues(t, 5, res.TotalResults)
	require.Equal(t, []string{string(ferr.WarnTimedOut)}, res.Warnings)
}

func TestIndexingFailureIsWellFormedEmptyWithWarning(t *testing.T) {
	res := IndexingFailure()
	require.Zero(t, res.TotalResults)
	require.Equal(t, []string{string(ferr.WarnIndexingFailure)}, res.Warnings)
}

func TestMaxPrefixExpansionsIsWellFormedEmptyWithWarning(t *testing.T) {
	res := MaxPrefixExpansions()
	require.Zero(t, res.TotalResults)
	require.Equal(t, []string{string(ferr.WarnMaxPrefixExpansions)}, res.Warnings)
}

func TestCursorNotFoundIsAnError(t *testing.T) {
	err := CursorNotFound()
	require.NotNil(t, err)
	require.Contains(t, err.Error(), "Cursor not found")
}

func TestDroppedBackgroundIsAnError(t *testing.T) {
	err := DroppedBackground()
	require.NotNil(t, err)
	require.Equal(t, ferr.DroppedBackground, err.Kind)
}
