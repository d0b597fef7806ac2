// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAndRecentRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	base := time.Unix(1700000000, 0)
	require.NoError(t, s.RecordRun(Entry{Timestamp: base, BeforeHash: "a", AfterHash: "b", Success: true, NetworksLen: 1}))
	require.NoError(t, s.RecordRun(Entry{Timestamp: base.Add(time.Minute), BeforeHash: "b", AfterHash: "c", Success: false, ErrorCode: "BAD_BRIDGE", BondingsLen: 2}))

	runs, err := s.RecentRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	// newest first
	assert.Equal(t, "b", runs[0].BeforeHash)
	assert.False(t, runs[0].Success)
	assert.Equal(t, "BAD_BRIDGE", runs[0].ErrorCode)
	assert.Equal(t, "a", runs[1].BeforeHash)
	assert.True(t, runs[1].Success)
}

func TestRecentRunsRespectsLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.RecordRun(Entry{Timestamp: time.Unix(int64(i), 0)}))
	}

	runs, err := s.RecentRuns(2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestReopenPersistsAcrossConnections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.RecordRun(Entry{Timestamp: time.Unix(42, 0), Success: true}))
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	runs, err := s2.RecentRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].Success)
}
