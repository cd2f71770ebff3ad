package engine

import (
	"sync"
	"testing"

	"github.com/maxpert/viewsync/hlc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLog(t *testing.T, dir string) *CommitLog {
	t.Helper()
	c, err := Open(dir, "commit_log", hlc.NewClock(1))
	require.NoError(t, err)
	return c
}

func TestCommitLog_Empty(t *testing.T) {
	c := openTestLog(t, t.TempDir())
	defer c.Close()

	assert.Zero(t, c.LastCommitted())
}

func TestCommitLog_CommitIsMonotonic(t *testing.T) {
	c := openTestLog(t, t.TempDir())
	defer c.Close()

	var prev uint64
	for i := 0; i < 50; i++ {
		id, err := c.Commit()
		require.NoError(t, err)
		assert.Greater(t, id, prev)
		assert.Equal(t, id, c.LastCommitted())
		prev = id
	}
}

func TestCommitLog_Record(t *testing.T) {
	c := openTestLog(t, t.TempDir())
	defer c.Close()

	first, err := c.Commit()
	require.NoError(t, err)

	// A peer far ahead of us
	ahead := hlc.Timestamp{WallTime: hlc.FromTxnID(first).WallTime + 60_000_000_000, Logical: 3, NodeID: 63}.ToTxnID()

	ok, err := c.Record(ahead)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, ahead, c.LastCommitted())

	// Older ids do not move the high-water mark
	ok, err = c.Record(first)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, ahead, c.LastCommitted())

	// Commits after recording stay above the recorded id
	next, err := c.Commit()
	require.NoError(t, err)
	assert.Greater(t, next, ahead)
}

func TestCommitLog_SurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	c := openTestLog(t, dir)
	id, err := c.Commit()
	require.NoError(t, err)
	require.NoError(t, c.Close())

	reopened := openTestLog(t, dir)
	defer reopened.Close()

	assert.Equal(t, id, reopened.LastCommitted())

	next, err := reopened.Commit()
	require.NoError(t, err)
	assert.Greater(t, next, id)
}

func TestCommitLog_Closed(t *testing.T) {
	c := openTestLog(t, t.TempDir())
	require.NoError(t, c.Close())
	require.NoError(t, c.Close(), "Close is idempotent")

	_, err := c.Commit()
	assert.ErrorIs(t, err, ErrClosed)

	_, err = c.Record(100)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCommitLog_ConcurrentCommits(t *testing.T) {
	c := openTestLog(t, t.TempDir())
	defer c.Close()

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		highest uint64
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				id, err := c.Commit()
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				if id > highest {
					highest = id
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, highest, c.LastCommitted())
}
