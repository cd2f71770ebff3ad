// Package engine keeps the local node's transaction high-water mark. It is
// the host-side source of the transaction id reported in reconciliation.
package engine

import (
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/maxpert/viewsync/hlc"
	"github.com/rs/zerolog/log"
)

const keyLastCommitted = "/txn/last"

// ErrClosed is returned by writes after Close
var ErrClosed = errors.New("commit log closed")

// CommitLog is a Pebble-backed record of the highest committed transaction id
type CommitLog struct {
	db    *pebble.DB
	path  string
	clock *hlc.Clock

	mu     sync.Mutex // serializes writes so the stored id never decreases
	last   atomic.Uint64
	closed atomic.Bool
}

// Open opens or creates a commit log under dataDir. Relative paths are
// resolved against dataDir.
func Open(dataDir, path string, clock *hlc.Clock) (*CommitLog, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(dataDir, path)
	}

	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open commit log at %s: %w", path, err)
	}

	c := &CommitLog{db: db, path: path, clock: clock}
	if err := c.load(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load commit log: %w", err)
	}

	// Ids minted after a restart must stay above what was already stored
	if last := c.last.Load(); last > 0 {
		clock.Observe(last)
	}

	log.Info().
		Str("path", path).
		Uint64("txn_id", c.last.Load()).
		Msg("Commit log opened")

	return c, nil
}

func (c *CommitLog) load() error {
	val, closer, err := c.db.Get([]byte(keyLastCommitted))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	defer closer.Close()

	if len(val) != 8 {
		return fmt.Errorf("invalid last committed value length: %d", len(val))
	}
	c.last.Store(binary.BigEndian.Uint64(val))
	return nil
}

// LastCommitted returns the highest committed transaction id, 0 if none
func (c *CommitLog) LastCommitted() uint64 {
	return c.last.Load()
}

// Commit mints a new transaction id and records it as committed
func (c *CommitLog) Commit() (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return 0, ErrClosed
	}

	id := c.clock.NextTxnID()
	if err := c.persist(id); err != nil {
		return 0, err
	}

	log.Debug().Uint64("txn_id", id).Msg("Committed transaction")
	return id, nil
}

// Record stores an externally supplied transaction id, typically applied
// while synchronizing from a peer. Returns false when txnID does not
// advance the high-water mark.
func (c *CommitLog) Record(txnID uint64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return false, ErrClosed
	}
	if txnID <= c.last.Load() {
		return false, nil
	}

	c.clock.Observe(txnID)
	if err := c.persist(txnID); err != nil {
		return false, err
	}
	return true, nil
}

// persist writes id durably. Caller must hold c.mu.
func (c *CommitLog) persist(id uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)

	if err := c.db.Set([]byte(keyLastCommitted), buf[:], pebble.Sync); err != nil {
		return fmt.Errorf("failed to persist txn %d: %w", id, err)
	}
	c.last.Store(id)
	return nil
}

// Path returns the on-disk location of the log
func (c *CommitLog) Path() string {
	return c.path
}

// Close flushes and closes the underlying store
func (c *CommitLog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.db.Close()
}
