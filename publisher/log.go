package publisher

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/maxpert/viewsync/encoding"
	"github.com/rs/zerolog/log"
)

// Key layout
const (
	prefixEvent  = "/journal/event/"  // /journal/event/{seq:016x} -> msgpack(DecisionEvent)
	prefixCursor = "/journal/cursor/" // /journal/cursor/{sinkName} -> uint64
	keySeq       = "/journal/seq"     // last assigned sequence
)

const (
	defaultReadLimit    = 100
	cleanupIntervalMask = 0x7F // cleanup when a cursor lands on a multiple of 128
)

// ErrLogClosed is returned by operations on a closed PublishLog
var ErrLogClosed = errors.New("publish log is closed")

// PublishLog is a Pebble-backed append-only journal of decision events with
// one consumption cursor per sink
type PublishLog struct {
	db   *pebble.DB
	path string

	cursors   map[string]uint64
	cursorsMu sync.RWMutex

	appendMu sync.Mutex // sequence assignment
	lastSeq  atomic.Uint64

	cleanupMu      sync.Mutex
	cleanupRunning atomic.Bool
	cleanupWg      sync.WaitGroup

	closed atomic.Bool
}

// NewPublishLog creates or opens a publish log at path
func NewPublishLog(path string) (*PublishLog, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open publish log at %s: %w", path, err)
	}

	pl := &PublishLog{
		db:      db,
		path:    path,
		cursors: make(map[string]uint64),
	}

	if err := pl.load(); err != nil {
		db.Close()
		return nil, err
	}

	return pl, nil
}

// load restores the sequence counter and every cursor
func (pl *PublishLog) load() error {
	seq, err := pl.getUint64([]byte(keySeq))
	if err != nil {
		return fmt.Errorf("failed to load sequence number: %w", err)
	}
	pl.lastSeq.Store(seq)

	prefix := []byte(prefixCursor)
	iter, err := pl.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		name := string(iter.Key()[len(prefix):])
		val, err := iter.ValueAndErr()
		if err != nil {
			return err
		}
		if len(val) != 8 {
			return fmt.Errorf("corrupted cursor for sink %s: invalid length %d", name, len(val))
		}
		pl.cursors[name] = binary.LittleEndian.Uint64(val)
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("failed to load cursors: %w", err)
	}

	if len(pl.cursors) > 0 {
		log.Info().Int("cursors", len(pl.cursors)).Uint64("seq", seq).Msg("Loaded journal cursors")
	}
	return nil
}

func (pl *PublishLog) getUint64(key []byte) (uint64, error) {
	val, closer, err := pl.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer closer.Close()

	if len(val) != 8 {
		return 0, fmt.Errorf("invalid value length %d for %s", len(val), key)
	}
	return binary.LittleEndian.Uint64(val), nil
}

// Append assigns sequence numbers to events and stores them atomically.
// The SeqNum of every element of events is set on success.
func (pl *PublishLog) Append(events []DecisionEvent) error {
	if len(events) == 0 {
		return nil
	}
	if pl.closed.Load() {
		return ErrLogClosed
	}

	pl.appendMu.Lock()
	defer pl.appendMu.Unlock()

	seq := pl.lastSeq.Load()

	batch := pl.db.NewBatch()
	defer batch.Close()

	for i := range events {
		seq++
		events[i].SeqNum = seq

		val, err := encoding.Marshal(&events[i])
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		if err := batch.Set(eventKey(seq), val, nil); err != nil {
			return fmt.Errorf("failed to write event: %w", err)
		}
	}

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], seq)
	if err := batch.Set([]byte(keySeq), seqBuf[:], nil); err != nil {
		return fmt.Errorf("failed to update sequence: %w", err)
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}

	pl.lastSeq.Store(seq)
	return nil
}

// LastSeq returns the sequence number of the newest event
func (pl *PublishLog) LastSeq() uint64 {
	return pl.lastSeq.Load()
}

// ReadFrom returns up to limit events with SeqNum > cursor, in order
func (pl *PublishLog) ReadFrom(cursor uint64, limit int) ([]DecisionEvent, error) {
	if pl.closed.Load() {
		return nil, ErrLogClosed
	}
	if limit <= 0 {
		limit = defaultReadLimit
	}

	start := eventKey(cursor + 1)
	iter, err := pl.db.NewIter(&pebble.IterOptions{
		LowerBound: start,
		UpperBound: prefixUpperBound([]byte(prefixEvent)),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	events := make([]DecisionEvent, 0, limit)
	for iter.First(); iter.Valid() && len(events) < limit; iter.Next() {
		val, err := iter.ValueAndErr()
		if err != nil {
			return nil, err
		}

		var event DecisionEvent
		if err := encoding.Unmarshal(val, &event); err != nil {
			log.Warn().Err(err).Str("key", string(iter.Key())).Msg("Skipping unreadable journal event")
			continue
		}
		events = append(events, event)
	}

	if err := iter.Error(); err != nil {
		return nil, err
	}
	return events, nil
}

// GetCursor returns the last sequence number the sink has consumed
func (pl *PublishLog) GetCursor(sinkName string) (uint64, error) {
	if pl.closed.Load() {
		return 0, ErrLogClosed
	}

	pl.cursorsMu.RLock()
	defer pl.cursorsMu.RUnlock()
	return pl.cursors[sinkName], nil
}

// AdvanceCursor records that sinkName has consumed everything up to seq
func (pl *PublishLog) AdvanceCursor(sinkName string, seq uint64) error {
	if pl.closed.Load() {
		return ErrLogClosed
	}

	var val [8]byte
	binary.LittleEndian.PutUint64(val[:], seq)
	if err := pl.db.Set([]byte(prefixCursor+sinkName), val[:], pebble.Sync); err != nil {
		return fmt.Errorf("failed to update cursor: %w", err)
	}

	pl.cursorsMu.Lock()
	pl.cursors[sinkName] = seq
	pl.cursorsMu.Unlock()

	if seq&cleanupIntervalMask == 0 && pl.cleanupRunning.CompareAndSwap(false, true) {
		pl.cleanupWg.Add(1)
		go func() {
			defer pl.cleanupWg.Done()
			defer pl.cleanupRunning.Store(false)
			pl.cleanup()
		}()
	}

	return nil
}

// cleanup deletes events every sink has consumed
func (pl *PublishLog) cleanup() {
	pl.cleanupMu.Lock()
	defer pl.cleanupMu.Unlock()

	if pl.closed.Load() {
		return
	}

	pl.cursorsMu.RLock()
	if len(pl.cursors) == 0 {
		pl.cursorsMu.RUnlock()
		return
	}
	minCursor := ^uint64(0)
	for _, c := range pl.cursors {
		if c < minCursor {
			minCursor = c
		}
	}
	pl.cursorsMu.RUnlock()

	if minCursor == 0 {
		return
	}

	// Events up to and including minCursor are consumed everywhere
	if err := pl.db.DeleteRange([]byte(prefixEvent), eventKey(minCursor+1), pebble.Sync); err != nil {
		log.Warn().Err(err).Uint64("min_cursor", minCursor).Msg("Failed to clean up journal")
		return
	}

	log.Debug().Uint64("min_cursor", minCursor).Msg("Cleaned up journal entries")
}

// Close waits for in-flight cleanup and closes the store
func (pl *PublishLog) Close() error {
	if !pl.closed.CompareAndSwap(false, true) {
		return ErrLogClosed
	}

	pl.cleanupWg.Wait()

	pl.cleanupMu.Lock()
	defer pl.cleanupMu.Unlock()
	return pl.db.Close()
}

func eventKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%016x", prefixEvent, seq))
}

// prefixUpperBound returns the smallest key greater than every key with prefix
func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
