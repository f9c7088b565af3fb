// Package journal keeps every accepted intent and periodic keyframes of a
// session in leveldb, so a session can be replayed and checked tick for tick.
package journal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/Scrimzay/rtsim/internal/world"
	"github.com/pierrec/lz4/v4"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var (
	ErrNoKeyframe     = errors.New("no keyframe")
	ErrNoLayout       = errors.New("no layout recorded")
	ErrCorrupt        = errors.New("corrupt journal record")
	ErrDigestMismatch = errors.New("digest mismatch")
	ErrReplayRejected = errors.New("journaled intent rejected on replay")
)

const (
	intentPrefix   = "i/"
	keyframePrefix = "k/"
	layoutKey      = "m/layout"
)

// Entry is one journaled intent and the tick it was applied before.
type Entry struct {
	Tick   uint64       `json:"tick"`
	Seq    uint64       `json:"seq"`
	Intent world.Intent `json:"intent"`
}

type Keyframe struct {
	Tick     uint64
	Digest   [32]byte
	Snapshot world.Snapshot
}

type Journal struct {
	db  *leveldb.DB
	log *slog.Logger
	seq uint64
}

func Open(path string, logger *slog.Logger) (*Journal, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	return newJournal(db, logger)
}

// OpenMem is a throwaway journal, for tests and sessions that do not persist.
func OpenMem(logger *slog.Logger) (*Journal, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return newJournal(db, logger)
}

func newJournal(db *leveldb.DB, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	j := &Journal{db: db, log: logger}

	// Pick the sequence up after the last intent so a reopened journal appends
	iter := db.NewIterator(util.BytesPrefix([]byte(intentPrefix)), nil)
	if iter.Last() {
		var e Entry
		if err := json.Unmarshal(iter.Value(), &e); err == nil {
			j.seq = e.Seq + 1
		}
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func intentKey(tick, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d/%020d", intentPrefix, tick, seq))
}

func keyframeKey(tick uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", keyframePrefix, tick))
}

// PutLayout records the starting layout, replay needs it to rebuild tick zero.
func (j *Journal) PutLayout(l world.Layout) error {
	b, err := json.Marshal(l)
	if err != nil {
		return err
	}
	return j.db.Put([]byte(layoutKey), b, nil)
}

func (j *Journal) Layout() (world.Layout, error) {
	var l world.Layout
	b, err := j.db.Get([]byte(layoutKey), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return l, ErrNoLayout
	}
	if err != nil {
		return l, err
	}
	if err := json.Unmarshal(b, &l); err != nil {
		return l, fmt.Errorf("%w: layout: %v", ErrCorrupt, err)
	}
	return l, nil
}

// AppendIntent journals an intent that was accepted while the world stood at tick.
func (j *Journal) AppendIntent(tick uint64, in world.Intent) error {
	e := Entry{Tick: tick, Seq: j.seq, Intent: in}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := j.db.Put(intentKey(tick, e.Seq), b, nil); err != nil {
		return err
	}
	j.seq++
	return nil
}

// Intents returns entries with from <= tick < to in the order they were applied.
func (j *Journal) Intents(from, to uint64) ([]Entry, error) {
	iter := j.db.NewIterator(&util.Range{Start: intentKey(from, 0), Limit: intentKey(to, 0)}, nil)
	defer iter.Release()

	var out []Entry
	for iter.Next() {
		var e Entry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, iter.Key(), err)
		}
		out = append(out, e)
	}
	return out, iter.Error()
}

// PutKeyframe stores digest then the lz4 compressed snapshot under the tick.
func (j *Journal) PutKeyframe(digest [32]byte, snap world.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	buf.Write(digest[:])
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	j.log.Debug("keyframe written", "tick", snap.Tick, "raw", len(raw), "stored", buf.Len())
	return j.db.Put(keyframeKey(snap.Tick), buf.Bytes(), nil)
}

func decodeKeyframe(tick uint64, b []byte) (Keyframe, error) {
	k := Keyframe{Tick: tick}
	if len(b) < len(k.Digest) {
		return k, fmt.Errorf("%w: keyframe %d too short", ErrCorrupt, tick)
	}
	copy(k.Digest[:], b[:len(k.Digest)])
	raw, err := io.ReadAll(lz4.NewReader(bytes.NewReader(b[len(k.Digest):])))
	if err != nil {
		return k, fmt.Errorf("%w: keyframe %d: %v", ErrCorrupt, tick, err)
	}
	if err := json.Unmarshal(raw, &k.Snapshot); err != nil {
		return k, fmt.Errorf("%w: keyframe %d: %v", ErrCorrupt, tick, err)
	}
	return k, nil
}

func keyframeTick(key []byte) uint64 {
	var tick uint64
	fmt.Sscanf(string(key[len(keyframePrefix):]), "%d", &tick)
	return tick
}

func (j *Journal) Keyframe(tick uint64) (Keyframe, error) {
	b, err := j.db.Get(keyframeKey(tick), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return Keyframe{}, fmt.Errorf("tick %d: %w", tick, ErrNoKeyframe)
	}
	if err != nil {
		return Keyframe{}, err
	}
	return decodeKeyframe(tick, b)
}

func (j *Journal) LatestKeyframe() (Keyframe, error) {
	iter := j.db.NewIterator(util.BytesPrefix([]byte(keyframePrefix)), nil)
	defer iter.Release()
	if !iter.Last() {
		if err := iter.Error(); err != nil {
			return Keyframe{}, err
		}
		return Keyframe{}, ErrNoKeyframe
	}
	return decodeKeyframe(keyframeTick(iter.Key()), append([]byte(nil), iter.Value()...))
}

// KeyframeTicks lists every tick that has a keyframe, oldest first.
func (j *Journal) KeyframeTicks() ([]uint64, error) {
	iter := j.db.NewIterator(util.BytesPrefix([]byte(keyframePrefix)), nil)
	defer iter.Release()
	var out []uint64
	for iter.Next() {
		out = append(out, keyframeTick(iter.Key()))
	}
	return out, iter.Error()
}

// Replay drives w forward to until, applying journaled intents at the ticks
// they were accepted on. w must start where the journal does.
func (j *Journal) Replay(w *world.World, until uint64) (int, error) {
	from := w.CurrentTick()
	entries, err := j.Intents(from, until)
	if err != nil {
		return 0, err
	}
	applied := 0
	for w.CurrentTick() < until && !w.IsGameOver() {
		tick := w.CurrentTick()
		for len(entries) > 0 && entries[0].Tick == tick {
			e := entries[0]
			entries = entries[1:]
			if _, err := w.Apply(e.Intent); err != nil {
				return applied, fmt.Errorf("%w: tick %d op %s: %v", ErrReplayRejected, tick, e.Intent.OpID, err)
			}
			applied++
		}
		w.Tick()
	}
	return applied, nil
}

// Verify replays the session from its layout and checks every keyframe digest.
func (j *Journal) Verify(opts world.Options) error {
	l, err := j.Layout()
	if err != nil {
		return err
	}
	w, err := world.New(l, opts)
	if err != nil {
		return err
	}
	ticks, err := j.KeyframeTicks()
	if err != nil {
		return err
	}
	for _, tick := range ticks {
		k, err := j.Keyframe(tick)
		if err != nil {
			return err
		}
		if _, err := j.Replay(w, tick); err != nil {
			return err
		}
		if got := w.Digest(); got != k.Digest {
			return fmt.Errorf("%w at tick %d: replay %s, journal %s", ErrDigestMismatch, tick,
				world.DigestHex(got), world.DigestHex(k.Digest))
		}
	}
	j.log.Info("journal verified", "keyframes", len(ticks))
	return nil
}

// Stats is a cheap summary for logging
type Stats struct {
	Intents   uint64
	Keyframes int
}

func (j *Journal) Stats() (Stats, error) {
	ticks, err := j.KeyframeTicks()
	if err != nil {
		return Stats{}, err
	}
	return Stats{Intents: j.seq, Keyframes: len(ticks)}, nil
}
