// Package ledger durably records every view installed by the local member so
// the membership history remains available after a disconnect.
package ledger

import (
	"encoding/binary"
	"encoding/json"
	"sync"

	"github.com/arya-analytics/gms/internal/view"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("ledger closed")

var (
	prefix = []byte("gms.view/")
	// end is the first key past every view key.
	end = append(append([]byte{}, prefix[:len(prefix)-1]...), prefix[len(prefix)-1]+1)
)

type Config struct {
	// Dirname is the directory the ledger is stored in.
	Dirname string
	// FS is the filesystem the ledger is stored on. Use vfs.NewMem() for an
	// in-memory ledger.
	FS     vfs.FS
	Logger *zap.Logger
}

func (cfg Config) Merge(def Config) Config {
	if cfg.Dirname == "" {
		cfg.Dirname = def.Dirname
	}
	if cfg.FS == nil {
		cfg.FS = def.FS
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	return cfg
}

func DefaultConfig() Config {
	return Config{Dirname: "gms-data", FS: vfs.Default, Logger: zap.NewNop()}
}

type Ledger struct {
	Config
	mu     sync.RWMutex
	db     *pebble.DB
	closed bool
}

// Open opens the ledger in cfg.Dirname. The ledger belongs to a single member
// lifetime, so views recorded by an earlier member in the same directory are
// discarded.
func Open(cfg Config) (*Ledger, error) {
	cfg = cfg.Merge(DefaultConfig())
	db, err := pebble.Open(cfg.Dirname, &pebble.Options{FS: cfg.FS})
	if err != nil {
		return nil, errors.Wrapf(err, "open view ledger at %s", cfg.Dirname)
	}
	if err := db.DeleteRange(prefix, end, pebble.Sync); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "clear view ledger at %s", cfg.Dirname)
	}
	return &Ledger{Config: cfg, db: db}, nil
}

func key(id uint64) []byte {
	k := make([]byte, len(prefix)+8)
	copy(k, prefix)
	binary.BigEndian.PutUint64(k[len(prefix):], id)
	return k
}

// Append records v. Views are keyed by ID, so re-appending a view overwrites
// it.
func (l *Ledger) Append(v view.View) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "encode view")
	}
	if err := l.db.Set(key(v.ID), b, pebble.Sync); err != nil {
		return errors.Wrapf(err, "append view %d", v.ID)
	}
	l.Logger.Debug("recorded view", zap.Uint64("view", v.ID))
	return nil
}

// Views returns every recorded view in ascending ID order.
func (l *Ledger) Views() ([]view.View, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil, ErrClosed
	}
	iter := l.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: end,
	})
	var views []view.View
	for iter.First(); iter.Valid(); iter.Next() {
		var v view.View
		if err := json.Unmarshal(iter.Value(), &v); err != nil {
			_ = iter.Close()
			return nil, errors.Wrapf(err, "decode view at %x", iter.Key())
		}
		views = append(views, v)
	}
	return views, iter.Close()
}

// Last returns the most recently recorded view.
func (l *Ledger) Last() (view.View, bool, error) {
	views, err := l.Views()
	if err != nil || len(views) == 0 {
		return view.View{}, false, err
	}
	return views[len(views)-1], true, nil
}

func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.db.Close()
}
