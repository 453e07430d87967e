// Package surprise tracks members observed in traffic before they appear in
// the current view.
package surprise

import (
	"sort"
	"sync"
	"time"

	"github.com/arya-analytics/gms/internal/node"
	"go.uber.org/zap"
)

// Record is a member seen in traffic that is absent from the current view.
type Record struct {
	Member    node.Node
	FirstSeen time.Time
	// Deadline is the instant after which the record is purged instead of
	// promoted.
	Deadline time.Time
}

func (r Record) Age(now time.Time) time.Duration { return now.Sub(r.FirstSeen) }

type Config struct {
	// PromotionDelay is the minimum age a record must reach before the
	// coordinator adds its member to a view.
	PromotionDelay time.Duration
	// Timeout is the maximum age of a record. Older records are purged and
	// their members are never promoted.
	Timeout time.Duration
	Logger  *zap.Logger
}

func (cfg Config) Merge(def Config) Config {
	if cfg.PromotionDelay == 0 {
		cfg.PromotionDelay = def.PromotionDelay
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	return cfg
}

func DefaultConfig() Config {
	return Config{
		PromotionDelay: 5 * time.Second,
		Timeout:        5 * time.Minute,
		Logger:         zap.NewNop(),
	}
}

type Tracker struct {
	Config
	mu      sync.Mutex
	records map[node.Node]Record
}

func New(cfg Config) *Tracker {
	return &Tracker{Config: cfg.Merge(DefaultConfig()), records: make(map[node.Node]Record)}
}

// Observe records m as first seen at now unless a record already exists. It
// returns true if a record was created.
func (t *Tracker) Observe(m node.Node, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.records[m]; ok {
		return false
	}
	t.records[m] = t.newRecord(m, now)
	t.Logger.Debug("observed surprise member", zap.Stringer("member", m))
	return true
}

// Add inserts a record with an arbitrary first seen time, replacing any
// existing record for m.
func (t *Tracker) Add(m node.Node, firstSeen time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[m] = t.newRecord(m, firstSeen)
}

func (t *Tracker) newRecord(m node.Node, firstSeen time.Time) Record {
	return Record{Member: m, FirstSeen: firstSeen, Deadline: firstSeen.Add(t.Timeout)}
}

func (t *Tracker) Contains(m node.Node) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.records[m]
	return ok
}

// Records returns the current records ordered by first seen time.
func (t *Tracker) Records() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	recs := make([]Record, 0, len(t.records))
	for _, r := range t.records {
		recs = append(recs, r)
	}
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].FirstSeen.Equal(recs[j].FirstSeen) {
			return recs[i].FirstSeen.Before(recs[j].FirstSeen)
		}
		return recs[i].Member.OlderThan(recs[j].Member)
	})
	return recs
}

// Remove drops the records of the given members, typically because they were
// promoted into a view.
func (t *Tracker) Remove(members ...node.Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range members {
		delete(t.records, m)
	}
}

// Purge removes every record whose deadline has passed and returns the purged
// members.
func (t *Tracker) Purge(now time.Time) node.Group {
	t.mu.Lock()
	defer t.mu.Unlock()
	var purged node.Group
	for m, r := range t.records {
		if now.After(r.Deadline) {
			delete(t.records, m)
			purged = append(purged, m)
		}
	}
	for _, m := range purged {
		t.Logger.Debug("purged surprise member", zap.Stringer("member", m))
	}
	return purged.Sorted()
}

// Promotable returns the members whose records are old enough to be promoted
// and have not passed their deadline.
func (t *Tracker) Promotable(now time.Time) node.Group {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out node.Group
	for m, r := range t.records {
		if r.Age(now) >= t.PromotionDelay && !now.After(r.Deadline) {
			out = append(out, m)
		}
	}
	return out.Sorted()
}
