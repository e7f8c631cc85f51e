package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	types "github.com/yungbote/docingest-backend/internal/domain/content"
	"github.com/yungbote/docingest-backend/internal/pkg/dbctx"
	"github.com/yungbote/docingest-backend/internal/platform/logger"
)

const snapshotVersion = 1

// Entry is what the manifest knows about one remote file.
type Entry struct {
	ContentHash  string    `json:"content_hash"`
	StorageKey   string    `json:"storage_key"`
	OriginName   string    `json:"origin_name"`
	OriginPath   string    `json:"origin_path,omitempty"`
	ModifiedTime time.Time `json:"modified_time,omitempty"`
	Checksum     string    `json:"checksum,omitempty"`
}

type snapshot struct {
	Version   int              `json:"version"`
	WrittenAt time.Time        `json:"written_at"`
	Entries   map[string]Entry `json:"entries"`
}

// OriginSource is the durable table the manifest is rebuilt from.
type OriginSource interface {
	ListOrigins(dbc dbctx.Context, after string, limit int) ([]*types.OriginFile, error)
}

// Manifest maps origin ids to content hashes in memory and persists the map as one snapshot.
// It is a cache: losing it costs a rebuild, never correctness.
type Manifest struct {
	log  *logger.Logger
	snap Snapshot

	flushMu sync.Mutex

	mu      sync.RWMutex
	entries map[string]Entry
	dirty   bool
	gen     uint64
}

func New(snap Snapshot, log *logger.Logger) *Manifest {
	return &Manifest{
		log:     log.With("component", "Manifest", "snapshot", snap.Name()),
		snap:    snap,
		entries: map[string]Entry{},
	}
}

func (m *Manifest) Lookup(originID string) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[originID]
	return e, ok
}

func (m *Manifest) Record(originID string, e Entry) {
	if originID == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.entries[originID]; ok && cur == e {
		return
	}
	m.entries[originID] = e
	m.dirty = true
	m.gen++
}

func (m *Manifest) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Origins returns the origin ids pointing at contentHash.
func (m *Manifest) Origins(contentHash string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for id, e := range m.entries {
		if e.ContentHash == contentHash {
			out = append(out, id)
		}
	}
	return out
}

// Flush writes the map when it changed since the last flush or load. Records that land while
// the snapshot is being saved keep the manifest dirty for the next flush.
func (m *Manifest) Flush(ctx context.Context) error {
	m.flushMu.Lock()
	defer m.flushMu.Unlock()

	m.mu.RLock()
	if !m.dirty {
		m.mu.RUnlock()
		return nil
	}
	raw, err := json.Marshal(snapshot{Version: snapshotVersion, WrittenAt: time.Now().UTC(), Entries: m.entries})
	n, gen := len(m.entries), m.gen
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := m.snap.Save(ctx, raw); err != nil {
		return fmt.Errorf("save manifest: %w", err)
	}
	m.mu.Lock()
	if m.gen == gen {
		m.dirty = false
	}
	m.mu.Unlock()
	m.log.Debug("Manifest flushed", "entries", n, "bytes", len(raw))
	return nil
}

// Load replaces the in-memory map with the persisted snapshot. A missing, unreadable or
// corrupt snapshot leaves the manifest empty and reports false.
func (m *Manifest) Load(ctx context.Context) bool {
	raw, err := m.snap.Load(ctx)
	if err != nil {
		if errors.Is(err, ErrNoSnapshot) {
			m.log.Info("No manifest snapshot; starting empty")
		} else {
			m.log.Warn("Manifest snapshot unreadable; starting empty", "error", err)
		}
		m.reset()
		return false
	}
	var s snapshot
	if err := json.Unmarshal(raw, &s); err != nil || s.Version != snapshotVersion {
		m.log.Warn("Manifest snapshot corrupt; starting empty", "error", err, "version", s.Version)
		m.reset()
		return false
	}
	if s.Entries == nil {
		s.Entries = map[string]Entry{}
	}
	m.mu.Lock()
	m.entries = s.Entries
	m.dirty = false
	m.gen++
	m.mu.Unlock()
	m.log.Info("Manifest loaded", "entries", len(s.Entries))
	return true
}

// Rebuild reconstructs the map from the origin table and flushes it.
func (m *Manifest) Rebuild(ctx context.Context, src OriginSource) (int, error) {
	const page = 1000
	entries := map[string]Entry{}
	after := ""
	for {
		rows, err := src.ListOrigins(dbctx.Of(ctx), after, page)
		if err != nil {
			return 0, fmt.Errorf("list origins: %w", err)
		}
		for _, o := range rows {
			e := Entry{
				ContentHash: o.ContentHash,
				StorageKey:  o.StorageKey,
				OriginName:  o.OriginName,
				OriginPath:  o.OriginPath,
				Checksum:    o.Checksum,
			}
			if o.ModifiedTime != nil {
				e.ModifiedTime = o.ModifiedTime.UTC()
			}
			entries[o.OriginID] = e
		}
		if len(rows) < page {
			break
		}
		after = rows[len(rows)-1].OriginID
	}
	m.mu.Lock()
	m.entries = entries
	m.dirty = true
	m.gen++
	m.mu.Unlock()
	if err := m.Flush(ctx); err != nil {
		return len(entries), err
	}
	m.log.Info("Manifest rebuilt from origin table", "entries", len(entries))
	return len(entries), nil
}

// LoadOrRebuild loads the snapshot and falls back to the origin table when it is unusable.
func (m *Manifest) LoadOrRebuild(ctx context.Context, src OriginSource) error {
	if m.Load(ctx) || src == nil {
		return nil
	}
	_, err := m.Rebuild(ctx, src)
	return err
}

// Reset empties the map and deletes the snapshot.
func (m *Manifest) Reset(ctx context.Context) error {
	m.reset()
	return m.snap.Delete(ctx)
}

func (m *Manifest) reset() {
	m.mu.Lock()
	m.entries = map[string]Entry{}
	m.dirty = false
	m.gen++
	m.mu.Unlock()
}
