package engine

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cagekeep/broker/pkg/api"
)

// replayStore keeps a capped, file-backed ring of past executions: each
// record lives as its own JSON file under dir, and an in-memory list ordered
// by storage time decides which record (the oldest stored) to evict once
// maxStored is reached. A fresh
// process reloads every file under dir on startup.
type replayStore struct {
	dir       string
	maxStored int

	mu      sync.RWMutex
	entries map[string]*list.Element // execution ID -> list position
	lru     *list.List               // front = most recently stored
}

type replayEntry struct {
	record *api.ReplayRecord
}

// newReplayStore creates dir if needed and loads any previously persisted
// records from it.
func newReplayStore(dir string, maxStored int) (*replayStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("engine: creating replay dir: %w", err)
	}

	s := &replayStore{
		dir:       dir,
		maxStored: maxStored,
		entries:   make(map[string]*list.Element),
		lru:       list.New(),
	}
	if err := s.loadAll(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *replayStore) loadAll() error {
	files, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return fmt.Errorf("engine: scanning replay dir: %w", err)
	}

	type loaded struct {
		rec *api.ReplayRecord
	}
	var records []loaded
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			slog.Warn("replay: reading stored record", "file", f, "error", err.Error())
			continue
		}
		var rec api.ReplayRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			slog.Warn("replay: parsing stored record", "file", f, "error", err.Error())
			continue
		}
		records = append(records, loaded{&rec})
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].rec.Timestamp.Before(records[j].rec.Timestamp)
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		elem := s.lru.PushFront(&replayEntry{record: r.rec})
		s.entries[r.rec.ExecutionID] = elem
	}
	return nil
}

// store persists one completed execution, evicting the oldest record if
// the store is at capacity.
func (s *replayStore) store(principalID string, req api.ExecutionRequest, result api.ExecutionResult) {
	rec := &api.ReplayRecord{
		ExecutionID: result.ExecutionID,
		PrincipalID: principalID,
		Timestamp:   time.Now(),
		Request:     req,
		Result:      result,
		CodeHash:    hashCode(req.Code),
	}

	s.mu.Lock()
	if s.maxStored > 0 && len(s.entries) >= s.maxStored {
		s.evictOldestLocked()
	}
	elem := s.lru.PushFront(&replayEntry{record: rec})
	s.entries[rec.ExecutionID] = elem
	s.mu.Unlock()

	if err := s.saveToFile(rec); err != nil {
		slog.Warn("replay: persisting record", "execution_id", rec.ExecutionID, "error", err.Error())
	}
}

// evictOldestLocked drops the oldest stored record. Callers must
// hold s.mu.
func (s *replayStore) evictOldestLocked() {
	oldest := s.lru.Back()
	if oldest == nil {
		return
	}
	entry := oldest.Value.(*replayEntry)
	s.lru.Remove(oldest)
	delete(s.entries, entry.record.ExecutionID)
	if err := os.Remove(s.recordPath(entry.record.ExecutionID)); err != nil && !os.IsNotExist(err) {
		slog.Warn("replay: removing evicted record", "execution_id", entry.record.ExecutionID, "error", err.Error())
	}
}

func (s *replayStore) recordPath(executionID string) string {
	return filepath.Join(s.dir, executionID+".json")
}

func (s *replayStore) saveToFile(rec *api.ReplayRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling replay record: %w", err)
	}

	path := s.recordPath(rec.ExecutionID)
	tmp, err := os.CreateTemp(s.dir, ".replay-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// get returns a stored record by execution ID; reading a record does not
// change eviction order.
func (s *replayStore) get(executionID string) (*api.ReplayRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.entries[executionID]
	if !ok {
		return nil, false
	}
	rec := elem.Value.(*replayEntry).record
	cp := *rec
	return &cp, true
}

// listAll returns every stored record, most recent first.
func (s *replayStore) listAll() []*api.ReplayRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*api.ReplayRecord, 0, len(s.entries))
	for e := s.lru.Front(); e != nil; e = e.Next() {
		cp := *e.Value.(*replayEntry).record
		out = append(out, &cp)
	}
	return out
}

// listForPrincipal returns every stored record belonging to principalID,
// most recent first.
func (s *replayStore) listForPrincipal(principalID string) []*api.ReplayRecord {
	all := s.listAll()
	out := make([]*api.ReplayRecord, 0, len(all))
	for _, rec := range all {
		if rec.PrincipalID == principalID {
			out = append(out, rec)
		}
	}
	return out
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
