package job

import (
	"sync"
)

// Store is the single source of truth for the job collection. Mutation is
// last-writer-wins per job id and fenced by a monotonically increasing
// generation: Clear bumps the generation and any write carrying an older
// token is silently dropped, so an in-flight snapshot or push resolving after
// a clear cannot resurrect cleared jobs.
//
// Upload progress is owned exclusively by the local upload controller. Remote
// replacements never set it, and records with a live local upload survive a
// full-collection replace even when the replacement does not contain them.
type Store struct {
	mu      sync.RWMutex
	gen     uint64
	jobs    map[string]Record
	order   []string
	uploads map[string]int // job id -> percent, set only while a local upload is in flight
	updates chan struct{}
}

// NewStore creates an empty store at generation zero.
func NewStore() *Store {
	return &Store{
		jobs:    make(map[string]Record),
		uploads: make(map[string]int),
		updates: make(chan struct{}, 1),
	}
}

// Generation returns the fence token writers must present with mutations.
// Capture it before starting an asynchronous operation; the token goes stale
// once Clear runs.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// Updates returns a coalescing change signal. At most one notification is
// buffered; readers drain it and re-read the collection.
func (s *Store) Updates() <-chan struct{} {
	return s.updates
}

// ReplaceAll swaps the whole collection for records, in their given order.
// Remote upload_progress values are discarded and locally-owned in-flight
// upload progress is re-applied on top; owned records missing from records
// (the backend does not know temporary ids) are retained. Returns false when
// gen is stale.
func (s *Store) ReplaceAll(gen uint64, records []Record) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return false
	}

	next := make(map[string]Record, len(records)+len(s.uploads))
	order := make([]string, 0, len(records)+len(s.uploads))
	for _, r := range records {
		r.UploadProgress = nil
		if _, ok := next[r.ID]; !ok {
			order = append(order, r.ID)
		}
		next[r.ID] = r
	}

	var stale []string
	for id, pct := range s.uploads {
		if r, ok := next[id]; ok {
			p := pct
			r.UploadProgress = &p
			next[id] = r
			continue
		}
		r, ok := s.jobs[id]
		if !ok {
			stale = append(stale, id)
			continue
		}
		next[id] = r
		order = append(order, id)
	}
	for _, id := range stale {
		delete(s.uploads, id)
	}

	s.jobs = next
	s.order = order
	s.notifyLocked()
	return true
}

// UpsertLocal inserts or overwrites a single record. A non-nil UploadProgress
// marks the record as owned by a live local upload; nil releases ownership.
// Returns false when gen is stale.
func (s *Store) UpsertLocal(gen uint64, rec Record) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return false
	}

	if _, ok := s.jobs[rec.ID]; !ok {
		s.order = append(s.order, rec.ID)
	}
	if rec.UploadProgress != nil {
		s.uploads[rec.ID] = *rec.UploadProgress
	} else {
		delete(s.uploads, rec.ID)
	}
	s.jobs[rec.ID] = rec
	s.notifyLocked()
	return true
}

// SetUploadProgress updates the upload percentage of a record owned by a live
// local upload. Returns false when gen is stale or the record is not owned.
func (s *Store) SetUploadProgress(gen uint64, id string, pct int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return false
	}
	r, ok := s.jobs[id]
	if !ok {
		return false
	}
	if _, owned := s.uploads[id]; !owned {
		return false
	}

	s.uploads[id] = pct
	p := pct
	r.UploadProgress = &p
	s.jobs[id] = r
	s.notifyLocked()
	return true
}

// Replace atomically substitutes the record stored under oldID with rec,
// keyed by rec.ID. This is the temporary-to-canonical swap: a single replace,
// never a merge, after which oldID is unreachable. If rec.ID is already
// present (a push got there first) the temporary slot is dropped and the
// canonical slot overwritten in place. Returns false when gen is stale or
// oldID is absent.
func (s *Store) Replace(gen uint64, oldID string, rec Record) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return false
	}
	if _, ok := s.jobs[oldID]; !ok {
		return false
	}

	delete(s.jobs, oldID)
	delete(s.uploads, oldID)

	if _, exists := s.jobs[rec.ID]; exists {
		s.removeFromOrderLocked(oldID)
	} else {
		for i, id := range s.order {
			if id == oldID {
				s.order[i] = rec.ID
				break
			}
		}
	}
	if rec.UploadProgress != nil {
		s.uploads[rec.ID] = *rec.UploadProgress
	}
	s.jobs[rec.ID] = rec
	s.notifyLocked()
	return true
}

// RemoveLocal deletes a single record, releasing any upload ownership.
// Returns false when gen is stale or the record is absent.
func (s *Store) RemoveLocal(gen uint64, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return false
	}
	if _, ok := s.jobs[id]; !ok {
		return false
	}

	delete(s.jobs, id)
	delete(s.uploads, id)
	s.removeFromOrderLocked(id)
	s.notifyLocked()
	return true
}

// Clear empties the collection and bumps the generation, invalidating every
// previously issued fence token. Returns the new generation.
func (s *Store) Clear() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	s.jobs = make(map[string]Record)
	s.uploads = make(map[string]int)
	s.order = nil
	s.notifyLocked()
	return s.gen
}

// All returns the current collection in insertion order.
func (s *Store) All() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.jobs[id])
	}
	return out
}

// Get returns a single record by id.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.jobs[id]
	return r, ok
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

func (s *Store) removeFromOrderLocked(id string) {
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

func (s *Store) notifyLocked() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}
