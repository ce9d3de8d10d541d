package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"video-batch-processor/internal/models"
)

var (
	// ErrNotFound is returned when a job id is unknown to the registry.
	ErrNotFound = errors.New("store: job not found")
	// ErrProcessing is returned when deleting a job that is still running;
	// callers must cancel it first.
	ErrProcessing = errors.New("store: job is processing")
)

// Store is the in-memory job registry. Records live for the process lifetime
// only. All reads return copies and all mutation goes through Update, so no
// caller can observe or produce a half-written record.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*models.Job
	seq  uint64
}

// New creates an empty registry.
func New() *Store {
	return &Store{jobs: make(map[string]*models.Job)}
}

// Create allocates a new pending job and stores it.
func (s *Store) Create(operation string, parameters map[string]any) models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	j := &models.Job{
		ID:         uuid.New().String(),
		Operation:  operation,
		Parameters: parameters,
		Status:     models.StatusPending,
		CreatedAt:  time.Now().UTC(),
		Seq:        s.seq,
	}
	s.jobs[j.ID] = j
	return *j
}

// Get returns a copy of the job record.
func (s *Store) Get(id string) (models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return models.Job{}, ErrNotFound
	}
	return *j, nil
}

// List returns copies of all records, oldest first, optionally filtered by
// status. Equal created_at timestamps are ordered by creation sequence.
func (s *Store) List(filter *models.Status) []models.Job {
	s.mu.RLock()
	out := make([]models.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if filter != nil && j.Status != *filter {
			continue
		}
		out = append(out, *j)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].Seq < out[k].Seq
		}
		return out[i].CreatedAt.Before(out[k].CreatedAt)
	})
	return out
}

// Update applies fn to the record under the write lock and returns the
// mutated copy. This is the single read-modify-write path; concurrent
// updates to the same record cannot be lost.
func (s *Store) Update(id string, fn func(*models.Job)) (models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return models.Job{}, ErrNotFound
	}
	fn(j)
	return *j, nil
}

// Delete removes a record. Processing jobs are refused.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.Status == models.StatusProcessing {
		return ErrProcessing
	}
	delete(s.jobs, id)
	return nil
}

// CountByStatus tallies records per lifecycle state.
func (s *Store) CountByStatus() map[models.Status]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[models.Status]int, 5)
	for _, j := range s.jobs {
		out[j.Status]++
	}
	return out
}

// Len returns the number of records currently held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}
