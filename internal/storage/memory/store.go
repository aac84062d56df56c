package memory

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"example.com/taskboard/internal/domain"
	"example.com/taskboard/internal/storage"
)

// Store keeps tasks in memory. It backs tests and the dev configuration.
type Store struct {
	// Now is the store clock; tests override it.
	Now func() time.Time

	mu    sync.RWMutex
	tasks map[string]domain.Task
	order []string // ids in creation order, oldest first
}

func New() *Store {
	return &Store{
		Now:   time.Now,
		tasks: make(map[string]domain.Task),
	}
}

func (s *Store) Create(t domain.Task) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Now().UTC()
	t.ID = uuid.NewString()
	t.CreatedAt = now
	t.UpdatedAt = now
	s.tasks[t.ID] = t
	s.order = append(s.order, t.ID)
	return t, nil
}

func (s *Store) List() ([]domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]domain.Task, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		res = append(res, s.tasks[s.order[i]])
	}
	return res, nil
}

func (s *Store) GetByID(id string) (domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, storage.ErrNotFound
	}
	return t, nil
}

func (s *Store) Update(t domain.Task) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.tasks[t.ID]
	if !ok {
		return domain.Task{}, storage.ErrNotFound
	}
	now := s.Now().UTC()
	if !now.After(stored.UpdatedAt) {
		now = stored.UpdatedAt.Add(time.Nanosecond)
	}
	stored.Title = t.Title
	stored.Completed = t.Completed
	stored.UpdatedAt = now
	s.tasks[t.ID] = stored
	return stored, nil
}

func (s *Store) Delete(id string) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, storage.ErrNotFound
	}
	delete(s.tasks, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return t, nil
}

func (s *Store) Count(completed *bool) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if completed == nil {
		return len(s.tasks), nil
	}
	n := 0
	for _, t := range s.tasks {
		if t.Completed == *completed {
			n++
		}
	}
	return n, nil
}
