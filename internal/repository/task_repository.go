package repository

import "example.com/taskboard/internal/domain"

// TaskRepository owns task identity and timestamps: Create assigns the id and
// both timestamps, Update refreshes updated_at. Absent ids are reported as
// storage.ErrNotFound, never as a zero task.
type TaskRepository interface {
	Create(task domain.Task) (domain.Task, error)
	List() ([]domain.Task, error)
	GetByID(id string) (domain.Task, error)
	Update(task domain.Task) (domain.Task, error)
	Delete(id string) (domain.Task, error)
	Count(completed *bool) (int, error)
}
