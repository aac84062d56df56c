package usecase

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"example.com/taskboard/internal/domain"
	"example.com/taskboard/internal/repository"
)

var (
	ErrEmptyTitle   = errors.New("task title is empty")
	ErrTitleTooLong = fmt.Errorf("task title exceeds %d characters", domain.TitleMaxLen)
)

// TaskUpdate carries the fields a partial update may change. Nil means
// "leave as is".
type TaskUpdate struct {
	Title     *string
	Completed *bool
}

// TaskService is the only caller of the task store. Both the HTTP gateway
// and the realtime channel go through it.
type TaskService struct {
	repo repository.TaskRepository
}

func NewTaskService(repo repository.TaskRepository) *TaskService {
	return &TaskService{repo: repo}
}

func (s *TaskService) ListAll() ([]domain.Task, error) {
	return s.repo.List()
}

func (s *TaskService) GetByID(id string) (domain.Task, error) {
	return s.repo.GetByID(id)
}

func (s *TaskService) Create(title string) (domain.Task, error) {
	trimmed, err := validTitle(title)
	if err != nil {
		return domain.Task{}, err
	}
	return s.repo.Create(domain.Task{Title: trimmed})
}

func (s *TaskService) Update(id string, upd TaskUpdate) (domain.Task, error) {
	task, err := s.repo.GetByID(id)
	if err != nil {
		return domain.Task{}, err
	}
	if upd.Title != nil {
		trimmed, err := validTitle(*upd.Title)
		if err != nil {
			return domain.Task{}, err
		}
		task.Title = trimmed
	}
	if upd.Completed != nil {
		task.Completed = *upd.Completed
	}
	return s.repo.Update(task)
}

func (s *TaskService) Delete(id string) (domain.Task, error) {
	return s.repo.Delete(id)
}

func (s *TaskService) Toggle(id string) (domain.Task, error) {
	task, err := s.repo.GetByID(id)
	if err != nil {
		return domain.Task{}, err
	}
	task.Completed = !task.Completed
	return s.repo.Update(task)
}

func (s *TaskService) Stats() (domain.Stats, error) {
	total, err := s.repo.Count(nil)
	if err != nil {
		return domain.Stats{}, err
	}
	done := true
	completed, err := s.repo.Count(&done)
	if err != nil {
		return domain.Stats{}, err
	}
	return domain.Stats{
		Total:     total,
		Completed: completed,
		Active:    total - completed,
	}, nil
}

// IsValidationError reports whether err is a client-caused input error, as
// opposed to a not-found or a store failure.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrEmptyTitle) || errors.Is(err, ErrTitleTooLong)
}

func validTitle(title string) (string, error) {
	trimmed := strings.TrimSpace(title)
	if trimmed == "" {
		return "", ErrEmptyTitle
	}
	if utf8.RuneCountInString(trimmed) > domain.TitleMaxLen {
		return "", ErrTitleTooLong
	}
	return trimmed, nil
}
