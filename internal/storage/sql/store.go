package sqlstore

import (
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"example.com/taskboard/internal/domain"
	"example.com/taskboard/internal/storage"
)

// ErrTitleTruncated reports a title the tasks.title column cannot hold.
var ErrTitleTruncated = errors.New("title exceeds column size")

const schema = `
create table if not exists tasks (
	id         uuid primary key,
	title      varchar(255) not null,
	completed  boolean not null default false,
	created_at timestamptz not null default now(),
	updated_at timestamptz not null default now()
);
create index if not exists tasks_created_at_idx on tasks (created_at desc);
create index if not exists tasks_completed_idx on tasks (completed);
`

type Store struct {
	db *sql.DB
}

func New(driver, dsn string) (*Store, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Init verifies the database is reachable and ensures the schema exists.
// Callers treat an error here as fatal.
func (s *Store) Init() error {
	if err := s.db.Ping(); err != nil {
		return err
	}
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Create(t domain.Task) (domain.Task, error) {
	t.ID = uuid.NewString()
	row := s.db.QueryRow(`
		insert into tasks(id, title, completed)
		values ($1, $2, $3)
		returning created_at, updated_at`,
		t.ID,
		t.Title,
		t.Completed,
	)
	if err := row.Scan(&t.CreatedAt, &t.UpdatedAt); err != nil {
		return domain.Task{}, mapPgError(err)
	}
	return t, nil
}

func (s *Store) List() ([]domain.Task, error) {
	rows, err := s.db.Query(`
		select id, title, completed, created_at, updated_at
		from tasks
		order by created_at desc, id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		var t domain.Task
		if err := rows.Scan(&t.ID, &t.Title, &t.Completed, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (s *Store) GetByID(id string) (domain.Task, error) {
	var t domain.Task
	row := s.db.QueryRow(`
		select id, title, completed, created_at, updated_at
		from tasks
		where id = $1`,
		id,
	)
	if err := row.Scan(&t.ID, &t.Title, &t.Completed, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Task{}, storage.ErrNotFound
		}
		return domain.Task{}, err
	}
	return t, nil
}

func (s *Store) Update(t domain.Task) (domain.Task, error) {
	row := s.db.QueryRow(`
		update tasks
		set title = $1,
			completed = $2,
			updated_at = greatest(now(), updated_at + interval '1 microsecond')
		where id = $3
		returning created_at, updated_at`,
		t.Title,
		t.Completed,
		t.ID,
	)
	if err := row.Scan(&t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Task{}, storage.ErrNotFound
		}
		return domain.Task{}, mapPgError(err)
	}
	return t, nil
}

func (s *Store) Delete(id string) (domain.Task, error) {
	var t domain.Task
	row := s.db.QueryRow(`
		delete from tasks
		where id = $1
		returning id, title, completed, created_at, updated_at`,
		id,
	)
	if err := row.Scan(&t.ID, &t.Title, &t.Completed, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Task{}, storage.ErrNotFound
		}
		return domain.Task{}, err
	}
	return t, nil
}

func (s *Store) Count(completed *bool) (int, error) {
	var n int
	var err error
	if completed == nil {
		err = s.db.QueryRow(`select count(*) from tasks`).Scan(&n)
	} else {
		err = s.db.QueryRow(`select count(*) from tasks where completed = $1`, *completed).Scan(&n)
	}
	return n, err
}

// mapPgError turns the undersized-column error into a sentinel the service
// layer can treat as a validation failure. The service validates lengths
// before writing, so this only fires if the two limits drift apart.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "22001" {
		return ErrTitleTruncated
	}
	return err
}
