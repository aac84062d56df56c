package app

import (
	"log"
	"net/http"

	"example.com/taskboard/internal/config"
	httphandlers "example.com/taskboard/internal/handler/http"
	"example.com/taskboard/internal/httpmw"
	"example.com/taskboard/internal/realtime"
	"example.com/taskboard/internal/repository"
	"example.com/taskboard/internal/storage/memory"
	sqlstore "example.com/taskboard/internal/storage/sql"
	"example.com/taskboard/internal/usecase"
)

type App struct {
	Config config.Config
	Router http.Handler
	Hub    *realtime.Hub
	Store  repository.TaskRepository

	closer func() error
}

// New wires the store, the task service, the realtime hub and the HTTP
// gateway. A sql storage config that cannot reach its database fails here;
// callers treat that as fatal.
func New(cfg config.Config, logger *log.Logger) (*App, error) {
	if logger == nil {
		logger = log.Default()
	}
	var store repository.TaskRepository
	var closer func() error
	switch cfg.Storage {
	case "sql":
		s, err := sqlstore.New(cfg.DBDriver, cfg.DBDSN)
		if err != nil {
			return nil, err
		}
		if err := s.Init(); err != nil {
			return nil, err
		}
		store = s
		closer = s.Close
	default:
		store = memory.New()
	}

	svc := usecase.NewTaskService(store)
	hub := realtime.NewHub(svc, cfg.ClientOrigin, logger)
	h := httphandlers.New(svc, hub, hub)
	router := httpmw.Chain(h,
		httpmw.WithRequestID,
		httpmw.WithRecover(logger),
		httpmw.WithAccessLog(logger),
		httpmw.WithCORS(cfg.ClientOrigin),
	)

	return &App{
		Config: cfg,
		Router: router,
		Hub:    hub,
		Store:  store,
		closer: closer,
	}, nil
}

func (a *App) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer()
}
