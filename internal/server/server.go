package server

import (
	"context"
	"log"
	"net/http"
	"time"
)

type Server struct {
	http *http.Server
}

func New(addr string, h http.Handler, logger *log.Logger) *Server {
	return &Server{http: &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          logger,
	}}
}

func (s *Server) Start() error {
	return s.http.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
