package app

import (
	"context"

	"golang.org/x/sync/errgroup"

	"fleet-monitor/telematics/internal/log"
)

// Runnable is a long-lived component started by the Manager.
type Runnable interface {
	Start(ctx context.Context) error
}

// RunnableFunc adapts a worker loop that only stops with its context.
type RunnableFunc func(ctx context.Context)

func (f RunnableFunc) Start(ctx context.Context) error {
	f(ctx)
	return nil
}

// Manager runs the HTTP server and the background workers together. The first
// failure cancels the rest.
type Manager struct {
	runnables []Runnable
	logger    log.Logger
}

func NewManager(logger log.Logger) *Manager {
	return &Manager{logger: logger.WithName("manager")}
}

func (m *Manager) Add(r ...Runnable) {
	m.runnables = append(m.runnables, r...)
}

func (m *Manager) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, r := range m.runnables {
		r := r
		g.Go(func() error {
			return r.Start(ctx)
		})
	}

	m.logger.Info("all components starting", "count", len(m.runnables))
	return g.Wait()
}
