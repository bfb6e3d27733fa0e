package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidID       = errors.New("session id must be a UUID")
)

// Service keeps the live session handles.
type Service struct {
	mu      sync.RWMutex
	handles map[string]*Handle
	cfg     Config
	deps    Dependencies
	logger  *slog.Logger
}

// NewService validates the shared collaborators.
func NewService(cfg Config, deps Dependencies) (*Service, error) {
	if deps.Searcher == nil {
		return nil, fmt.Errorf("session: searcher is required")
	}
	if deps.Composer == nil {
		return nil, fmt.Errorf("session: reply composer is required")
	}
	if deps.VoiceFactory == nil {
		return nil, fmt.Errorf("session: voice client factory is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	return &Service{
		handles: make(map[string]*Handle),
		cfg:     cfg,
		deps:    deps,
		logger:  deps.Logger.With("component", "sessions"),
	}, nil
}

// CreateSession opens a handle and starts the SDK handshake in the
// background. A non-empty resumeID reopens a previous conversation with
// its persisted transcript; a live handle with that id is returned as is.
func (s *Service) CreateSession(ctx context.Context, resumeID string) (*Handle, error) {
	id := resumeID
	if id == "" {
		id = uuid.NewString()
	} else if _, err := uuid.Parse(id); err != nil {
		return nil, ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.handles[id]; ok {
		return existing, nil
	}

	h, err := Open(ctx, id, s.cfg, s.deps)
	if err != nil {
		return nil, err
	}
	s.handles[id] = h
	s.deps.Metrics.SessionOpened()

	go func() {
		if err := h.Initialize(context.Background()); err != nil {
			s.logger.Warn("voice initialization failed", "session_id", id, "error", err)
		}
	}()

	s.logger.Info("session created", "session_id", id, "resumed", resumeID != "")
	return h, nil
}

// Get returns the live handle for id.
func (s *Service) Get(id string) (*Handle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.handles[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return h, nil
}

// Remove clears the session's transcript and drops the handle.
func (s *Service) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	h, ok := s.handles[id]
	delete(s.handles, id)
	s.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}

	h.Close()
	s.deps.Metrics.SessionClosed()
	if err := h.Clear(ctx); err != nil {
		return fmt.Errorf("session: clear %s: %w", id, err)
	}
	return nil
}

// Count returns the number of live handles.
func (s *Service) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handles)
}

// Close closes every handle, keeping their transcripts.
func (s *Service) Close() {
	s.mu.Lock()
	handles := s.handles
	s.handles = make(map[string]*Handle)
	s.mu.Unlock()

	for _, h := range handles {
		h.Close()
		s.deps.Metrics.SessionClosed()
	}
}
