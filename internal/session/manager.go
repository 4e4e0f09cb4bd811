// Package session maps session identifiers to transcripts and serializes
// turns per session.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kubechat/kubechat/internal/agent"
	"github.com/kubechat/kubechat/internal/llm"
	"github.com/kubechat/kubechat/internal/transcript"
)

// Manager owns session lifecycle and turn execution. Turns on the same
// session are serialized; distinct sessions run fully in parallel.
type Manager struct {
	logger *slog.Logger
	store  *transcript.Store
	loop   *agent.Loop

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates a session manager.
func NewManager(logger *slog.Logger, store *transcript.Store, loop *agent.Loop) *Manager {
	return &Manager{
		logger: logger,
		store:  store,
		loop:   loop,
		locks:  make(map[string]*sync.Mutex),
	}
}

// sessionLock returns the mutex serializing turns for one session.
// Locks are kept for the life of the process; sessions are few and
// deleting a session leaves an idle mutex behind at worst.
func (m *Manager) sessionLock(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[id] = lock
	}
	return lock
}

// Resolve returns the session for id, creating a fresh one when id is
// empty or unknown. Store failures other than an unknown id propagate;
// creating a replacement session would silently fork the conversation.
func (m *Manager) Resolve(id string) (*transcript.Session, error) {
	if id != "" {
		session, err := m.store.GetSession(id)
		if err == nil {
			return session, nil
		}
		if !errors.Is(err, transcript.ErrSessionNotFound) {
			return nil, fmt.Errorf("load session %s: %w", id, err)
		}
	}
	session, err := m.store.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	m.logger.Info("session created", "session", session.ID)
	return session, nil
}

// RunTurn executes one turn against the session's transcript and
// persists every message the turn appended. The session's lock is held
// for the whole turn and released on every exit path.
//
// A fatal turn error still persists the messages completed steps
// produced, so the transcript reflects what actually happened.
func (m *Manager) RunTurn(ctx context.Context, sessionID, userMessage string, callback llm.StreamCallback) (*agent.Result, error) {
	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	stored, err := m.store.Messages(sessionID)
	if err != nil {
		return nil, err
	}
	history := transcript.Conversation(stored)

	result, turnErr := m.loop.RunTurn(ctx, history, userMessage, callback)
	if result != nil && len(result.Appended) > 0 {
		if err := m.store.AppendMessages(sessionID, result.Appended); err != nil {
			m.logger.Error("persist turn", "session", sessionID, "error", err)
			if turnErr == nil {
				return result, fmt.Errorf("persist turn: %w", err)
			}
		}
	}
	return result, turnErr
}

// List returns all sessions, most recently active first.
func (m *Manager) List() ([]transcript.Session, error) {
	return m.store.ListSessions()
}

// History returns a session's stored messages. Reads do not take the
// session lock: a mid-turn snapshot is acceptable for history views.
func (m *Manager) History(sessionID string) ([]transcript.Message, error) {
	return m.store.Messages(sessionID)
}

// Delete removes a session and its transcript. Deleting an unknown
// session reports transcript.ErrSessionNotFound.
func (m *Manager) Delete(sessionID string) error {
	if err := m.store.DeleteSession(sessionID); err != nil {
		return err
	}
	m.logger.Info("session deleted", "session", sessionID)
	return nil
}
