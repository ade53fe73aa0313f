package sessions

import (
	"log/slog"
	"sync"
)

// Registry is the process-wide session-id → Session mapping. It lives for
// the whole process lifetime and holds the only shared mutable state in the
// session gate. All methods are safe for concurrent use.
type Registry struct {
	log *slog.Logger

	mu   sync.RWMutex
	byID map[string]*Session
}

// NewRegistry builds an empty registry. A nil logger discards log output.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Registry{log: log, byID: make(map[string]*Session)}
}

// Lookup returns the live session for id, if any. Read-only; never blocks
// beyond the registry lock.
func (r *Registry) Lookup(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.byID[id]
	return sess, ok
}

// Insert registers a pending session and activates it in one atomic step.
// It fails with ErrSessionExists if the identifier is already registered and
// leaves no partial state behind on any failure.
func (r *Registry) Insert(sess *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[sess.ID()]; ok {
		return ErrSessionExists
	}
	if err := sess.activate(); err != nil {
		return err
	}
	r.byID[sess.ID()] = sess
	r.log.Info("session.register", slog.String("session_id", sess.ID()))
	return nil
}

// RemoveSession closes sess and deletes its registry entry, but only when
// sess is the session actually registered under its id. A different live
// session holding the same identifier is left untouched, so a transport that
// lost a bootstrap race can clean itself up without evicting the winner.
func (r *Registry) RemoveSession(sess *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess.markClosed()
	cur, ok := r.byID[sess.ID()]
	if !ok || cur != sess {
		r.log.Debug("session.remove.miss", slog.String("session_id", sess.ID()))
		return
	}
	delete(r.byID, sess.ID())
	r.log.Info("session.remove", slog.String("session_id", sess.ID()))
}

// Remove closes and deletes the session registered under id. Removing an
// absent id is a no-op observable only as a log event.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.byID[id]
	if !ok {
		r.log.Debug("session.remove.miss", slog.String("session_id", id))
		return
	}
	sess.markClosed()
	delete(r.byID, id)
	r.log.Info("session.remove", slog.String("session_id", id))
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
