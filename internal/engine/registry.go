package engine

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/origincache/origincache/internal/config"
	"github.com/origincache/origincache/internal/webres"
)

// Session identifies one browsing session. Ephemeral sessions never touch
// disk.
type Session struct {
	ID        uuid.UUID
	Ephemeral bool
}

// NewSession returns a persistent session with a fresh identifier.
func NewSession() Session {
	return Session{ID: uuid.New()}
}

// NewEphemeralSession returns a memory-only session.
func NewEphemeralSession() Session {
	return Session{ID: uuid.New(), Ephemeral: true}
}

// Registry owns one engine per session and creates them lazily. Persistent
// engines are rooted at <StoragePath>/<session id>.
type Registry struct {
	cfg config.GlobalConfig
	log *logrus.Logger

	mu      sync.Mutex
	engines map[uuid.UUID]*Engine
}

// NewRegistry builds an empty registry over the given configuration.
func NewRegistry(cfg config.GlobalConfig, logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Registry{
		cfg:     cfg,
		log:     logger,
		engines: make(map[uuid.UUID]*Engine),
	}
}

// From returns the session's engine, creating it on first use.
func (r *Registry) From(session Session) (*Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.engines[session.ID]; ok {
		return e, nil
	}
	e, err := newEngine(session, r.cfg, r.log)
	if err != nil {
		return nil, err
	}
	r.engines[session.ID] = e
	return e, nil
}

// Destroy drops a session's engine after draining its pending disk work.
// Destroying an unknown session is a no-op.
func (r *Registry) Destroy(session Session) {
	r.mu.Lock()
	e := r.engines[session.ID]
	delete(r.engines, session.ID)
	r.mu.Unlock()
	if e != nil {
		e.Close()
	}
}

// The operations below mirror the engine surface keyed by session, for
// callers that deal in sessions rather than engine handles.

func (r *Registry) Open(session Session, origin webres.ClientOrigin, name string, completion CacheIdentifierFunc) {
	e, err := r.From(session)
	if err != nil {
		completion(0, err)
		return
	}
	e.Open(origin, name, completion)
}

func (r *Registry) Remove(session Session, id Identifier, completion CacheIdentifierFunc) {
	e, err := r.From(session)
	if err != nil {
		completion(0, err)
		return
	}
	e.Remove(id, completion)
}

func (r *Registry) RetrieveCaches(session Session, origin webres.ClientOrigin, updateCounter uint64, completion CacheInfosFunc) {
	e, err := r.From(session)
	if err != nil {
		completion(nil, 0, false, err)
		return
	}
	e.RetrieveCaches(origin, updateCounter, completion)
}

func (r *Registry) RetrieveRecords(session Session, id Identifier, urlFilter string, completion RecordsFunc) {
	e, err := r.From(session)
	if err != nil {
		completion(nil, err)
		return
	}
	e.RetrieveRecords(id, urlFilter, completion)
}

func (r *Registry) PutRecords(session Session, id Identifier, records []Record, completion RecordIdentifiersFunc) {
	e, err := r.From(session)
	if err != nil {
		completion(nil, err)
		return
	}
	e.PutRecords(id, records, completion)
}

func (r *Registry) DeleteMatchingRecords(session Session, id Identifier, target webres.Request, matcher webres.RequestMatcher, completion RecordIdentifiersFunc) {
	e, err := r.From(session)
	if err != nil {
		completion(nil, err)
		return
	}
	e.DeleteMatchingRecords(id, target, matcher, completion)
}

func (r *Registry) Lock(session Session, id Identifier) {
	if e, err := r.From(session); err == nil {
		e.Lock(id)
	}
}

func (r *Registry) Unlock(session Session, id Identifier) {
	if e, err := r.From(session); err == nil {
		e.Unlock(id)
	}
}

func (r *Registry) ClearAllCaches(session Session, completion func()) {
	e, err := r.From(session)
	if err != nil {
		if completion != nil {
			completion()
		}
		return
	}
	e.ClearAllCaches(completion)
}

func (r *Registry) ClearCachesForOrigin(session Session, origin webres.ClientOrigin, completion func()) {
	e, err := r.From(session)
	if err != nil {
		if completion != nil {
			completion()
		}
		return
	}
	e.ClearCachesForOrigin(origin, completion)
}
