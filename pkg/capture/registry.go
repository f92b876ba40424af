package capture

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultDedupeWindow is how close together two registrations of the same URL
// in the same browsing context must be to count as one request.
const DefaultDedupeWindow = 1000 * time.Millisecond

// SessionIDPrefix prefixes generated session ids.
const SessionIDPrefix = "sse-req-"

// maxRetiredIDs bounds how many cleared caller-supplied ids are remembered.
const maxRetiredIDs = 4096

// Registration describes a newly observed request or connection.
type Registration struct {
	// ID is the caller's request id. Empty means one is generated.
	ID string

	URL       string
	Method    string
	ContextID string

	// QueryParams defaults to the query string of URL when nil.
	QueryParams map[string]string
	BodyParams  BodyParams
}

// Registry owns every capture session, keyed by session id and scoped to the
// browsing context that created it.
//
// A Registry is not safe for concurrent use. It is meant to be owned by a
// single goroutine, see the aggregator package.
type Registry struct {
	// sessions maps live session ids to sessions.
	sessions map[string]*Session

	// retired holds cleared ids that are not in generated form, oldest
	// first in retiredOrder. Live ids are checked against sessions.
	retired      map[string]struct{}
	retiredOrder []string

	window time.Duration
	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithDedupeWindow sets the duplicate suppression window. Zero disables it.
func WithDedupeWindow(d time.Duration) RegistryOption {
	return func(r *Registry) {
		r.window = d
	}
}

// WithClock overrides the clock used for StartedAt and duplicate detection.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		r.now = now
	}
}

// WithIDGenerator overrides session id generation.
func WithIDGenerator(fn func() string) RegistryOption {
	return func(r *Registry) {
		r.newID = fn
	}
}

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = l
	}
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		sessions: make(map[string]*Session),
		retired:  make(map[string]struct{}),
		window:   DefaultDedupeWindow,
		now:      time.Now,
		newID:    NewSessionID,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewSessionID generates a process-unique session id.
func NewSessionID() string {
	return SessionIDPrefix + uuid.NewString()
}

// IsGeneratedID reports whether id has the form NewSessionID produces.
func IsGeneratedID(id string) bool {
	rest, ok := strings.CutPrefix(id, SessionIDPrefix)
	return ok && uuid.Validate(rest) == nil
}

// Register creates and stores a new session and returns its id.
//
// A registration for the same URL in the same browsing context within the
// dedupe window of an earlier one is rejected with ErrDuplicateSession and
// nothing is stored. An id that is live, or a custom id that was cleared, is
// rejected with ErrSessionExists.
func (r *Registry) Register(reg Registration) (string, error) {
	now := r.now()

	if dup := r.findRecent(reg.URL, reg.ContextID, now); dup != nil {
		r.logger.Debug("duplicate capture session ignored",
			"url", reg.URL,
			"context", reg.ContextID,
			"existing", dup.ID,
		)
		return "", fmt.Errorf("%w: %s", ErrDuplicateSession, dup.ID)
	}

	id := reg.ID
	if id == "" {
		id = r.newID()
	}
	if r.used(id) {
		return "", fmt.Errorf("%w: %s", ErrSessionExists, id)
	}

	method := reg.Method
	if method == "" {
		method = DefaultMethod
	}

	query := reg.QueryParams
	if query == nil {
		query = ExtractQueryParams(reg.URL)
	}

	r.sessions[id] = &Session{
		ID:          id,
		URL:         reg.URL,
		Method:      method,
		ContextID:   reg.ContextID,
		StartedAt:   now,
		QueryParams: query,
		BodyParams:  reg.BodyParams,
		Events:      []StreamEvent{},
	}

	r.logger.Debug("capture session registered",
		"session", id,
		"url", reg.URL,
		"method", method,
		"context", reg.ContextID,
	)
	return id, nil
}

// AppendEvent appends ev to a session. It reports false, without error, when
// the session is unknown, for example because it was already cleared.
func (r *Registry) AppendEvent(sessionID string, ev StreamEvent) bool {
	s, ok := r.sessions[sessionID]
	if !ok {
		r.logger.Debug("event for unknown capture session dropped", "session", sessionID)
		return false
	}

	s.Events = append(s.Events, ev)
	return true
}

// Get returns a copy of one session.
func (r *Registry) Get(sessionID string) (*Session, error) {
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, NotFoundError{ID: sessionID}
	}
	return s.Clone(), nil
}

// ContextOf returns the browsing context that owns a session.
func (r *Registry) ContextOf(sessionID string) (string, bool) {
	s, ok := r.sessions[sessionID]
	if !ok {
		return "", false
	}
	return s.ContextID, true
}

// ListFor returns copies of every session owned by contextID. The result is
// never nil.
func (r *Registry) ListFor(contextID string) map[string]*Session {
	out := make(map[string]*Session)
	for id, s := range r.sessions {
		if s.ContextID == contextID {
			out[id] = s.Clone()
		}
	}
	return out
}

// Contexts returns every browsing context that currently owns a session.
func (r *Registry) Contexts() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, s := range r.sessions {
		if _, ok := seen[s.ContextID]; ok {
			continue
		}
		seen[s.ContextID] = struct{}{}
		out = append(out, s.ContextID)
	}
	return out
}

// Clear removes every session owned by contextID and returns how many were
// removed. Sessions of other contexts are untouched.
func (r *Registry) Clear(contextID string) int {
	removed := 0
	for id, s := range r.sessions {
		if s.ContextID == contextID {
			delete(r.sessions, id)
			r.retire(id)
			removed++
		}
	}

	if removed > 0 {
		r.logger.Debug("capture sessions cleared", "context", contextID, "count", removed)
	}
	return removed
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	return len(r.sessions)
}

func (r *Registry) used(id string) bool {
	if _, live := r.sessions[id]; live {
		return true
	}
	_, retired := r.retired[id]
	return retired
}

// retire remembers a cleared id so it is not handed out again. Generated ids
// cannot collide and are not kept. Past maxRetiredIDs the oldest is forgotten.
func (r *Registry) retire(id string) {
	if IsGeneratedID(id) {
		return
	}
	if _, ok := r.retired[id]; ok {
		return
	}

	if len(r.retiredOrder) >= maxRetiredIDs {
		delete(r.retired, r.retiredOrder[0])
		r.retiredOrder = r.retiredOrder[1:]
	}
	r.retired[id] = struct{}{}
	r.retiredOrder = append(r.retiredOrder, id)
}

// findRecent returns a session for the same url and context registered less
// than the dedupe window before now.
func (r *Registry) findRecent(url, contextID string, now time.Time) *Session {
	if r.window <= 0 {
		return nil
	}

	for _, s := range r.sessions {
		if s.URL == url && s.ContextID == contextID && now.Sub(s.StartedAt) < r.window {
			return s
		}
	}
	return nil
}
