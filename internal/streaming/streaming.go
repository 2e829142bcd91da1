// Package streaming batches and ships a running agent session's stdout:
// each session gets an in-memory line buffer flushed on a fixed interval as
// a cli.output event, plus a capped shared-cache mirror that getBufferedOutput
// serves to a client reconnecting mid-session. Grounded on internal/pipeline's
// Service shape (functional options, cache.CacheBackend, events.Bus) and
// generalized from pkg/ratelimit's mutex-guarded counters into a per-session
// ticker instead of a shared sliding window.
package streaming

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/devos-platform/agent-orchestrator/internal/cache"
	"github.com/devos-platform/agent-orchestrator/internal/events"
)

const (
	// FlushInterval is how often a session's pending lines are emitted as a
	// cli.output event.
	FlushInterval = 100 * time.Millisecond
	// MaxBufferedLines caps the in-memory total kept per session; once
	// exceeded, the oldest lines are dropped first.
	MaxBufferedLines = 50_000
	// CacheTailLines is how many of the most recent lines are mirrored into
	// the shared cache for getBufferedOutput to serve.
	CacheTailLines = 1000
	// CacheTTLOnStop is the TTL applied to a session's cache buffer once
	// streaming stops, so a late reconnect can still replay recent output.
	CacheTTLOnStop = 1 * time.Hour
)

func cacheKey(sessionID string) string { return "cli:output:" + sessionID }

// Archiver persists a finished session's full output text, satisfied by the
// internal/storage sqlx adapter; tests use an in-memory stub.
type Archiver interface {
	ArchiveOutput(ctx context.Context, sessionID string, fullText string) error
}

// session is the per-session streaming state: a pending batch awaiting the
// next tick, and the full accumulated line history capped at
// MaxBufferedLines.
type session struct {
	mu         sync.Mutex
	pending    []string
	all        []string
	lineOffset int
	ticker     *time.Ticker
	stop       chan struct{}
}

// Service implements startStreaming/onOutput/stopStreaming/getBufferedOutput:
// the CLI output streaming contract. It satisfies
// internal/agentsession.OutputSink via OnOutput.
type Service struct {
	backend cache.CacheBackend
	bus     events.Bus
	log     logr.Logger
	archive Archiver

	mu       sync.Mutex
	sessions map[string]*session
}

// NewService wires a streaming Service. archive may be nil, in which case
// StopStreaming skips archival (used in tests that don't exercise it).
func NewService(backend cache.CacheBackend, bus events.Bus, log logr.Logger, archive Archiver) *Service {
	return &Service{
		backend:  backend,
		bus:      bus,
		log:      log.WithName("streaming"),
		archive:  archive,
		sessions: make(map[string]*session),
	}
}

// StartStreaming clears any stale cache buffer for sessionID and arms the
// periodic flush ticker. Safe to call once per session lifetime; calling it
// again for an already-streaming session replaces its ticker.
func (s *Service) StartStreaming(ctx context.Context, sessionID string) {
	if err := s.backend.Del(ctx, cacheKey(sessionID)); err != nil {
		s.log.Error(err, "failed to clear stale output buffer", "sessionId", sessionID)
	}

	sess := &session{ticker: time.NewTicker(FlushInterval), stop: make(chan struct{})}

	s.mu.Lock()
	s.sessions[sessionID] = sess
	s.mu.Unlock()

	go s.flushLoop(sessionID, sess)
}

func (s *Service) flushLoop(sessionID string, sess *session) {
	for {
		select {
		case <-sess.ticker.C:
			s.flush(context.Background(), sessionID, sess)
		case <-sess.stop:
			return
		}
	}
}

// OnOutput implements agentsession.OutputSink: it splits data by newline and
// appends each non-empty line to the session's pending batch and full
// history, trimming the oldest lines once MaxBufferedLines is exceeded.
func (s *Service) OnOutput(sessionID string, data []byte) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return
	}

	lines := splitNonEmpty(string(data))
	if len(lines) == 0 {
		return
	}

	sess.mu.Lock()
	sess.pending = append(sess.pending, lines...)
	sess.all = append(sess.all, lines...)
	if over := len(sess.all) - MaxBufferedLines; over > 0 {
		sess.all = sess.all[over:]
	}
	sess.mu.Unlock()
}

func splitNonEmpty(data string) []string {
	raw := strings.Split(data, "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		l = strings.TrimRight(l, "\r")
		if l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

// flush emits one cli.output event for any lines pending since the last
// tick, then upserts the shared-cache buffer with the most recent
// CacheTailLines of the session's full history.
func (s *Service) flush(ctx context.Context, sessionID string, sess *session) {
	sess.mu.Lock()
	pending := sess.pending
	sess.pending = nil
	offset := sess.lineOffset
	sess.lineOffset += len(pending)
	tail := tailOf(sess.all, CacheTailLines)
	sess.mu.Unlock()

	if len(pending) > 0 {
		s.bus.Publish(ctx, events.CLIOutput, map[string]interface{}{
			"sessionId":  sessionID,
			"lines":      pending,
			"lineOffset": offset,
			"timestamp":  time.Now(),
		})
	}

	if err := s.backend.Set(ctx, cacheKey(sessionID), strings.Join(tail, "\n"), 0); err != nil {
		s.log.Error(err, "failed to upsert output buffer", "sessionId", sessionID)
	}
}

func tailOf(lines []string, n int) []string {
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}

// StopStreaming performs a final flush, sets a TTL on the cache key so a
// late reconnect can still replay recent output, archives the full output
// text, and stops the session's ticker.
func (s *Service) StopStreaming(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	if !ok {
		return nil
	}

	s.flush(ctx, sessionID, sess)
	sess.ticker.Stop()
	close(sess.stop)

	if err := s.backend.Expire(ctx, cacheKey(sessionID), CacheTTLOnStop); err != nil {
		s.log.Error(err, "failed to set output buffer TTL", "sessionId", sessionID)
	}

	if s.archive == nil {
		return nil
	}
	sess.mu.Lock()
	full := strings.Join(sess.all, "\n")
	sess.mu.Unlock()
	return s.archive.ArchiveOutput(ctx, sessionID, full)
}

// GetBufferedOutput returns the cached tail of sessionID's output, or an
// empty slice if nothing has been buffered (unknown session, or cache miss).
func (s *Service) GetBufferedOutput(ctx context.Context, sessionID string) ([]string, error) {
	val, found, err := s.backend.Get(ctx, cacheKey(sessionID))
	if err != nil {
		return nil, err
	}
	if !found || val == "" {
		return []string{}, nil
	}
	return strings.Split(val, "\n"), nil
}
