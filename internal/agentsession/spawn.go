package agentsession

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/devos-platform/agent-orchestrator/internal/errs"
	"github.com/devos-platform/agent-orchestrator/internal/events"
)

// Status is a session's lifecycle state.
type Status string

const (
	StatusRunning    Status = "running"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusTerminated Status = "terminated"
)

// OutputSink receives the streaming lifecycle and each batch of raw stdout
// bytes a session produces, satisfied by *internal/streaming.Service.
type OutputSink interface {
	StartStreaming(ctx context.Context, sessionID string)
	OnOutput(sessionID string, data []byte)
	StopStreaming(ctx context.Context, sessionID string) error
}

// redactedMarkers are the substrings whose presence drops a stderr line
// before it reaches the log, so a leaked secret never lands in the log
// sink even if the child process itself misbehaves.
var redactedMarkers = []string{"sk-ant-", "ANTHROPIC_API_KEY"}

// Session is the in-process record of one running or finished agent
// session; the shape tracked once a CLI session is running.
type Session struct {
	SessionID       string
	PID             int
	WorkspaceID     string
	ProjectID       string
	Agent           string
	Status          Status
	StartedAt       time.Time
	EndedAt         time.Time
	OutputLineCount int

	mu        sync.Mutex
	cmd       *exec.Cmd
	workspace string
	timeout   *hardTimeout
	cancel    context.CancelFunc
}

// Manager spawns and tracks CLI agent sessions, enforcing the per-workspace
// concurrency cap and routing their stdout to an OutputSink.
type Manager struct {
	bus         events.Bus
	sink        OutputSink
	logger      logr.Logger
	maxPerSpace int

	mu       sync.Mutex
	byID     map[string]*Session
	perSpace map[string]int
}

// NewManager builds a Manager. maxPerSpace <= 0 uses DefaultMaxPerWorkspace.
func NewManager(bus events.Bus, sink OutputSink, logger logr.Logger, maxPerSpace int) *Manager {
	if maxPerSpace <= 0 {
		maxPerSpace = DefaultMaxPerWorkspace
	}
	return &Manager{
		bus:         bus,
		sink:        sink,
		logger:      logger,
		maxPerSpace: maxPerSpace,
		byID:        make(map[string]*Session),
		perSpace:    make(map[string]int),
	}
}

func (m *Manager) tryReserve(workspaceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.perSpace[workspaceID] >= m.maxPerSpace {
		return false
	}
	m.perSpace[workspaceID]++
	return true
}

func (m *Manager) release(workspaceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.perSpace[workspaceID] > 0 {
		m.perSpace[workspaceID]--
	}
}

// Spawn implements the full spawnSession algorithm: cap
// enforcement, workspace preparation, BYOK key resolution, process spawn
// with env-only secret injection, output/exit/error handlers, and the hard
// timeout.
func (m *Manager) Spawn(ctx context.Context, baseDir string, params SpawnParams, keys KeyResolver, gitToken string) (*Session, error) {
	if !m.tryReserve(params.WorkspaceID) {
		return nil, &errs.SessionCapExceededError{WorkspaceID: params.WorkspaceID, Limit: m.maxPerSpace}
	}

	sessionID := uuid.NewString()
	cfg, err := resolveConfig(params, sessionID)
	if err != nil {
		m.release(params.WorkspaceID)
		return nil, err
	}

	workspacePath, err := prepareWorkspace(ctx, baseDir, cfg.WorkspaceID, cfg.ProjectID, cfg.RepoURL, cfg.BaseBranch, gitToken)
	if err != nil {
		m.release(params.WorkspaceID)
		return nil, err
	}

	apiKey, err := keys.Resolve(ctx, cfg.WorkspaceID, params.Provider)
	if err != nil {
		m.release(params.WorkspaceID)
		return nil, err
	}

	sessionCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(sessionCtx, cfg.Argv[0], cfg.Argv[1:]...)
	cmd.Dir = workspacePath
	cmd.Env = append(cmd.Env,
		envVarFor(params.Provider)+"="+apiKey,
		"GIT_TERMINAL_PROMPT=0",
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		m.release(params.WorkspaceID)
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		m.release(params.WorkspaceID)
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		cancel()
		m.release(params.WorkspaceID)
		return nil, err
	}

	session := &Session{
		SessionID:   sessionID,
		PID:         cmd.Process.Pid,
		WorkspaceID: cfg.WorkspaceID,
		ProjectID:   cfg.ProjectID,
		Agent:       cfg.Agent,
		Status:      StatusRunning,
		StartedAt:   time.Now(),
		cmd:         cmd,
		workspace:   workspacePath,
		cancel:      cancel,
	}
	session.timeout = armHardTimeout(cfg.Timeout, func() { m.terminateExpired(session) })

	m.mu.Lock()
	m.byID[sessionID] = session
	m.mu.Unlock()

	if m.sink != nil {
		m.sink.StartStreaming(ctx, sessionID)
	}

	m.bus.Publish(ctx, events.CLISessionStarted, map[string]interface{}{
		"sessionId": sessionID, "workspaceId": cfg.WorkspaceID, "projectId": cfg.ProjectID, "agent": cfg.Agent,
	})

	go m.pumpStdout(session, stdout)
	go m.pumpStderr(session, stderr)
	go m.awaitExit(session)

	return session, nil
}

func (m *Manager) pumpStdout(s *Session, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		s.mu.Lock()
		s.OutputLineCount++
		s.mu.Unlock()
		if m.sink != nil {
			m.sink.OnOutput(s.SessionID, append(append([]byte(nil), line...), '\n'))
		}
	}
}

func (m *Manager) pumpStderr(s *Session, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if containsSecretMarker(line) {
			continue
		}
		m.logger.Info("agent session stderr", "sessionId", s.SessionID, "line", line)
	}
}

func containsSecretMarker(line string) bool {
	for _, marker := range redactedMarkers {
		if strings.Contains(line, marker) {
			return true
		}
	}
	return false
}

func (m *Manager) awaitExit(s *Session) {
	err := s.cmd.Wait()

	s.mu.Lock()
	alreadyTerminated := s.Status == StatusTerminated
	if !alreadyTerminated {
		if err != nil {
			s.Status = StatusFailed
		} else {
			s.Status = StatusCompleted
		}
	}
	s.EndedAt = time.Now()
	finalStatus := s.Status
	s.mu.Unlock()

	s.timeout.cancel()
	s.cancel()
	m.release(s.WorkspaceID)
	cleanupSensitiveFiles(s.workspace)
	if m.sink != nil {
		if err := m.sink.StopStreaming(context.Background(), s.SessionID); err != nil {
			m.logger.Error(err, "failed to stop output streaming", "sessionId", s.SessionID)
		}
	}

	if alreadyTerminated {
		return
	}
	switch finalStatus {
	case StatusCompleted:
		m.bus.Publish(context.Background(), events.CLISessionCompleted, map[string]interface{}{"sessionId": s.SessionID})
	case StatusFailed:
		m.bus.Publish(context.Background(), events.CLISessionFailed, map[string]interface{}{"sessionId": s.SessionID, "error": errString(err)})
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (m *Manager) terminateExpired(s *Session) {
	_ = m.Terminate(s.SessionID)
}

// Terminate implements the terminate operation: signals the
// process, flips status to terminated, and emits cli.session.terminated.
// Terminating an already-finished session is a no-op.
func (m *Manager) Terminate(sessionID string) error {
	m.mu.Lock()
	s, ok := m.byID[sessionID]
	m.mu.Unlock()
	if !ok {
		return &errs.NotFoundException{Resource: "agent session", ID: sessionID}
	}

	s.mu.Lock()
	if s.Status != StatusRunning {
		s.mu.Unlock()
		return nil
	}
	s.Status = StatusTerminated
	s.mu.Unlock()

	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	s.timeout.cancel()

	m.bus.Publish(context.Background(), events.CLISessionTerminated, map[string]interface{}{"sessionId": sessionID})
	return nil
}

// Status returns the current {status, pid, outputLineCount, durationMs}
// tuple for sessionID.
func (m *Manager) Status(sessionID string) (StatusReport, bool) {
	m.mu.Lock()
	s, ok := m.byID[sessionID]
	m.mu.Unlock()
	if !ok {
		return StatusReport{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	report := StatusReport{Status: s.Status, OutputLineCount: s.OutputLineCount}
	if s.Status == StatusRunning {
		report.PID = &s.PID
		report.DurationMs = time.Since(s.StartedAt).Milliseconds()
	} else {
		report.DurationMs = s.EndedAt.Sub(s.StartedAt).Milliseconds()
	}
	return report, true
}

// StatusReport is the externally-visible session status tuple.
type StatusReport struct {
	Status          Status
	PID             *int
	OutputLineCount int
	DurationMs      int64
}
