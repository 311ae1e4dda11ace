// Package session implements the proctoring session state machine.
//
// A session owns its streaming channel, counters, alert logs, and clock;
// nothing is shared across sessions, so multiple sessions can run in the
// same process fully isolated. A single loop goroutine reacts to inbound
// detection results, the 1-second clock, and the frame send timer, keeping
// all state transitions totally ordered.
package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/verte-zerg/proctor/internal/frame"
	"github.com/verte-zerg/proctor/internal/model"
	"github.com/verte-zerg/proctor/internal/report"
	"github.com/verte-zerg/proctor/internal/score"
	"github.com/verte-zerg/proctor/internal/stream"
)

// State is the lifecycle state of a session.
type State int

// Idle -> Active -> Ended; Ended is terminal.
const (
	StateIdle State = iota
	StateActive
	StateEnded
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Errors surfaced by the state machine. None of them are fatal to the
// host process; failures degrade the current session only.
var (
	ErrInvalidInput       = errors.New("candidate name is required")
	ErrSessionStartFailed = errors.New("session registration failed")
	ErrSessionEndFailed   = errors.New("session end registration failed")
)

// defaultSendDelay is the pause after a result before the next capture,
// which caps the cadence at roughly ten frames per second.
const defaultSendDelay = 100 * time.Millisecond

// Registrar registers session lifecycle with the backing service.
type Registrar interface {
	// StartSession registers a new session. An error aborts the
	// Idle -> Active transition.
	StartSession(ctx context.Context, sessionID, candidateName string) error

	// EndSession reports the end of a session. The returned score is
	// advisory; the local recomputation from frozen counters remains
	// authoritative for the report.
	EndSession(ctx context.Context, sessionID string) (int, error)
}

// Config wires a session to its collaborators.
type Config struct {
	Source    frame.Source
	Codec     frame.Codec
	Dialer    stream.Dialer
	Registrar Registrar

	// SendDelay overrides the inter-frame delay; zero uses the default.
	SendDelay time.Duration

	// Logf receives channel and capture diagnostics; nil discards them.
	Logf func(format string, args ...any)
}

// Snapshot is a point-in-time view of a session for live display.
type Snapshot struct {
	SessionID      string
	CandidateName  string
	State          State
	ElapsedSeconds int
	Counters       model.Counters
	Score          int
	Deductions     []model.Deduction
	RecentAlerts   []model.Alert // most recent last, bounded window
	TotalAlerts    int
	Degraded       bool // detection pipeline lost or never connected
}

// Session is one monitored exam attempt.
type Session struct {
	cfg       Config
	id        string
	candidate string
	startedAt time.Time

	mu             sync.Mutex
	state          State
	elapsed        int
	agg            aggregator
	liveScore      int
	liveDeductions []model.Deduction
	degraded       bool
	remoteScore    int
	final          *model.Report

	channel stream.Channel
	cancel  context.CancelFunc
	done    chan struct{}

	// endMu serializes End and Abandon so ending twice cannot synthesize
	// a second report.
	endMu sync.Mutex
}

// NewSessionID builds a session id from the current time with a short
// random suffix for uniqueness within the process lifetime.
func NewSessionID() string {
	suffix := strings.SplitN(uuid.NewString(), "-", 2)[0]
	return fmt.Sprintf("session_%d_%s", time.Now().UnixMilli(), suffix)
}

// Start validates the candidate, registers the session, opens the
// streaming channel, and launches the session loop. A dial failure leaves
// the session running degraded (no frames, no scoring input) rather than
// failing the start. The context bounds registration and dialing only;
// the loop runs until End or Abandon.
func Start(ctx context.Context, cfg Config, candidateName string) (*Session, error) {
	candidateName = strings.TrimSpace(candidateName)
	if candidateName == "" {
		return nil, ErrInvalidInput
	}

	id := NewSessionID()
	if cfg.Registrar != nil {
		if err := cfg.Registrar.StartSession(ctx, id, candidateName); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSessionStartFailed, err)
		}
	}

	s := &Session{
		cfg:       cfg,
		id:        id,
		candidate: candidateName,
		startedAt: time.Now(),
		state:     StateActive,
		liveScore: 100,
		done:      make(chan struct{}),
	}
	s.agg.reset()

	if cfg.Dialer != nil {
		ch, err := cfg.Dialer.Dial(ctx, id)
		if err != nil {
			s.logf("failed to open detection channel: %v", err)
			s.degraded = true
		} else {
			s.channel = ch
		}
	} else {
		s.degraded = true
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.run(loopCtx)
	return s, nil
}

// run is the session event loop. All handlers are short and non-blocking;
// the network round trip is awaited through the results channel.
func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	// First frame goes out immediately on open to minimize startup
	// latency; afterwards the timer enforces the single-flight cadence:
	// it is re-armed only when a result arrives or a capture is skipped.
	sendTimer := time.NewTimer(0)
	defer sendTimer.Stop()

	var results <-chan stream.Result
	if s.channel != nil {
		results = s.channel.Results()
	} else if !sendTimer.Stop() {
		<-sendTimer.C
	}

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			s.mu.Lock()
			if s.state == StateActive {
				s.elapsed++
			}
			s.mu.Unlock()

		case res, ok := <-results:
			if !ok {
				// Detection pipeline lost. No reconnection: counters stop
				// advancing, the clock keeps running, and the session can
				// still be ended and reported.
				results = nil
				s.mu.Lock()
				s.degraded = true
				s.mu.Unlock()
				continue
			}
			s.apply(res)
			sendTimer.Reset(s.sendDelay())

		case <-sendTimer.C:
			if results == nil {
				continue
			}
			if !s.sendFrame() {
				// Frame skipped (source not ready, encode or send
				// failure): retry on the next scheduling tick.
				sendTimer.Reset(s.sendDelay())
			}
		}
	}
}

// sendDelay returns the configured inter-frame delay, or the default when
// the configuration leaves it zero.
func (s *Session) sendDelay() time.Duration {
	if s.cfg.SendDelay > 0 {
		return s.cfg.SendDelay
	}
	return defaultSendDelay
}

// apply folds one inbound result into the session state and refreshes the
// live score. Results arriving after the session ended are discarded.
func (s *Session) apply(res stream.Result) {
	if res.Err != nil {
		s.logf("channel error: %v", res.Err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return
	}
	s.agg.apply(res)
	s.liveScore, s.liveDeductions = score.Evaluate(s.agg.counters)
}

// sendFrame captures, encodes, and transmits one frame. It reports whether
// a frame actually went out; skipped frames are never fatal.
func (s *Session) sendFrame() bool {
	if s.cfg.Source == nil {
		return false
	}
	img, err := s.cfg.Source.Capture()
	if err != nil {
		if !errors.Is(err, frame.ErrNotReady) {
			s.logf("failed to capture frame: %v", err)
		}
		return false
	}
	payload, err := s.cfg.Codec.Encode(img)
	if err != nil {
		s.logf("failed to encode frame: %v", err)
		return false
	}
	out := stream.OutboundFrame{
		Frame:     base64.StdEncoding.EncodeToString(payload),
		Timestamp: time.Now().UnixMilli(),
	}
	if err := s.channel.Send(out); err != nil {
		s.logf("failed to send frame: %v", err)
		return false
	}
	return true
}

// End stops the session, notifies the registrar, and synthesizes the
// report from the frozen counters. It is idempotent: a second call
// returns the same report without recomputation. Local state always
// prevails over a registrar failure so a report can still be produced.
func (s *Session) End(ctx context.Context) (model.Report, error) {
	s.endMu.Lock()
	defer s.endMu.Unlock()

	s.mu.Lock()
	if s.final != nil {
		rep := *s.final
		s.mu.Unlock()
		return rep, nil
	}
	s.state = StateEnded
	s.mu.Unlock()

	s.stop()

	s.mu.Lock()
	counters := s.agg.counters
	alerts := s.agg.allAlerts()
	elapsed := s.elapsed
	s.mu.Unlock()

	var endErr error
	if s.cfg.Registrar != nil {
		remote, err := s.cfg.Registrar.EndSession(ctx, s.id)
		if err != nil {
			endErr = fmt.Errorf("%w: %v", ErrSessionEndFailed, err)
		} else {
			s.mu.Lock()
			s.remoteScore = remote
			s.mu.Unlock()
		}
	}

	// The live score may lag the last asynchronous update, and the remote
	// score is advisory only: recompute from the frozen counters.
	final, deductions := score.Evaluate(counters)
	rep := report.Synthesize(report.Meta{
		SessionID:      s.id,
		CandidateName:  s.candidate,
		StartedAt:      s.startedAt,
		EndedAt:        s.startedAt.Add(time.Duration(elapsed) * time.Second),
		ElapsedSeconds: elapsed,
	}, counters, alerts, final, deductions)

	s.mu.Lock()
	s.final = &rep
	s.liveScore = final
	s.liveDeductions = deductions
	s.mu.Unlock()
	return rep, endErr
}

// Abandon releases the channel and timers without producing a report,
// for sessions discarded without an explicit end.
func (s *Session) Abandon() {
	s.endMu.Lock()
	defer s.endMu.Unlock()

	s.mu.Lock()
	if s.state == StateEnded {
		s.mu.Unlock()
		return
	}
	s.state = StateEnded
	s.mu.Unlock()
	s.stop()
}

// stop halts the loop and closes the channel. Safe to call repeatedly.
func (s *Session) stop() {
	s.cancel()
	<-s.done
	if s.channel != nil {
		if err := s.channel.Close(); err != nil {
			// Best-effort close; the connection may already be gone.
			_ = err
		}
	}
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// CandidateName returns the candidate identifier.
func (s *Session) CandidateName() string {
	return s.candidate
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RemoteScore returns the advisory score the registrar reported at end
// time, or zero when none was received.
func (s *Session) RemoteScore() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteScore
}

// Status returns a point-in-time snapshot for live display.
func (s *Session) Status() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		SessionID:      s.id,
		CandidateName:  s.candidate,
		State:          s.state,
		ElapsedSeconds: s.elapsed,
		Counters:       s.agg.counters,
		Score:          s.liveScore,
		Deductions:     append([]model.Deduction(nil), s.liveDeductions...),
		RecentAlerts:   s.agg.recentAlerts(),
		TotalAlerts:    len(s.agg.full),
		Degraded:       s.degraded,
	}
}

func (s *Session) logf(format string, args ...any) {
	if s.cfg.Logf != nil {
		s.cfg.Logf(format, args...)
	}
}
