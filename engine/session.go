package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	// MaxMultiPV is the largest number of lines a session will request.
	MaxMultiPV = 5

	eventBuffer  = 64
	closeTimeout = 2 * time.Second
)

// Session owns one UCI conversation with an engine process.
type Session struct {
	logger *slog.Logger
	cmd    *exec.Cmd

	wmu sync.Mutex
	w   *bufio.Writer

	events chan Event
	acks   chan string
	done   chan struct{}

	mu       sync.Mutex
	err      error
	closing  bool
	searches []uint64 // job ids of outstanding go commands, oldest first
	multiPV  int
}

// Start launches the engine at path and completes the UCI handshake.
func Start(ctx context.Context, path string, logger *slog.Logger) (*Session, error) {
	cmd := exec.Command(path)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &OpError{Op: "start", Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &OpError{Op: "start", Err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &OpError{Op: "start", Err: fmt.Errorf("%w: %v", ErrEngineUnavailable, err)}
	}

	s := NewSession(stdout, stdin, logger)
	s.cmd = cmd
	if err := s.Handshake(ctx); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, err
	}
	s.logger.Info("engine started", "path", path, "pid", cmd.Process.Pid)
	return s, nil
}

// NewSession wraps an already running engine's output r and input w. The
// caller must run Handshake before issuing searches.
func NewSession(r io.Reader, w io.Writer, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		logger: logger.With("component", "engine_session"),
		w:      bufio.NewWriter(w),
		events: make(chan Event, eventBuffer),
		acks:   make(chan string, 4),
		done:   make(chan struct{}),
	}
	go s.readLoop(r)
	return s
}

// Handshake runs uci/uciok, ucinewgame and isready/readyok.
func (s *Session) Handshake(ctx context.Context) error {
	if err := s.send("uci"); err != nil {
		return err
	}
	if err := s.waitAck(ctx, "uciok"); err != nil {
		return err
	}
	if err := s.send("ucinewgame"); err != nil {
		return err
	}
	return s.Sync(ctx)
}

// Sync sends isready and waits for readyok.
func (s *Session) Sync(ctx context.Context) error {
	if err := s.send("isready"); err != nil {
		return err
	}
	return s.waitAck(ctx, "readyok")
}

// Configure sets MultiPV. The option is only sent when it differs from the
// last applied value.
func (s *Session) Configure(multiPV int) error {
	if multiPV < 1 || multiPV > MaxMultiPV {
		return &OpError{Op: "configure", Err: fmt.Errorf("multipv %d out of range 1..%d", multiPV, MaxMultiPV)}
	}
	s.mu.Lock()
	same := s.multiPV == multiPV
	s.mu.Unlock()
	if same {
		return nil
	}
	if err := s.send(fmt.Sprintf("setoption name MultiPV value %d", multiPV)); err != nil {
		return err
	}
	s.mu.Lock()
	s.multiPV = multiPV
	s.mu.Unlock()
	return nil
}

// SetPosition loads a FEN position.
func (s *Session) SetPosition(fen string) error {
	return s.send("position fen " + fen)
}

// Go starts a search on behalf of jobID. Every event of that search is
// tagged with jobID.
func (s *Session) Go(jobID uint64, stop StopCondition) error {
	s.mu.Lock()
	s.searches = append(s.searches, jobID)
	s.mu.Unlock()
	return s.send(stop.command())
}

// Abandon forgets the search started for jobID. Output that follows is
// attributed to the next search instead of waiting behind a bestmove that
// may never come.
func (s *Session) Abandon(jobID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, id := range s.searches {
		if id == jobID {
			s.searches = append(s.searches[:i:i], s.searches[i+1:]...)
			return
		}
	}
}

// Stop asks the engine to conclude the current search. The engine decides
// when to answer with bestmove.
func (s *Session) Stop() error {
	return s.send("stop")
}

// Events delivers engine events. The channel is closed when the process
// output ends.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Done is closed once the session has failed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that ended the session, or nil while it is alive.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close sends quit and waits for the process to exit.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	_ = s.send("quit")
	if s.cmd == nil {
		return nil
	}
	exited := make(chan error, 1)
	go func() { exited <- s.cmd.Wait() }()
	select {
	case err := <-exited:
		return ignoreExit(err)
	case <-time.After(closeTimeout):
		s.logger.Warn("engine did not quit, killing", "pid", s.cmd.Process.Pid)
		_ = s.cmd.Process.Kill()
		return ignoreExit(<-exited)
	}
}

func (s *Session) send(cmd string) error {
	if err := s.Err(); err != nil {
		return &OpError{Op: firstWord(cmd), Err: err}
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if _, err := s.w.WriteString(cmd + "\n"); err != nil {
		s.fail(fmt.Errorf("%w: write: %v", ErrEngineUnavailable, err))
		return &OpError{Op: firstWord(cmd), Err: s.Err()}
	}
	if err := s.w.Flush(); err != nil {
		s.fail(fmt.Errorf("%w: write: %v", ErrEngineUnavailable, err))
		return &OpError{Op: firstWord(cmd), Err: s.Err()}
	}
	s.logger.Debug("engine <", "cmd", cmd)
	return nil
}

func (s *Session) waitAck(ctx context.Context, token string) error {
	for {
		select {
		case ack := <-s.acks:
			if ack == token {
				return nil
			}
		case <-s.done:
			return &OpError{Op: token, Err: s.Err()}
		case <-ctx.Done():
			return &OpError{Op: token, Err: ctx.Err()}
		}
	}
}

func (s *Session) readLoop(r io.Reader) {
	defer close(s.events)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "uciok" || line == "readyok":
			select {
			case s.acks <- line:
			default:
			}
		case strings.HasPrefix(line, "info "):
			info := ParseInfo(line)
			if info.empty() {
				continue
			}
			id, ok := s.currentSearch()
			if !ok {
				continue
			}
			s.events <- Event{JobID: id, Info: &info}
		case strings.HasPrefix(line, "bestmove"):
			bm := ParseBestMove(line)
			id, ok := s.popSearch()
			if !ok {
				s.logger.Debug("bestmove without search", "line", line)
				continue
			}
			s.events <- Event{JobID: id, BestMove: &bm}
		}
	}

	err := sc.Err()
	if err == nil {
		err = io.EOF
	}
	s.fail(fmt.Errorf("%w: %v", ErrEngineUnavailable, err))
}

func (s *Session) currentSearch() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.searches) == 0 {
		return 0, false
	}
	return s.searches[0], true
}

func (s *Session) popSearch() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.searches) == 0 {
		return 0, false
	}
	id := s.searches[0]
	s.searches = s.searches[1:]
	return id, true
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return
	}
	if s.closing {
		err = fmt.Errorf("%w: %w", ErrClosed, err)
	}
	s.err = err
	close(s.done)
	if s.closing {
		s.logger.Debug("engine session closed")
		return
	}
	s.logger.Error("engine session failed", "err", err)
}

func firstWord(cmd string) string {
	if i := strings.IndexByte(cmd, ' '); i > 0 {
		return cmd[:i]
	}
	return cmd
}

func ignoreExit(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}
