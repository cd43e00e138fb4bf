package python

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/aescanero/velodago/pkg/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrSessionClosed is returned by operations on a closed session.
var ErrSessionClosed = errors.New("interpreter session is closed")

const (
	maxLineSize   = 256 << 20
	stderrTailLen = 20
)

// Session is one interpreter subprocess holding one annotated dataset.
type Session struct {
	id           string
	cmd          *exec.Cmd
	stdin        io.WriteCloser
	stdout       *os.File
	dec          *json.Decoder
	enc          *json.Encoder
	logger       *zap.Logger
	closeTimeout time.Duration
	handshake    Handshake

	mu     sync.Mutex
	nextID int
	closed bool
	broken bool

	tailMu sync.Mutex
	tail   []string

	done    chan struct{}
	waitErr error
}

// startSession launches argv and waits for the bridge handshake.
func startSession(ctx context.Context, argv, env []string, closeTimeout time.Duration, logger *zap.Logger) (*Session, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("no interpreter command configured")
	}

	id := uuid.New().String()
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdin: %w", err)
	}

	// Own the read ends so Wait never closes them under a pending read.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		_ = stdoutR.Close()
		_ = stdoutW.Close()
		return nil, fmt.Errorf("failed to open stderr: %w", err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		_ = stdoutR.Close()
		_ = stdoutW.Close()
		_ = stderrR.Close()
		_ = stderrW.Close()
		return nil, fmt.Errorf("failed to start interpreter: %w", err)
	}
	_ = stdoutW.Close()
	_ = stderrW.Close()

	s := &Session{
		id:           id,
		cmd:          cmd,
		stdin:        stdin,
		stdout:       stdoutR,
		dec:          json.NewDecoder(bufio.NewReaderSize(stdoutR, 1<<20)),
		enc:          json.NewEncoder(stdin),
		logger:       logger.With(zap.String("session_id", id)),
		closeTimeout: closeTimeout,
		nextID:       1,
		done:         make(chan struct{}),
	}

	go s.drainStderr(stderrR)
	go func() {
		s.waitErr = cmd.Wait()
		close(s.done)
	}()

	resp, err := s.read(ctx, "handshake")
	if err != nil {
		s.abort()
		return nil, err
	}
	if resp.ID != 0 {
		s.abort()
		return nil, &ProtocolError{Op: "handshake", Reason: fmt.Sprintf("unexpected message id %d", resp.ID)}
	}
	if !resp.OK {
		s.abort()
		if resp.Error != nil {
			return nil, resp.Error
		}
		return nil, &ProtocolError{Op: "handshake", Reason: "bridge reported failure", Stderr: s.stderrTail()}
	}
	if len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, &s.handshake); err != nil {
			s.abort()
			return nil, &ProtocolError{Op: "handshake", Reason: err.Error()}
		}
	}

	s.logger.Info("interpreter session started",
		zap.Int("pid", cmd.Process.Pid),
		zap.String("python", s.handshake.Python),
		zap.String("scvelo", s.handshake.Scvelo))

	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Handshake returns the versions reported by the bridge.
func (s *Session) Handshake() Handshake {
	return s.handshake
}

// CreateDataset sends both matrices in cells x genes orientation.
func (s *Session) CreateDataset(ctx context.Context, spliced, unspliced *domain.CountMatrix) error {
	sg, sc := spliced.Dims()
	ug, uc := unspliced.Dims()
	args := createArgs{
		Genes:          spliced.Genes,
		Cells:          spliced.Cells,
		Spliced:        spliced.CellMajor(),
		SplicedShape:   [2]int{sc, sg},
		Unspliced:      unspliced.CellMajor(),
		UnsplicedShape: [2]int{uc, ug},
	}
	return s.roundTrip(ctx, opCreate, args, nil)
}

// Call runs one scvelo function on the dataset.
func (s *Session) Call(ctx context.Context, step domain.StepName, kwargs map[string]any) error {
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	return s.roundTrip(ctx, opCall, callArgs{Function: step.Function(), Kwargs: kwargs}, nil)
}

// Extract fetches the annotation tables and optionally the whole dataset.
func (s *Session) Extract(ctx context.Context, includeAnnData bool) (*domain.Result, error) {
	var result domain.Result
	if err := s.roundTrip(ctx, opExtract, extractArgs{IncludeAnnData: includeAnnData}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Close asks the bridge to exit and kills it if it does not within the
// close timeout.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	broken := s.broken
	s.closed = true
	s.mu.Unlock()

	var shutdownErr error
	if !broken {
		ctx, cancel := context.WithTimeout(context.Background(), s.closeTimeout)
		s.mu.Lock()
		shutdownErr = s.send(opShutdown, nil)
		if shutdownErr == nil {
			_, shutdownErr = s.read(ctx, opShutdown)
		}
		s.mu.Unlock()
		cancel()
		if shutdownErr != nil {
			s.logger.Debug("interpreter shutdown request failed", zap.Error(shutdownErr))
		}
	}
	_ = s.stdin.Close()

	timer := time.NewTimer(s.closeTimeout)
	defer timer.Stop()

	var err error
	select {
	case <-s.done:
		if errors.Is(shutdownErr, context.DeadlineExceeded) {
			err = fmt.Errorf("interpreter did not acknowledge shutdown within %s and was killed", s.closeTimeout)
		}
	case <-timer.C:
		s.kill()
		<-s.done
		err = fmt.Errorf("interpreter did not exit within %s and was killed", s.closeTimeout)
	}
	_ = s.stdout.Close()

	s.logger.Info("interpreter session closed", zap.NamedError("exit", s.waitErr))
	return err
}

func (s *Session) roundTrip(ctx context.Context, op string, args any, out any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if s.broken {
		return &ProtocolError{Op: op, Reason: "session is unusable after an earlier failure", Stderr: s.stderrTail()}
	}

	id := s.nextID
	s.nextID++

	start := time.Now()
	if err := s.sendID(id, op, args); err != nil {
		s.broken = true
		return err
	}

	resp, err := s.read(ctx, op)
	if err != nil {
		s.broken = true
		return err
	}
	if resp.ID != id {
		s.broken = true
		return &ProtocolError{Op: op, Reason: fmt.Sprintf("response id %d does not match request id %d", resp.ID, id)}
	}

	s.logger.Debug("interpreter request finished",
		zap.String("op", op),
		zap.Bool("ok", resp.OK),
		zap.Duration("duration", time.Since(start)))

	if !resp.OK {
		if resp.Error == nil {
			return &ProtocolError{Op: op, Reason: "failure without error payload"}
		}
		return resp.Error
	}

	if out != nil {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return &ProtocolError{Op: op, Reason: fmt.Sprintf("invalid result: %v", err)}
		}
	}
	return nil
}

func (s *Session) send(op string, args any) error {
	id := s.nextID
	s.nextID++
	return s.sendID(id, op, args)
}

func (s *Session) sendID(id int, op string, args any) error {
	if err := s.enc.Encode(request{ID: id, Op: op, Args: args}); err != nil {
		return &ProtocolError{Op: op, Reason: fmt.Sprintf("write failed: %v", err), Stderr: s.stderrTail()}
	}
	return nil
}

// read waits for the next response. A cancelled context kills the process,
// since the bridge cannot abort a running library call.
func (s *Session) read(ctx context.Context, op string) (*response, error) {
	type readResult struct {
		resp response
		err  error
	}
	ch := make(chan readResult, 1)
	go func() {
		var r response
		err := s.dec.Decode(&r)
		ch <- readResult{resp: r, err: err}
	}()

	select {
	case <-ctx.Done():
		s.kill()
		s.broken = true
		return nil, ctx.Err()
	case rr := <-ch:
		if rr.err != nil {
			reason := fmt.Sprintf("read failed: %v", rr.err)
			if errors.Is(rr.err, io.EOF) {
				reason = "interpreter exited"
			}
			return nil, &ProtocolError{Op: op, Reason: reason, Stderr: s.stderrTail()}
		}
		return &rr.resp, nil
	}
}

// abort kills the process and releases its pipes.
func (s *Session) abort() {
	s.kill()
	<-s.done
	_ = s.stdin.Close()
	_ = s.stdout.Close()
}

func (s *Session) kill() {
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
}

func (s *Session) drainStderr(r io.ReadCloser) {
	defer func() { _ = r.Close() }()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLineSize)
	for scanner.Scan() {
		line := scanner.Text()
		s.logger.Debug("interpreter stderr", zap.String("line", line))

		s.tailMu.Lock()
		s.tail = append(s.tail, line)
		if len(s.tail) > stderrTailLen {
			s.tail = s.tail[len(s.tail)-stderrTailLen:]
		}
		s.tailMu.Unlock()
	}
}

func (s *Session) stderrTail() []string {
	s.tailMu.Lock()
	defer s.tailMu.Unlock()
	return append([]string(nil), s.tail...)
}
