package navigation

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	goutils "go.viam.com/utils"

	"github.com/armgaze/armgaze/logging"
	"github.com/armgaze/armgaze/utils"
)

var (
	// InitialReconnectWait is the wait after the first failed dial; it doubles up to MaxReconnectWait.
	// public for tests.
	InitialReconnectWait = 250 * time.Millisecond
	// MaxReconnectWait caps the reconnect backoff.
	MaxReconnectWait = 10 * time.Second
)

const eventBufferSize = 16

// Config locates the status relay.
type Config struct {
	Address string `json:"address"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.Address == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "address")
	}
	if _, _, err := net.SplitHostPort(cfg.Address); err != nil {
		return goutils.NewConfigValidationError(path, err)
	}
	return nil
}

// statusLine is one line of the relay's output.
type statusLine struct {
	Mode   string `json:"mode"`
	Status string `json:"status"`
}

// TCPSource reads newline-delimited JSON status lines from the autonomy server's status relay.
// A line that repeats the previous (mode, status) pair is dropped, including across reconnects, so a
// relay that replays its current status after a reconnect does not trigger the same goal twice.
type TCPSource struct {
	addr   string
	logger logging.Logger
	dialer net.Dialer

	events    chan Event
	workers   utils.StoppableWorkers
	connected atomic.Bool
	closeOnce sync.Once

	// only touched by the worker
	last statusLine
}

var _ Source = (*TCPSource)(nil)

// NewTCPSource starts connecting to the relay in the background and keeps reconnecting until Close.
func NewTCPSource(cfg Config, logger logging.Logger) *TCPSource {
	s := &TCPSource{
		addr:   cfg.Address,
		logger: logger,
		events: make(chan Event, eventBufferSize),
	}
	s.workers = utils.NewStoppableWorkers(s.run)
	return s
}

// Events returns the event stream.
func (s *TCPSource) Events() <-chan Event {
	return s.events
}

// Connected reports whether the relay connection is currently up.
func (s *TCPSource) Connected() bool {
	return s.connected.Load()
}

// Close stops reconnecting, closes the connection and then closes Events.
func (s *TCPSource) Close() error {
	s.closeOnce.Do(func() {
		s.workers.Stop()
		close(s.events)
	})
	return nil
}

func (s *TCPSource) run(ctx context.Context) {
	wait := InitialReconnectWait
	for {
		conn, err := s.dialer.DialContext(ctx, "tcp", s.addr)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warnw("cannot reach navigation status relay", "address", s.addr, "error", err, "retry_in", wait)
			if !goutils.SelectContextOrWait(ctx, wait) {
				return
			}
			wait = min(wait*2, MaxReconnectWait)
			continue
		}

		wait = InitialReconnectWait
		s.connected.Store(true)
		s.logger.Infow("connected to navigation status relay", "address", s.addr)
		err = s.readLines(ctx, conn)
		s.connected.Store(false)
		if ctx.Err() != nil {
			return
		}
		s.logger.Warnw("navigation status relay disconnected", "address", s.addr, "error", err)
	}
}

func (s *TCPSource) readLines(ctx context.Context, conn net.Conn) error {
	stop := context.AfterFunc(ctx, func() {
		goutils.UncheckedError(conn.Close())
	})
	defer func() {
		if stop() {
			goutils.UncheckedError(conn.Close())
		}
	}()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg statusLine
		if err := json.Unmarshal(line, &msg); err != nil {
			s.logger.Warnw("ignoring malformed status line", "line", string(line), "error", err)
			continue
		}
		if msg == s.last {
			continue
		}
		s.last = msg

		ev := ParseStatus(msg.Mode, msg.Status)
		s.logger.Debugw("navigation status", "mode", msg.Mode, "status", msg.Status, "kind", ev.Kind.String())
		select {
		case s.events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "reading status relay")
	}
	return io.EOF
}
