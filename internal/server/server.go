// Package server accepts client connections and runs one channel per
// connection.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/banshee-data/accel.relay/internal/channel"
	"github.com/banshee-data/accel.relay/internal/monitoring"
)

// Config configures a Server.
type Config struct {
	Address string
	Factory *channel.Factory
	Log     *log.Entry
}

// SessionInfo describes one live session.
type SessionInfo struct {
	channel.Stats
	Remote  string    `json:"remote"`
	Started time.Time `json:"started"`
}

// Counters are server-lifetime totals.
type Counters struct {
	Accepted  uint64 `json:"accepted"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
}

type session struct {
	ch      *channel.Channel
	remote  string
	started time.Time
}

// Server is the relay's TCP front end.
type Server struct {
	cfg Config
	log *log.Entry

	mu       sync.Mutex
	listener net.Listener
	sessions map[string]*session

	accepted  atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	wg        sync.WaitGroup
}

// New validates cfg and returns an unstarted Server.
func New(cfg Config) (*Server, error) {
	if cfg.Factory == nil {
		return nil, errors.New("server: factory is required")
	}
	if cfg.Log == nil {
		cfg.Log = monitoring.Logger("server")
	}
	return &Server{cfg: cfg, log: cfg.Log, sessions: make(map[string]*session)}, nil
}

// Listen binds the configured address. Serve calls it if needed.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}
	l, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Address, err)
	}
	s.listener = l
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until ctx is cancelled, then closes the
// listener, cancels every session and waits for them to finish.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()
	defer s.wg.Wait()

	s.log.Infof("listening on %s", l.Addr())
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.log.WithError(err).Warn("accept")
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.accepted.Add(1)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, conn)
		}()
	}
}

func (s *Server) handle(parent context.Context, conn net.Conn) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	id := uuid.NewString()
	remote := conn.RemoteAddr().String()
	tr := channel.NewConnTransport(conn, cancel)
	defer tr.Close()

	ch := s.cfg.Factory.Open(id)
	defer s.cfg.Factory.Close(ch)

	s.mu.Lock()
	s.sessions[id] = &session{ch: ch, remote: remote, started: time.Now()}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
	}()

	l := s.log.WithFields(log.Fields{"session": id, "remote": remote})
	l.Info("session started")
	err := ch.Serve(ctx, tr)
	st := ch.Stats()
	l = l.WithFields(log.Fields{"mode": st.Mode, "frames": st.Frames, "bytes": st.Bytes})
	if err != nil {
		s.failed.Add(1)
		l.WithError(err).Debug("session ended with error")
		return
	}
	s.completed.Add(1)
	l.Info("session ended")
}

// Sessions lists live sessions, oldest first.
func (s *Server) Sessions() []SessionInfo {
	s.mu.Lock()
	out := make([]SessionInfo, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, SessionInfo{Stats: sess.ch.Stats(), Remote: sess.remote, Started: sess.started})
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Started.Before(out[j].Started) })
	return out
}

// Counters returns server-lifetime totals.
func (s *Server) Counters() Counters {
	return Counters{
		Accepted:  s.accepted.Load(),
		Completed: s.completed.Load(),
		Failed:    s.failed.Load(),
	}
}
