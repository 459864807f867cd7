// Package server is the single-threaded broadcast fan-out: one epoll
// loop owns the listener, the tick generator, the connection table and
// every socket write. Slow consumers lose records instead of stalling
// the feed.
package server

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/peter-kozarec/feedsim/pkg/synth"
	"github.com/peter-kozarec/feedsim/pkg/wire"
)

const (
	maxEpollEvents = 64
	pollTimeoutMS  = 1
)

// Config carries the startup parameters. Validation happens in New so
// a misconfigured server never reaches Start.
type Config struct {
	Port     int
	TickRate uint32
}

type client struct {
	fd           int
	id           uuid.UUID
	remote       string
	messagesSent uint64
	bytesSent    uint64
}

// Server broadcasts synthesized ticks to every connected consumer.
// All methods except the counter accessors must be called from the
// goroutine that owns Run.
type Server struct {
	logger *zap.Logger
	gen    *synth.Generator

	port         int
	tickRate     uint32
	tickInterval time.Duration
	lastTick     time.Time

	listenFD int
	epollFD  int
	running  atomic.Bool

	clients    []client
	nextSymbol int

	scratch [wire.QuoteSize]byte

	// Incremented once per broadcast while at least one client is
	// connected; they count records generated for delivery, not
	// per-client deliveries.
	totalMessagesSent atomic.Uint64
	totalBytesSent    atomic.Uint64

	connectedClients atomic.Int64
}

// New wires a generator to a broadcast loop. The generator must not be
// shared with any other goroutine.
func New(logger *zap.Logger, gen *synth.Generator, cfg Config) (*Server, error) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("port %d out of range [0, 65535]", cfg.Port)
	}
	if cfg.TickRate == 0 {
		return nil, fmt.Errorf("tick rate must be positive")
	}
	if gen.NumSymbols() == 0 {
		return nil, fmt.Errorf("generator has no symbols")
	}

	return &Server{
		logger:       logger,
		gen:          gen,
		port:         cfg.Port,
		tickRate:     cfg.TickRate,
		tickInterval: time.Second / time.Duration(cfg.TickRate),
		listenFD:     -1,
		epollFD:      -1,
	}, nil
}

// Start binds the listener and registers it with the readiness loop.
func (s *Server) Start() error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("socket: %w", err)
	}

	if err := setSocketOptions(fd); err != nil {
		_ = unix.Close(fd)
		return err
	}

	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: s.port}); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("bind port %d: %w", s.port, err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("listen: %w", err)
	}

	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("epoll_create1: %w", err)
	}

	ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLET, Fd: int32(fd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		_ = unix.Close(epfd)
		_ = unix.Close(fd)
		return fmt.Errorf("epoll_ctl add listener: %w", err)
	}

	s.listenFD = fd
	s.epollFD = epfd
	s.lastTick = time.Now()
	s.running.Store(true)

	s.logger.Info("server started",
		zap.Int("port", s.Port()),
		zap.Int("symbols", s.gen.NumSymbols()),
		zap.Uint32("tick_rate", s.tickRate),
		zap.Duration("tick_interval", s.tickInterval))
	return nil
}

// Run drives the loop until ctx is cancelled or the listener dies,
// then tears the server down. The server is unusable afterwards.
func (s *Server) Run(ctx context.Context) {
	defer s.Stop()

	for s.running.Load() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.runOnce()
	}
}

// runOnce is a single loop iteration: poll, accept, pace one tick.
func (s *Server) runOnce() {
	var events [maxEpollEvents]unix.EpollEvent

	n, err := unix.EpollWait(s.epollFD, events[:], pollTimeoutMS)
	if err != nil {
		if err != unix.EINTR {
			s.logger.Error("epoll_wait failed", zap.Error(err))
		}
		return
	}

	for i := 0; i < n; i++ {
		fd := int(events[i].Fd)

		if events[i].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			if fd == s.listenFD {
				s.logger.Error("listen socket failed, stopping")
				s.running.Store(false)
				return
			}
			s.disconnectFD(fd)
			continue
		}

		if fd == s.listenFD && events[i].Events&unix.EPOLLIN != 0 {
			s.acceptPending()
		}
	}

	if time.Since(s.lastTick) >= s.tickInterval {
		s.broadcastTick()
		s.lastTick = time.Now()
	}
}

// Stop closes every client, the multiplexer and the listener.
func (s *Server) Stop() {
	if !s.running.Swap(false) && s.listenFD < 0 {
		return
	}

	for i := range s.clients {
		_ = unix.Close(s.clients[i].fd)
	}
	s.clients = nil
	s.connectedClients.Store(0)

	if s.epollFD >= 0 {
		_ = unix.Close(s.epollFD)
		s.epollFD = -1
	}
	if s.listenFD >= 0 {
		_ = unix.Close(s.listenFD)
		s.listenFD = -1
	}

	s.logger.Info("server stopped",
		zap.Uint64("total_messages_sent", s.totalMessagesSent.Load()),
		zap.Uint64("total_bytes_sent", s.totalBytesSent.Load()))
}

// acceptPending drains the listener; edge-triggered notification only
// reports the transition, so stopping early would lose connections.
func (s *Server) acceptPending() {
	for {
		fd, sa, err := unix.Accept(s.listenFD)
		if err != nil {
			if err != unix.EAGAIN {
				s.logger.Warn("accept failed", zap.Error(err))
			}
			return
		}

		if err := unix.SetNonblock(fd, true); err != nil {
			s.logger.Warn("set nonblock failed", zap.Error(err))
			_ = unix.Close(fd)
			continue
		}
		if err := setSocketOptions(fd); err != nil {
			s.logger.Warn("client socket options failed", zap.Error(err))
			_ = unix.Close(fd)
			continue
		}

		c := client{fd: fd, id: uuid.Must(uuid.NewV7()), remote: sockaddrString(sa)}
		s.clients = append(s.clients, c)
		s.connectedClients.Store(int64(len(s.clients)))

		s.logger.Info("client connected",
			zap.String("conn_id", c.id.String()),
			zap.String("remote", c.remote),
			zap.Int("clients", len(s.clients)))
	}
}

// broadcastTick advances the round-robin cursor, asks the generator
// for one record and fans it out.
func (s *Server) broadcastTick() {
	symbolID := uint16(s.nextSymbol)
	s.nextSymbol = (s.nextSymbol + 1) % s.gen.NumSymbols()

	hdr, kind := s.gen.Emit(symbolID)

	var n int
	if kind == wire.MsgTrade {
		t := wire.Trade{Header: hdr}
		s.gen.FillTrade(symbolID, &t)
		n = wire.EncodeTrade(s.scratch[:], t)
	} else {
		q := wire.Quote{Header: hdr}
		s.gen.FillQuote(symbolID, &q)
		n = wire.EncodeQuote(s.scratch[:], q)
	}

	s.broadcast(s.scratch[:n])
}

// broadcast attempts one non-blocking write per client. EAGAIN drops
// the record for that client and keeps the connection; any other
// failure or short write disconnects it. Iteration does not advance
// past a removal because the last slot is swapped in.
func (s *Server) broadcast(rec []byte) {
	if len(s.clients) == 0 {
		return
	}

	for i := 0; i < len(s.clients); {
		c := &s.clients[i]

		sent, err := unix.Write(c.fd, rec)
		if err == unix.EAGAIN {
			i++
			continue
		}
		if err != nil || sent != len(rec) {
			s.removeClient(i, err)
			continue
		}

		c.messagesSent++
		c.bytesSent += uint64(len(rec))
		i++
	}

	s.totalMessagesSent.Add(1)
	s.totalBytesSent.Add(uint64(len(rec)))
}

// removeClient closes slot i and swap-pops the table.
func (s *Server) removeClient(i int, cause error) {
	c := s.clients[i]
	_ = unix.Close(c.fd)

	s.logger.Info("client disconnected",
		zap.String("conn_id", c.id.String()),
		zap.String("remote", c.remote),
		zap.Uint64("messages_sent", c.messagesSent),
		zap.Uint64("bytes_sent", c.bytesSent),
		zap.Error(cause))

	last := len(s.clients) - 1
	s.clients[i] = s.clients[last]
	s.clients = s.clients[:last]
	s.connectedClients.Store(int64(len(s.clients)))
}

func (s *Server) disconnectFD(fd int) {
	for i := range s.clients {
		if s.clients[i].fd == fd {
			s.removeClient(i, nil)
			return
		}
	}
}

// Port reports the bound port; useful when configured with an
// ephemeral port.
func (s *Server) Port() int {
	if s.listenFD < 0 {
		return s.port
	}
	sa, err := unix.Getsockname(s.listenFD)
	if err != nil {
		return s.port
	}
	if in4, ok := sa.(*unix.SockaddrInet4); ok {
		return in4.Port
	}
	return s.port
}

func (s *Server) TotalMessagesSent() uint64 { return s.totalMessagesSent.Load() }
func (s *Server) TotalBytesSent() uint64    { return s.totalBytesSent.Load() }
func (s *Server) ConnectedClients() int     { return int(s.connectedClients.Load()) }

func setSocketOptions(fd int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
		return fmt.Errorf("setsockopt TCP_NODELAY: %w", err)
	}
	return nil
}

func sockaddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return fmt.Sprintf("%d.%d.%d.%d:%d", a.Addr[0], a.Addr[1], a.Addr[2], a.Addr[3], a.Port)
	case *unix.SockaddrInet6:
		return fmt.Sprintf("[%x]:%d", a.Addr, a.Port)
	default:
		return "unknown"
	}
}
