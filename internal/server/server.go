// Package server runs the single-threaded, non-blocking event loop: one
// listening socket, a POSIX poll set built fresh every iteration, and a
// small per-connection state machine (AwaitingRequest / Sending /
// Closed). All keyspace mutation happens on this one goroutine; the
// worker pool is the only other goroutine family, and it never touches
// connection state.
package server

import (
	"log"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/zond/nanokv"
	"github.com/zond/nanokv/internal/command"
	"github.com/zond/nanokv/internal/config"
	"github.com/zond/nanokv/internal/idlelist"
	"github.com/zond/nanokv/internal/keyspace"
	"github.com/zond/nanokv/internal/wire"
	"github.com/zond/nanokv/internal/workerpool"
)

type connState int

const (
	stateAwaitingRequest connState = iota
	stateSending
	stateClosed
)

// Connection is one client socket and its framing buffers. Buffers are
// bounded at 4+MaxMsg, matching the wire format's largest legal frame.
type Connection struct {
	fd    int
	id    string // for log correlation only; never sent on the wire
	state connState

	readBuf []byte
	readLen int

	writeBuf []byte
	writeOff int

	lastTouchMS int64
	idleNode    *idlelist.Node[*Connection]
}

// Server owns the listening socket, the keyspace, the worker pool, and
// every live Connection.
type Server struct {
	cfg        config.Config
	limits     wire.Limits
	listenFD   int
	ks         *keyspace.Keyspace
	pool       *workerpool.Pool
	dispatcher *command.Dispatcher
	idle       *idlelist.List[*Connection]
	conns      map[int]*Connection
	done       bool
}

// New binds and listens on cfg.ListenAddr, but does not yet accept
// connections or run the loop.
func New(cfg config.Config) (*Server, error) {
	fd, err := listenTCP(cfg.ListenAddr)
	if err != nil {
		return nil, nanokv.WithStack(err)
	}
	pool := workerpool.New(cfg.WorkerPoolSize)
	ks := keyspace.New(pool, cfg.RehashWork)
	return &Server{
		cfg:        cfg,
		limits:     wire.Limits{MaxMsg: cfg.MaxMsg, MaxArgs: cfg.MaxArgs},
		listenFD:   fd,
		ks:         ks,
		pool:       pool,
		dispatcher: command.New(ks),
		idle:       idlelist.New[*Connection](),
		conns:      map[int]*Connection{},
	}, nil
}

func listenTCP(addr string) (int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return -1, nanokv.WithStack(err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return -1, nanokv.WithStack(err)
	}
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, nanokv.WithStack(err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, nanokv.WithStack(err)
	}
	var sa unix.SockaddrInet4
	sa.Port = port
	if host != "" {
		ip := net.ParseIP(host)
		if ip == nil {
			unix.Close(fd)
			return -1, nanokv.WithStack(errInvalidAddr(addr))
		}
		copy(sa.Addr[:], ip.To4())
	}
	if err := unix.Bind(fd, &sa); err != nil {
		unix.Close(fd)
		return -1, nanokv.WithStack(err)
	}
	if err := unix.Listen(fd, 128); err != nil {
		unix.Close(fd)
		return -1, nanokv.WithStack(err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, nanokv.WithStack(err)
	}
	return fd, nil
}

type errInvalidAddr string

func (e errInvalidAddr) Error() string { return "server: invalid listen address " + string(e) }

// Shutdown requests that Run exit after finishing its current
// iteration, joining the worker pool before returning.
func (s *Server) Shutdown() { s.done = true }

// Run drives the event loop until Shutdown is called (directly, or by a
// client issuing the shutdown command) or an unrecoverable poll error
// occurs.
func (s *Server) Run() error {
	defer s.pool.Close()
	defer unix.Close(s.listenFD)

	for !s.done {
		fds := s.buildPollSet()
		timeoutMS := s.pollTimeoutMS()
		n, err := unix.Poll(fds, timeoutMS)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return nanokv.WithStack(err)
		}
		if n > 0 {
			s.handleReady(fds)
		}
		s.runTimerPass()
		if fds[0].Revents&unix.POLLIN != 0 {
			s.acceptNew()
		}
		if s.dispatcher.ShutdownRequested {
			s.done = true
		}
	}
	return nil
}

func (s *Server) buildPollSet() []unix.PollFd {
	fds := make([]unix.PollFd, 1, 1+len(s.conns))
	fds[0] = unix.PollFd{Fd: int32(s.listenFD), Events: unix.POLLIN}
	for _, c := range s.conns {
		var ev int16 = unix.POLLIN
		if c.state == stateSending {
			ev = unix.POLLOUT
		}
		fds = append(fds, unix.PollFd{Fd: int32(c.fd), Events: ev})
	}
	return fds
}

func (s *Server) pollTimeoutMS() int {
	const maxWaitMS = 10_000
	timeout := maxWaitMS
	if front := s.idle.Front(); front != nil {
		remaining := int(front.Value.idleDeadlineMS(s.cfg.IdleTimeoutMS) - nowMS())
		if remaining < timeout {
			timeout = remaining
		}
	}
	if deadline, ok := s.ks.NextDeadline(); ok {
		remaining := int((int64(deadline) - int64(nowMicros())) / 1000)
		if remaining < timeout {
			timeout = remaining
		}
	}
	if timeout < 0 {
		timeout = 0
	}
	return timeout
}

func (c *Connection) idleDeadlineMS(idleTimeoutMS int) int64 {
	return c.lastTouchMS + int64(idleTimeoutMS)
}

func nowMS() int64 { return time.Now().UnixMilli() }

func nowMicros() uint64 { return uint64(time.Now().UnixMicro()) }

func (s *Server) handleReady(fds []unix.PollFd) {
	for _, pfd := range fds[1:] {
		if pfd.Revents == 0 {
			continue
		}
		c, ok := s.conns[int(pfd.Fd)]
		if !ok {
			continue
		}
		if pfd.Revents&(unix.POLLERR|unix.POLLHUP) != 0 && pfd.Revents&(unix.POLLIN|unix.POLLOUT) == 0 {
			s.closeConn(c)
			continue
		}
		c.lastTouchMS = nowMS()
		s.idle.Touch(c.idleNode)
		s.driveConnection(c)
		if c.state == stateClosed {
			s.closeConn(c)
		}
	}
}

func (s *Server) driveConnection(c *Connection) {
	switch c.state {
	case stateAwaitingRequest:
		s.driveAwaitingRequest(c)
	case stateSending:
		s.driveSending(c)
	}
}

func (s *Server) driveAwaitingRequest(c *Connection) {
	for {
		if c.readLen == len(c.readBuf) {
			break
		}
		n, err := unix.Read(c.fd, c.readBuf[c.readLen:])
		if err != nil {
			if err == unix.EAGAIN {
				break
			}
			if err == unix.EINTR {
				continue
			}
			c.state = stateClosed
			return
		}
		if n == 0 {
			c.state = stateClosed
			return
		}
		c.readLen += n
	}

	args, consumed, err := wire.ReadRequest(c.readBuf[:c.readLen], s.limits)
	if err != nil {
		c.state = stateClosed
		return
	}
	if consumed == 0 {
		return
	}

	reply := s.dispatcher.Dispatch(nowMicros(), args)
	c.writeBuf = wire.Encode(reply, s.limits)
	c.writeOff = 0

	copy(c.readBuf, c.readBuf[consumed:c.readLen])
	c.readLen -= consumed

	c.state = stateSending
	s.driveSending(c)
}

func (s *Server) driveSending(c *Connection) {
	for c.writeOff < len(c.writeBuf) {
		n, err := unix.Write(c.fd, c.writeBuf[c.writeOff:])
		if err != nil {
			if err == unix.EAGAIN {
				return
			}
			if err == unix.EINTR {
				continue
			}
			c.state = stateClosed
			return
		}
		c.writeOff += n
	}
	c.writeBuf = nil
	c.writeOff = 0
	c.state = stateAwaitingRequest
}

func (s *Server) runTimerPass() {
	now := nowMS()
	for {
		front := s.idle.Front()
		if front == nil {
			break
		}
		c := front.Value
		if now-c.lastTouchMS < int64(s.cfg.IdleTimeoutMS) {
			break
		}
		s.closeConn(c)
	}
	s.ks.SweepExpired(nowMicros(), s.cfg.MaxTTLWorks)
}

func (s *Server) acceptNew() {
	for {
		nfd, _, err := unix.Accept(s.listenFD)
		if err != nil {
			if err == unix.EAGAIN {
				return
			}
			if err == unix.EINTR {
				continue
			}
			log.Printf("server: accept: %v", nanokv.WithStack(err))
			return
		}
		if err := unix.SetNonblock(nfd, true); err != nil {
			log.Printf("server: set nonblocking: %v", nanokv.WithStack(err))
			unix.Close(nfd)
			continue
		}
		c := &Connection{
			fd:          nfd,
			id:          uuid.NewString(),
			state:       stateAwaitingRequest,
			readBuf:     make([]byte, 4+s.cfg.MaxMsg),
			lastTouchMS: nowMS(),
		}
		c.idleNode = s.idle.PushBack(c)
		s.conns[nfd] = c
		log.Printf("server: accepted connection %s", c.id)
	}
}

func (s *Server) closeConn(c *Connection) {
	unix.Close(c.fd)
	s.idle.Remove(c.idleNode)
	delete(s.conns, c.fd)
	log.Printf("server: closed connection %s", c.id)
}
