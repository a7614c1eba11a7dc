package control

import (
	"context"
	"net"
	"sync"

	"github.com/hypebeast/go-osc/osc"
	"github.com/pkg/errors"

	"go-rfu/debug"
)

const maxPacketSize = 65535

// Server reads OSC datagrams and hands each message to the dispatcher, one
// at a time in arrival order.
type Server struct {
	d    *Dispatcher
	conn net.PacketConn

	mu        sync.Mutex
	started   bool
	closed    bool
	closeOnce sync.Once
	done      chan struct{}
}

// Listen binds a UDP socket on addr (host:port)
func Listen(addr string, d *Dispatcher) (*Server, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen %s", addr)
	}
	return NewServer(conn, d), nil
}

// NewServer serves an existing packet connection
func NewServer(conn net.PacketConn, d *Dispatcher) *Server {
	return &Server{
		d:    d,
		conn: conn,
		done: make(chan struct{}),
	}
}

// Addr returns the bound local address
func (s *Server) Addr() net.Addr {
	return s.conn.LocalAddr()
}

// Serve blocks until ctx is cancelled or Close is called. After Close it
// returns immediately.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()
	defer close(s.done)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			s.closeConn()
		case <-stop:
		}
	}()

	log := debug.With("server")
	log.Infof("listening on %s", s.conn.LocalAddr())

	buf := make([]byte, maxPacketSize)
	for {
		n, from, err := s.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				log.Info("receiver closed")
				return nil
			}
			return errors.Wrap(err, "read packet")
		}

		packet, err := osc.ParsePacket(string(buf[:n]))
		if err != nil {
			log.WithField("from", from.String()).Warnf("undecodable packet: %v", err)
			continue
		}
		s.dispatch(hostOf(from), packet)
	}
}

func (s *Server) dispatch(endpoint string, packet osc.Packet) {
	switch p := packet.(type) {
	case *osc.Message:
		s.d.Dispatch(endpoint, p.Address, p.Arguments)
	case *osc.Bundle:
		for _, m := range p.Messages {
			s.d.Dispatch(endpoint, m.Address, m.Arguments)
		}
		for _, b := range p.Bundles {
			s.dispatch(endpoint, b)
		}
	}
}

// Close stops the receiver and, if Serve is running, waits for the message
// in flight to finish
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	started := s.started
	s.mu.Unlock()

	s.closeConn()
	if started {
		<-s.done
	}
	return nil
}

func (s *Server) closeConn() {
	s.closeOnce.Do(func() {
		s.conn.Close()
	})
}

func hostOf(addr net.Addr) string {
	if udp, ok := addr.(*net.UDPAddr); ok {
		return udp.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
