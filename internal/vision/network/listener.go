package network

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/banshee-data/loiter.report/internal/timeutil"
)

// readTimeout bounds each read so the loop notices cancellation.
const readTimeout = 100 * time.Millisecond

// UDPListener reads one encoded batch per datagram and hands it to a
// PacketHandler.
type UDPListener struct {
	address       string
	rcvBuf        int
	logInterval   time.Duration
	handler       PacketHandler
	socketFactory UDPSocketFactory
	logStats      func()
	clock         timeutil.Clock

	mu    sync.Mutex
	conn  UDPSocket
	ready chan net.Addr
}

// UDPListenerConfig configures a UDPListener.
type UDPListenerConfig struct {
	Address     string
	RcvBuf      int
	LogInterval time.Duration
	Handler     PacketHandler

	// SocketFactory defaults to RealUDPSocketFactory.
	SocketFactory UDPSocketFactory
	// LogStats is called every LogInterval. Optional.
	LogStats func()
	// Clock drives the stats ticker. Defaults to timeutil.RealClock.
	// Socket read deadlines always use the wall clock.
	Clock timeutil.Clock
}

// NewUDPListener creates a listener. Start opens the socket.
func NewUDPListener(config UDPListenerConfig) *UDPListener {
	logInterval := config.LogInterval
	if logInterval <= 0 {
		logInterval = time.Minute
	}
	clock := config.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	factory := config.SocketFactory
	if factory == nil {
		factory = RealUDPSocketFactory{}
	}
	logStats := config.LogStats
	if logStats == nil {
		logStats = func() {}
	}
	return &UDPListener{
		address:       config.Address,
		rcvBuf:        config.RcvBuf,
		logInterval:   logInterval,
		handler:       config.Handler,
		socketFactory: factory,
		logStats:      logStats,
		clock:         clock,
		ready:         make(chan net.Addr, 1),
	}
}

// Ready receives the bound local address once Start has opened the socket.
func (l *UDPListener) Ready() <-chan net.Addr {
	return l.ready
}

// Start listens until ctx is cancelled. It returns ctx.Err() on a clean
// shutdown.
func (l *UDPListener) Start(ctx context.Context) error {
	if l.handler == nil {
		return errors.New("udp listener: no packet handler")
	}
	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := l.socketFactory.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()
	defer conn.Close()

	if l.rcvBuf > 0 {
		if err := conn.SetReadBuffer(l.rcvBuf); err != nil {
			log.Printf("Warning: failed to set UDP receive buffer to %d: %v", l.rcvBuf, err)
		}
	}

	log.Printf("Listening for metadata batches on %s", conn.LocalAddr())
	l.ready <- conn.LocalAddr()

	buf := make([]byte, 64*1024)
	ticker := l.clock.NewTicker(l.logInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			l.logStats()
		default:
		}

		if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("UDP read error: %v", err)
			continue
		}
		if n == 0 {
			continue
		}
		if err := l.handler.HandlePacket(buf[:n]); err != nil {
			log.Printf("Dropping batch from %s: %v", from, err)
		}
	}
}

// Close closes the socket if Start opened one.
func (l *UDPListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return l.conn.Close()
	}
	return nil
}
