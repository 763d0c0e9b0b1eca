package network

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync/atomic"
	"time"

	"github.com/banshee-data/loiter.report/internal/timeutil"
)

// DefaultForwardQueue is the number of payloads buffered for forwarding.
const DefaultForwardQueue = 1000

// PacketForwarder relays raw metadata payloads to a downstream UDP
// consumer without blocking ingest. Payloads are dropped when the queue is
// full.
type PacketForwarder struct {
	conn        net.Conn
	channel     chan []byte
	logInterval time.Duration
	address     string
	clock       timeutil.Clock

	dropped atomic.Uint64
	failed  atomic.Uint64
}

// NewPacketForwarder dials address ("host:port") over UDP. A nil clock
// means timeutil.RealClock.
func NewPacketForwarder(address string, logInterval time.Duration, clock timeutil.Clock) (*PacketForwarder, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("resolve forward address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("dial forward address: %w", err)
	}
	return newPacketForwarder(conn, address, logInterval, clock), nil
}

func newPacketForwarder(conn net.Conn, address string, logInterval time.Duration, clock timeutil.Clock) *PacketForwarder {
	if logInterval <= 0 {
		logInterval = time.Minute
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &PacketForwarder{
		conn:        conn,
		channel:     make(chan []byte, DefaultForwardQueue),
		logInterval: logInterval,
		address:     address,
		clock:       clock,
	}
}

// Start runs the write loop until ctx is cancelled.
func (f *PacketForwarder) Start(ctx context.Context) {
	go func() {
		var failedInterval uint64
		var lastError error
		ticker := f.clock.NewTicker(f.logInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case packet := <-f.channel:
				if _, err := f.conn.Write(packet); err != nil {
					f.failed.Add(1)
					failedInterval++
					lastError = err
				}
			case <-ticker.C():
				if failedInterval > 0 {
					log.Printf("Failed to forward %d payloads to %s (latest: %v)", failedInterval, f.address, lastError)
					failedInterval = 0
					lastError = nil
				}
				if d := f.dropped.Swap(0); d > 0 {
					log.Printf("Dropped %d forwarded payloads, queue full", d)
				}
			}
		}
	}()
	log.Printf("Forwarding metadata to %s", f.address)
}

// ForwardAsync queues a copy of packet. It reports false when the payload
// was dropped.
func (f *PacketForwarder) ForwardAsync(packet []byte) bool {
	cp := make([]byte, len(packet))
	copy(cp, packet)
	select {
	case f.channel <- cp:
		return true
	default:
		f.dropped.Add(1)
		return false
	}
}

// Failed returns the number of payloads whose write returned an error.
func (f *PacketForwarder) Failed() uint64 {
	return f.failed.Load()
}

// Close closes the connection. Start's goroutine must already be stopped
// through its context.
func (f *PacketForwarder) Close() error {
	return f.conn.Close()
}
