package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/banshee-data/loiter.report/internal/timeutil"
	"github.com/banshee-data/loiter.report/internal/vision/l3loiter"
	"github.com/banshee-data/loiter.report/internal/vision/pipeline"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// mockUDPSocket serves queued datagrams and honours read deadlines.
type mockUDPSocket struct {
	packets chan []byte
	closed  chan struct{}
	once    sync.Once

	mu       sync.Mutex
	deadline time.Time
	rcvBuf   int
}

func newMockUDPSocket() *mockUDPSocket {
	return &mockUDPSocket{packets: make(chan []byte, 16), closed: make(chan struct{})}
}

func (m *mockUDPSocket) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	m.mu.Lock()
	wait := time.Until(m.deadline)
	m.mu.Unlock()
	if wait <= 0 {
		wait = time.Millisecond
	}
	select {
	case p := <-m.packets:
		return copy(b, p), &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5000}, nil
	case <-m.closed:
		return 0, nil, net.ErrClosed
	case <-time.After(wait):
		return 0, nil, timeoutError{}
	}
}

func (m *mockUDPSocket) SetReadBuffer(n int) error {
	m.mu.Lock()
	m.rcvBuf = n
	m.mu.Unlock()
	return nil
}

func (m *mockUDPSocket) SetReadDeadline(t time.Time) error {
	m.mu.Lock()
	m.deadline = t
	m.mu.Unlock()
	return nil
}

func (m *mockUDPSocket) Close() error {
	m.once.Do(func() { close(m.closed) })
	return nil
}

func (m *mockUDPSocket) LocalAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9000}
}

type mockFactory struct {
	sock *mockUDPSocket
	err  error
}

func (f *mockFactory) ListenUDP(string, *net.UDPAddr) (UDPSocket, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.sock, nil
}

func newRegistry(t *testing.T) *pipeline.Registry {
	t.Helper()
	cfg := pipeline.DefaultProcessorConfig()
	cfg.Classifier.Capacity = 4
	cfg.Classifier.Cadence = 4
	reg, err := pipeline.NewRegistry(cfg)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

func frameJSON(source string, n uint64, left float64) string {
	return fmt.Sprintf(`{"source_id":%q,"frame_num":%d,"objects":[{"class_id":2,"box":{"left":%g,"top":0,"width":10,"height":20}}]}`,
		source, n, left)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestIngestor_HandlePacket(t *testing.T) {
	reg := newRegistry(t)
	ing := NewIngestor(reg, nil, nil)

	batch := `{"frames":[` + frameJSON("cam-1", 0, 10) + `,` + frameJSON("cam-1", 1, 10) + `]}`
	if err := ing.HandlePacket([]byte(batch)); err != nil {
		t.Fatalf("HandlePacket: %v", err)
	}
	if err := ing.HandlePacket([]byte("not json")); err == nil {
		t.Error("expected decode error")
	}

	s := ing.Stats()
	if s.Packets != 2 || s.Frames != 2 || s.DecodeErrors != 1 || s.ProcessErrors != 0 {
		t.Errorf("stats = %+v", s)
	}
	if s.Bytes != uint64(len(batch)+len("not json")) {
		t.Errorf("bytes = %d", s.Bytes)
	}
	if ids := reg.StreamIDs(); len(ids) != 1 || ids[0] != "cam-1" {
		t.Errorf("stream ids = %v", ids)
	}
	ing.LogStats()
}

func TestUDPListener_DeliversBatches(t *testing.T) {
	reg := newRegistry(t)
	ing := NewIngestor(reg, nil, nil)
	sock := newMockUDPSocket()
	l := NewUDPListener(UDPListenerConfig{
		Address:       "127.0.0.1:0",
		RcvBuf:        1 << 20,
		LogInterval:   10 * time.Millisecond,
		Handler:       ing,
		SocketFactory: &mockFactory{sock: sock},
		LogStats:      ing.LogStats,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Start(ctx) }()

	select {
	case addr := <-l.Ready():
		if addr.String() != "127.0.0.1:9000" {
			t.Errorf("ready addr = %v", addr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("listener never became ready")
	}

	for n := uint64(0); n <= 4; n++ {
		sock.packets <- []byte(frameJSON("cam-udp", n, 7))
	}
	sock.packets <- []byte("{broken")

	waitFor(t, func() bool {
		s := ing.Stats()
		return s.Frames == 5 && s.DecodeErrors == 1
	})

	snap, ok := reg.Snapshot("cam-udp")
	if !ok {
		t.Fatal("cam-udp missing")
	}
	if snap.State.Decision != l3loiter.Loitering {
		t.Errorf("decision = %v, want Loitering", snap.State.Decision)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Start returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
	sock.mu.Lock()
	if sock.rcvBuf != 1<<20 {
		t.Errorf("receive buffer = %d", sock.rcvBuf)
	}
	sock.mu.Unlock()
	if err := l.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestUDPListener_Errors(t *testing.T) {
	l := NewUDPListener(UDPListenerConfig{Address: "127.0.0.1:0"})
	if err := l.Start(context.Background()); err == nil {
		t.Error("expected error without a handler")
	}

	l = NewUDPListener(UDPListenerConfig{
		Address:       "127.0.0.1:0",
		Handler:       NewIngestor(newRegistry(t), nil, nil),
		SocketFactory: &mockFactory{err: errors.New("address in use")},
	})
	if err := l.Start(context.Background()); err == nil || !strings.Contains(err.Error(), "address in use") {
		t.Errorf("Start = %v, want listen error", err)
	}

	l = NewUDPListener(UDPListenerConfig{Address: "127.0.0.1:notaport", Handler: NewIngestor(newRegistry(t), nil, nil)})
	if err := l.Start(context.Background()); err == nil {
		t.Error("expected resolve error")
	}
	if err := l.Close(); err != nil {
		t.Errorf("Close before open: %v", err)
	}

	sock := newMockUDPSocket()
	l = NewUDPListener(UDPListenerConfig{
		Address:       "127.0.0.1:0",
		LogInterval:   -time.Second,
		Handler:       NewIngestor(newRegistry(t), nil, nil),
		SocketFactory: &mockFactory{sock: sock},
	})
	if l.logInterval != time.Minute {
		t.Errorf("negative log interval = %v, want %v", l.logInterval, time.Minute)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Start(ctx) }()
	select {
	case <-l.Ready():
	case err := <-done:
		t.Fatalf("Start returned early: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("listener never became ready")
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Start returned %v, want context.Canceled", err)
	}
}

func TestUDPListener_LogsStatsOnClockTicks(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1_700_000_000, 0))
	var calls atomic.Int32
	l := NewUDPListener(UDPListenerConfig{
		Address:       "127.0.0.1:0",
		LogInterval:   time.Hour,
		Handler:       NewIngestor(newRegistry(t), nil, clock),
		SocketFactory: &mockFactory{sock: newMockUDPSocket()},
		LogStats:      func() { calls.Add(1) },
		Clock:         clock,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Start(ctx) }()
	<-l.Ready()

	// No wall-clock hour passes, so only the mock clock can fire the ticker.
	time.Sleep(20 * time.Millisecond)
	if n := calls.Load(); n != 0 {
		t.Errorf("LogStats called %d times before the clock advanced", n)
	}
	waitFor(t, func() bool {
		clock.Advance(time.Hour)
		return calls.Load() > 0
	})

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Start returned %v, want context.Canceled", err)
	}
}

func TestIngestor_FrameRate(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1_700_000_000, 0))
	ing := NewIngestor(newRegistry(t), nil, clock)

	for n := uint64(0); n < 10; n++ {
		if err := ing.HandlePacket([]byte(frameJSON("cam-rate", n, 1))); err != nil {
			t.Fatalf("HandlePacket: %v", err)
		}
	}
	clock.Advance(2 * time.Second)
	if got := ing.FrameRate(); got != 5 {
		t.Errorf("rate = %v, want 5", got)
	}

	// The next interval starts where the last one ended.
	clock.Advance(time.Second)
	if got := ing.FrameRate(); got != 0 {
		t.Errorf("rate with no new frames = %v, want 0", got)
	}
	if got := ing.FrameRate(); got != 0 {
		t.Errorf("rate over zero elapsed = %v, want 0", got)
	}
	ing.LogStats()
}

func TestPacketForwarder(t *testing.T) {
	recv, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer recv.Close()

	fwd, err := NewPacketForwarder(recv.LocalAddr().String(), time.Second, nil)
	if err != nil {
		t.Fatalf("NewPacketForwarder: %v", err)
	}
	defer fwd.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fwd.Start(ctx)

	ing := NewIngestor(newRegistry(t), fwd, nil)
	payload := []byte(frameJSON("cam-f", 0, 1))
	if err := ing.HandlePacket(payload); err != nil {
		t.Fatalf("HandlePacket: %v", err)
	}

	buf := make([]byte, 1024)
	_ = recv.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := recv.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("read forwarded payload: %v", err)
	}
	if string(buf[:n]) != string(payload) {
		t.Errorf("forwarded %q, want %q", buf[:n], payload)
	}
	if ing.Stats().Forwarded != 1 {
		t.Errorf("forwarded count = %d", ing.Stats().Forwarded)
	}
}

func TestPacketForwarder_DropsWhenFull(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	fwd := newPacketForwarder(client, "pipe", 0, nil)
	defer fwd.Close()

	// Start is never called so nothing drains the queue.
	for i := 0; i < DefaultForwardQueue; i++ {
		if !fwd.ForwardAsync([]byte("x")) {
			t.Fatalf("payload %d dropped early", i)
		}
	}
	if fwd.ForwardAsync([]byte("x")) {
		t.Error("expected drop when queue is full")
	}
	if fwd.dropped.Load() != 1 {
		t.Errorf("dropped = %d, want 1", fwd.dropped.Load())
	}
}

func TestPacketForwarder_ResetsDropsOnClockTick(t *testing.T) {
	client, server := net.Pipe()
	server.Close()
	clock := timeutil.NewMockClock(time.Unix(1_700_000_000, 0))
	fwd := newPacketForwarder(client, "pipe", time.Minute, clock)
	defer fwd.Close()

	for i := 0; i <= DefaultForwardQueue; i++ {
		fwd.ForwardAsync([]byte("x"))
	}
	if fwd.dropped.Load() != 1 {
		t.Fatalf("dropped = %d, want 1", fwd.dropped.Load())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fwd.Start(ctx)

	waitFor(t, func() bool { return fwd.Failed() == DefaultForwardQueue })
	waitFor(t, func() bool {
		clock.Advance(time.Minute)
		return fwd.dropped.Load() == 0
	})
}

func TestNewPacketForwarder_BadAddress(t *testing.T) {
	if _, err := NewPacketForwarder("127.0.0.1:-1", time.Second, nil); err == nil {
		t.Error("expected error")
	}
}

func TestReadLines(t *testing.T) {
	reg := newRegistry(t)
	ing := NewIngestor(reg, nil, nil)
	input := strings.Join([]string{
		"# recorded on the loading dock",
		frameJSON("dock", 0, 3),
		"",
		frameJSON("dock", 1, 3),
		"{oops",
		`{"frames":[` + frameJSON("dock", 2, 3) + `]}`,
	}, "\n")

	sum, err := ReadLines(context.Background(), strings.NewReader(input), ing)
	if err != nil {
		t.Fatalf("ReadLines: %v", err)
	}
	if sum.Lines != 4 || sum.Rejected != 1 {
		t.Errorf("summary = %+v, want 4 lines, 1 rejected", sum)
	}
	if ing.Stats().Frames != 3 {
		t.Errorf("frames = %d, want 3", ing.Stats().Frames)
	}
}

func TestReadLines_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ReadLines(ctx, strings.NewReader(frameJSON("a", 0, 0)), NewIngestor(newRegistry(t), nil, nil))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
