package network

import (
	"net"
	"time"
)

// UDPSocket is the subset of *net.UDPConn used by the listener.
type UDPSocket interface {
	ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error)
	SetReadBuffer(bytes int) error
	SetReadDeadline(t time.Time) error
	Close() error
	LocalAddr() net.Addr
}

// UDPSocketFactory opens UDP sockets. Tests substitute a factory that
// returns in-memory sockets.
type UDPSocketFactory interface {
	ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error)
}

// RealUDPSocketFactory opens sockets with net.ListenUDP.
type RealUDPSocketFactory struct{}

// ListenUDP implements UDPSocketFactory. *net.UDPConn already satisfies
// UDPSocket so it is returned as is.
func (RealUDPSocketFactory) ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error) {
	conn, err := net.ListenUDP(network, laddr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
