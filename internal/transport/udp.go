// Package transport owns the node's UDP socket.
//
// One socket is bound per node and shared by reference between the listener
// (receive side) and the ring node (send side). Sending and receiving on a
// UDP socket are independent, so no locking is involved.
package transport

import (
	stderrors "errors"
	"net"
	"os"
	"time"

	"github.com/devrev/pairdb/ringnode/internal/errors"
	"github.com/devrev/pairdb/ringnode/internal/model"
)

// DefaultBufferSize is the datagram read buffer; longer payloads are truncated
const DefaultBufferSize = 2048

// Sender transmits a datagram to a peer
type Sender interface {
	SendTo(to model.Address, payload []byte) error
}

// PacketReader receives datagrams, giving up at the deadline
type PacketReader interface {
	ReadPacket(buf []byte, deadline time.Time) (int, model.Address, error)
}

// PacketConn is a socket usable for both directions
type PacketConn interface {
	Sender
	PacketReader
	LocalAddress() model.Address
	Close() error
}

// Socket is a bound UDP socket
type Socket struct {
	conn  *net.UDPConn
	local model.Address
}

// Bind opens a UDP socket on addr. Failure is a BindError.
func Bind(addr model.Address) (*Socket, error) {
	udpAddr, err := addr.UDPAddr()
	if err != nil {
		return nil, errors.BindFailed(addr.String(), err)
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, errors.BindFailed(addr.String(), err)
	}

	local := addr
	if bound, ok := conn.LocalAddr().(*net.UDPAddr); ok && addr.Port == 0 {
		local.Port = bound.Port
	}

	return &Socket{conn: conn, local: local}, nil
}

// LocalAddress returns the address the socket is bound to
func (s *Socket) LocalAddress() model.Address {
	return s.local
}

// SendTo writes one datagram to the peer
func (s *Socket) SendTo(to model.Address, payload []byte) error {
	dst, err := to.UDPAddr()
	if err != nil {
		return err
	}
	_, err = s.conn.WriteToUDP(payload, dst)
	return err
}

// ReadPacket reads one datagram into buf.
// A zero deadline blocks until a datagram arrives or the socket is closed.
func (s *Socket) ReadPacket(buf []byte, deadline time.Time) (int, model.Address, error) {
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return 0, model.Address{}, err
	}

	n, src, err := s.conn.ReadFromUDP(buf)
	if err != nil {
		return 0, model.Address{}, err
	}
	return n, model.AddressFromUDP(src), nil
}

// Close releases the socket
func (s *Socket) Close() error {
	return s.conn.Close()
}

// IsTimeout reports whether err is a read deadline expiry
func IsTimeout(err error) bool {
	if stderrors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return stderrors.As(err, &netErr) && netErr.Timeout()
}

// IsClosed reports whether err comes from a closed socket
func IsClosed(err error) bool {
	return stderrors.Is(err, net.ErrClosed)
}
