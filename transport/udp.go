package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/sirupsen/logrus"
)

// packetWriter is the send half of the socket, split out so tests can
// observe ACKs without a network.
type packetWriter interface {
	WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error)
}

// listenUDP binds a UDP socket with address reuse enabled and an enlarged
// receive buffer.
func listenUDP(listenAddr string, socketBuffer int) (*net.UDPConn, error) {
	lc := net.ListenConfig{Control: setReuseAddr}

	pc, err := lc.ListenPacket(context.Background(), "udp", listenAddr)
	if err != nil {
		return nil, err
	}

	conn, ok := pc.(*net.UDPConn)
	if !ok {
		_ = pc.Close()
		return nil, fmt.Errorf("unexpected packet conn type %T", pc)
	}

	if socketBuffer > 0 {
		if err := conn.SetReadBuffer(socketBuffer); err != nil {
			// The kernel may cap the request; the socket is still usable.
			logrus.WithFields(logrus.Fields{
				"function":      "listenUDP",
				"socket_buffer": socketBuffer,
				"error":         err.Error(),
			}).Warn("Failed to enlarge receive buffer")
		}
	}

	return conn, nil
}

// isTimeout reports whether err is a read deadline expiry.
func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// isClosed reports whether err comes from reading a closed socket.
func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

// normalizeAddr strips the IPv4-in-IPv6 mapping a dual-stack socket reports,
// so the same phone always compares equal to itself.
func normalizeAddr(addr netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())
}
