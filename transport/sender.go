package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meomic/meomic/limits"
	"github.com/sirupsen/logrus"
)

// Sender speaks the phone side of the protocol: it streams AUDIO packets
// with an incrementing sequence, sends KEEPALIVE and DISCONNECT, and counts
// the ACKs coming back.
type Sender struct {
	conn *net.UDPConn

	mu       sync.Mutex
	sequence uint32
	closed   bool

	acks    atomic.Uint64
	lastAck atomic.Int64

	readerDone chan struct{}
}

// Dial connects a Sender to a receiver at address ("host:port").
func Dial(ctx context.Context, address string) (*Sender, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "udp", address)
	if err != nil {
		return nil, newOpError("dial", address, err)
	}

	conn, ok := c.(*net.UDPConn)
	if !ok {
		_ = c.Close()
		return nil, fmt.Errorf("unexpected conn type %T", c)
	}

	s := &Sender{
		conn:       conn,
		readerDone: make(chan struct{}),
	}
	go s.readAcks()

	logrus.WithFields(logrus.Fields{
		"function":    "Dial",
		"remote_addr": address,
		"local_addr":  conn.LocalAddr().String(),
	}).Info("Sender connected")

	return s, nil
}

// SendAudio sends one AUDIO packet carrying pcm (16-bit little-endian mono).
func (s *Sender) SendAudio(pcm []byte) error {
	if err := limits.ValidateAudioPayload(pcm); err != nil {
		return err
	}
	return s.send(PacketAudio, pcm)
}

// SendKeepalive sends a KEEPALIVE, which the receiver answers with an ACK.
func (s *Sender) SendKeepalive() error {
	return s.send(PacketKeepalive, nil)
}

// SendDisconnect tells the receiver to end the connection.
func (s *Sender) SendDisconnect() error {
	return s.send(PacketDisconnect, nil)
}

// Sequence returns the sequence number the next packet will carry.
func (s *Sender) Sequence() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sequence
}

// AcksReceived returns how many valid ACKs have arrived.
func (s *Sender) AcksReceived() uint64 {
	return s.acks.Load()
}

// LastAck returns when the most recent ACK arrived, or the zero time.
func (s *Sender) LastAck() time.Time {
	n := s.lastAck.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// LocalAddr returns the sender's local socket address.
func (s *Sender) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// Close closes the socket and waits for the ACK reader to exit.
// It does not send DISCONNECT.
func (s *Sender) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.conn.Close()
	<-s.readerDone
	return err
}

func (s *Sender) send(packetType PacketType, payload []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSenderClosed
	}
	seq := s.sequence
	s.sequence++
	s.mu.Unlock()

	data := Packet{Type: packetType, Sequence: seq, Payload: payload}.Marshal()
	if _, err := s.conn.Write(data); err != nil {
		return newOpError("write", s.conn.RemoteAddr().String(), err)
	}
	return nil
}

// readAcks counts ACKs until the socket is closed. Anything else is ignored.
func (s *Sender) readAcks() {
	defer close(s.readerDone)

	buffer := make([]byte, limits.HeaderSize*8)
	for {
		n, err := s.conn.Read(buffer)
		if err != nil {
			if isClosed(err) {
				return
			}
			// A connected UDP socket surfaces ICMP port-unreachable here
			// while the receiver is down; keep reading.
			logrus.WithFields(logrus.Fields{
				"function": "Sender.readAcks",
				"error":    err.Error(),
			}).Debug("ACK read error")
			continue
		}

		packet, err := ParsePacket(buffer[:n])
		if err != nil || packet.Type != PacketAck {
			continue
		}
		s.acks.Add(1)
		s.lastAck.Store(time.Now().UnixNano())
	}
}
