package transport

import (
	"net"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/meomic/meomic/limits"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultPort is the UDP port phones stream to.
	DefaultPort = 48888

	// DefaultLossThreshold bounds the sequence gap counted as loss.
	DefaultLossThreshold = 1000

	// stopWait bounds how long Stop waits for the receive goroutine.
	stopWait = 2 * time.Second
)

// ReceiverConfig holds the Receiver's timing and socket settings.
type ReceiverConfig struct {
	// BindAddress is the local IP to bind; empty binds all interfaces.
	BindAddress string

	// ReceiveTimeout bounds each blocking read and sets the liveness tick.
	ReceiveTimeout time.Duration

	// ConnectionTimeout is how long a silent client stays connected.
	ConnectionTimeout time.Duration

	// AckInterval is the minimum spacing of ACKs sent in reply to AUDIO.
	AckInterval time.Duration

	// LossThreshold is the largest sequence gap (exclusive) counted as loss.
	LossThreshold uint32

	// SocketBuffer is the requested SO_RCVBUF size in bytes.
	SocketBuffer int

	// TimeProvider supplies the clock for timeouts and ACK pacing.
	// Nil uses the system clock.
	TimeProvider TimeProvider
}

// DefaultReceiverConfig returns the protocol defaults.
func DefaultReceiverConfig() ReceiverConfig {
	return ReceiverConfig{
		ReceiveTimeout:    time.Second,
		ConnectionTimeout: 5 * time.Second,
		AckInterval:       500 * time.Millisecond,
		LossThreshold:     DefaultLossThreshold,
		SocketBuffer:      1 << 20,
	}
}

// Stats is a point-in-time snapshot of the receiver's connection counters.
type Stats struct {
	Connected       bool    `json:"connected"`
	ClientAddress   string  `json:"client_address,omitempty"`
	SessionID       string  `json:"session_id,omitempty"`
	PacketsReceived uint64  `json:"packets_received"`
	PacketsLost     uint64  `json:"packets_lost"`
	LossRatePercent float64 `json:"loss_rate_percent"`
}

// Receiver owns the UDP socket and tracks the single active sender.
//
// The design is single-active-sender: a datagram from a new address replaces
// the current connection outright. Connection state is only touched by the
// receive goroutine.
type Receiver struct {
	cfg  ReceiverConfig
	time TimeProvider

	mu       sync.Mutex
	conn     *net.UDPConn
	port     int
	done     chan struct{}
	loopDone chan struct{}

	handlersMu     sync.RWMutex
	onAudioData    func([]byte)
	onConnected    func(netip.AddrPort)
	onDisconnected func()
	onError        func(error)

	// owned by the receive goroutine
	out         packetWriter
	client      *Connection
	ackSequence uint32

	statsMu sync.Mutex
	stats   Stats
}

// NewReceiver creates a stopped receiver. Zero fields in cfg take defaults.
func NewReceiver(cfg ReceiverConfig) *Receiver {
	defaults := DefaultReceiverConfig()
	if cfg.ReceiveTimeout <= 0 {
		cfg.ReceiveTimeout = defaults.ReceiveTimeout
	}
	if cfg.ConnectionTimeout <= 0 {
		cfg.ConnectionTimeout = defaults.ConnectionTimeout
	}
	if cfg.AckInterval <= 0 {
		cfg.AckInterval = defaults.AckInterval
	}
	if cfg.LossThreshold == 0 {
		cfg.LossThreshold = defaults.LossThreshold
	}

	return &Receiver{
		cfg:  cfg,
		time: getTimeProvider(cfg.TimeProvider),
	}
}

// OnAudioData sets the sink fired once per AUDIO packet with a non-empty payload.
func (r *Receiver) OnAudioData(fn func([]byte)) {
	r.handlersMu.Lock()
	defer r.handlersMu.Unlock()
	r.onAudioData = fn
}

// OnClientConnected sets the callback fired when a new sender address appears.
func (r *Receiver) OnClientConnected(fn func(netip.AddrPort)) {
	r.handlersMu.Lock()
	defer r.handlersMu.Unlock()
	r.onConnected = fn
}

// OnClientDisconnected sets the callback fired once per ended connection.
func (r *Receiver) OnClientDisconnected(fn func()) {
	r.handlersMu.Lock()
	defer r.handlersMu.Unlock()
	r.onDisconnected = fn
}

// OnError sets the sink for socket errors other than a clean close.
func (r *Receiver) OnError(fn func(error)) {
	r.handlersMu.Lock()
	defer r.handlersMu.Unlock()
	r.onError = fn
}

// Start binds the UDP port on all interfaces (or BindAddress) and starts the
// receive goroutine. Port 0 picks an ephemeral port; see LocalAddr.
// A bind failure is returned as *BindError and leaves the receiver stopped.
func (r *Receiver) Start(port int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil {
		return ErrReceiverRunning
	}

	listenAddr := net.JoinHostPort(r.cfg.BindAddress, strconv.Itoa(port))
	conn, err := listenUDP(listenAddr, r.cfg.SocketBuffer)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Receiver.Start",
			"port":     port,
			"error":    err.Error(),
		}).Error("Failed to bind UDP port")
		return &BindError{Port: port, Err: err}
	}

	r.conn = conn
	r.out = conn
	r.client = nil
	r.port = port
	r.done = make(chan struct{})
	r.loopDone = make(chan struct{})

	go r.receiveLoop(conn, r.done, r.loopDone)

	logrus.WithFields(logrus.Fields{
		"function":   "Receiver.Start",
		"local_addr": conn.LocalAddr().String(),
	}).Info("Receiver listening")

	return nil
}

// Stop ends the receive goroutine, waits for it (bounded) and closes the
// socket. A live connection is ended with a disconnect event. Stop is
// idempotent and must not be called from a Receiver callback.
func (r *Receiver) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return nil
	}

	close(r.done)
	// Expire the pending read so the loop sees done without waiting out the tick.
	_ = r.conn.SetReadDeadline(time.Now())

	select {
	case <-r.loopDone:
		// The loop no longer owns the connection; end it here so the
		// disconnect event still fires exactly once.
		r.disconnect("receiver stopped")
	case <-time.After(stopWait):
		logrus.WithFields(logrus.Fields{
			"function": "Receiver.Stop",
			"wait":     stopWait.String(),
		}).Warn("Receive loop did not exit in time")
	}

	err := r.conn.Close()
	r.conn = nil

	logrus.WithFields(logrus.Fields{
		"function": "Receiver.Stop",
		"port":     r.port,
	}).Info("Receiver stopped")

	if err != nil && !isClosed(err) {
		return err
	}
	return nil
}

// Running reports whether the socket is bound.
func (r *Receiver) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn != nil
}

// LocalAddr returns the bound address, or nil when stopped.
func (r *Receiver) LocalAddr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

// Stats returns a copy of the current connection counters.
func (r *Receiver) Stats() Stats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return r.stats
}

// receiveLoop reads datagrams until done is closed or the socket is closed.
func (r *Receiver) receiveLoop(conn *net.UDPConn, done <-chan struct{}, loopDone chan<- struct{}) {
	defer close(loopDone)

	buffer := make([]byte, limits.MaxDatagram)

	for {
		select {
		case <-done:
			return
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(r.cfg.ReceiveTimeout))
		n, addr, err := conn.ReadFromUDPAddrPort(buffer)
		if err != nil {
			switch {
			case isTimeout(err):
				r.checkTimeout()
			case isClosed(err):
				return
			default:
				r.reportError(newOpError("read", "", err))
			}
			continue
		}

		r.handlePacket(buffer[:n], normalizeAddr(addr))
		r.checkTimeout()
	}
}

// handlePacket runs one datagram through validation, connection tracking,
// loss accounting and dispatch.
func (r *Receiver) handlePacket(data []byte, addr netip.AddrPort) {
	packet, err := ParsePacket(data)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Receiver.handlePacket",
			"from":     addr.String(),
			"size":     len(data),
			"reason":   err.Error(),
		}).Debug("Dropping malformed datagram")
		return
	}

	now := r.time.Now()

	if r.client == nil || r.client.Addr != addr {
		r.client = newConnection(addr, now)
		logrus.WithFields(logrus.Fields{
			"function":   "Receiver.handlePacket",
			"client":     addr.String(),
			"session_id": r.client.ID,
		}).Info("Client connected")
		r.publishStats()
		r.emitConnected(addr)
	}

	client := r.client
	if lost := client.observe(packet.Sequence, now, r.cfg.LossThreshold); lost > 0 {
		logrus.WithFields(logrus.Fields{
			"function": "Receiver.handlePacket",
			"sequence": packet.Sequence,
			"lost":     lost,
		}).Debug("Sequence gap")
	}

	switch packet.Type {
	case PacketAudio:
		if len(packet.Payload) > 0 {
			r.emitAudioData(packet.Payload)
		}
		if now.Sub(client.LastAckTime) > r.cfg.AckInterval {
			r.sendAck(addr)
			client.LastAckTime = now
		}
	case PacketKeepalive:
		r.sendAck(addr)
	case PacketDisconnect:
		r.disconnect("client request")
		return
	}

	r.publishStats()
}

// checkTimeout drops a client that has been silent longer than ConnectionTimeout.
func (r *Receiver) checkTimeout() {
	if r.client == nil {
		return
	}
	if r.time.Now().Sub(r.client.LastPacketTime) > r.cfg.ConnectionTimeout {
		r.disconnect("timeout")
	}
}

// disconnect clears the connection and fires the disconnect event once.
func (r *Receiver) disconnect(reason string) {
	if r.client == nil {
		return
	}

	logrus.WithFields(logrus.Fields{
		"function":         "Receiver.disconnect",
		"client":           r.client.Addr.String(),
		"session_id":       r.client.ID,
		"reason":           reason,
		"packets_received": r.client.PacketsReceived,
		"packets_lost":     r.client.PacketsLost,
	}).Info("Client disconnected")

	r.client = nil
	r.publishStats()
	r.emitDisconnected()
}

// sendAck writes an ACK header carrying the outgoing counter.
func (r *Receiver) sendAck(addr netip.AddrPort) {
	w := r.out
	if w == nil {
		return
	}

	ack := Packet{Type: PacketAck, Sequence: r.ackSequence}.Marshal()
	r.ackSequence++

	if _, err := w.WriteToUDPAddrPort(ack, addr); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Receiver.sendAck",
			"client":   addr.String(),
			"error":    err.Error(),
		}).Debug("Failed to send ACK")
	}
}

// publishStats refreshes the snapshot returned by Stats. Counters of the
// last connection stay visible after it ends.
func (r *Receiver) publishStats() {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()

	if r.client == nil {
		r.stats.Connected = false
		r.stats.ClientAddress = ""
		r.stats.SessionID = ""
		return
	}

	c := r.client
	r.stats = Stats{
		Connected:       true,
		ClientAddress:   c.Addr.Addr().String(),
		SessionID:       c.ID,
		PacketsReceived: c.PacketsReceived,
		PacketsLost:     c.PacketsLost,
		LossRatePercent: lossRate(c.PacketsReceived, c.PacketsLost),
	}
}

func lossRate(received, lost uint64) float64 {
	total := received + lost
	if total == 0 {
		total = 1
	}
	return float64(lost) / float64(total) * 100
}

func (r *Receiver) emitAudioData(payload []byte) {
	r.handlersMu.RLock()
	fn := r.onAudioData
	r.handlersMu.RUnlock()
	if fn != nil {
		fn(payload)
	}
}

func (r *Receiver) emitConnected(addr netip.AddrPort) {
	r.handlersMu.RLock()
	fn := r.onConnected
	r.handlersMu.RUnlock()
	if fn != nil {
		fn(addr)
	}
}

func (r *Receiver) emitDisconnected() {
	r.handlersMu.RLock()
	fn := r.onDisconnected
	r.handlersMu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (r *Receiver) reportError(err error) {
	logrus.WithFields(logrus.Fields{
		"function": "Receiver.receiveLoop",
		"error":    err.Error(),
	}).Warn("Socket read error")

	r.handlersMu.RLock()
	fn := r.onError
	r.handlersMu.RUnlock()
	if fn != nil {
		fn(err)
	}
}
