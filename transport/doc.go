// Package transport implements the MeoMic UDP audio transport: the packet
// codec, the server-side Receiver that tracks a single sending client, and a
// Sender that speaks the client side of the protocol.
//
// # Wire Format
//
// Every datagram starts with an 8-byte big-endian header:
//
//	offset size field
//	0      2    magic "WM"
//	2      1    version
//	3      1    type: 0=AUDIO 1=KEEPALIVE 2=DISCONNECT 3=ACK
//	4      4    sequence (uint32)
//	8      N    payload (AUDIO only): signed 16-bit little-endian mono PCM, 48 kHz
//
// Datagrams shorter than the header, with the wrong magic, or with an unknown
// type are noise. They are dropped before any connection state changes.
//
// # Receiver
//
// The Receiver owns the socket and one receive goroutine. The blocking read
// has a one second deadline so the loop also acts as a liveness tick: a
// client silent for more than five seconds is disconnected.
//
//	r := transport.NewReceiver(transport.DefaultReceiverConfig())
//	r.OnAudioData(renderer.Write)
//	r.OnClientConnected(func(addr netip.AddrPort) { ... })
//	r.OnClientDisconnected(func() { ... })
//	if err := r.Start(48888); err != nil {
//	    var bindErr *transport.BindError
//	    ...
//	}
//	defer r.Stop()
//
// Only one client is active at a time. A datagram from a new address
// replaces the current client without a handshake, resetting its counters
// and firing a connect event.
//
// # Loss Accounting
//
// Each accepted packet is compared with the previous sequence number. A
// forward gap smaller than the loss threshold is added to the loss counter.
// Larger gaps, including reordered packets that wrap around, are ignored so
// a single stray packet cannot skew the statistic.
//
// # Acknowledgements
//
// ACKs are liveness signals, not per-packet acknowledgements. The Receiver
// answers every KEEPALIVE and at most one AUDIO packet per ACK interval
// (500 ms) with an 8-byte ACK header carrying its own outgoing counter.
package transport
