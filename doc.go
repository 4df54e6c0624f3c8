// Package meomic turns a phone into a microphone for a desktop computer.
//
// The phone streams raw 16-bit mono PCM at 48 kHz over UDP. An App binds a
// transport.Receiver to the configured port and hands every AUDIO payload to
// a playback.Renderer, which buffers it in a bounded jitter buffer and plays
// it through an output device. Pointing that device at a virtual audio cable
// (VB-Cable, BlackHole, a PulseAudio null sink) makes the audio show up as a
// microphone in other applications.
//
// # Getting Started
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	app := meomic.New(cfg, meomic.NewBackend(cfg))
//	defer app.Close()
//
//	app.OnClientConnected(func(addr netip.AddrPort) {
//	    fmt.Println("phone connected from", addr)
//	})
//
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer stop()
//	if err := app.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Lifecycle
//
// The renderer holds the output device only while a phone is connected. A
// new connection starts it; DISCONNECT or five seconds of silence stops it
// and clears the buffer, so a reconnect never plays stale audio.
//
// Only one phone streams at a time. A packet from a new address replaces the
// current connection without a handshake.
//
// # Supporting services
//
// Run also advertises the receiver over mDNS as _meomic._udp (see package
// discovery) and, when status_addr is set, serves the HTTP and WebSocket
// control API from package status. Neither is required for audio to flow;
// an advertisement failure is logged and ignored.
package meomic
