package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startLoopbackReceiver(t *testing.T, cfg ReceiverConfig) (*Receiver, string) {
	t.Helper()

	cfg.BindAddress = "127.0.0.1"
	r := NewReceiver(cfg)
	require.NoError(t, r.Start(0))
	t.Cleanup(func() { _ = r.Stop() })

	port := r.LocalAddr().(*net.UDPAddr).Port
	return r, fmt.Sprintf("127.0.0.1:%d", port)
}

func TestReceiverLoopbackStream(t *testing.T) {
	r, addr := startLoopbackReceiver(t, DefaultReceiverConfig())

	audio := make(chan []byte, 16)
	connected := make(chan netip.AddrPort, 1)
	disconnected := make(chan struct{}, 1)
	r.OnAudioData(func(b []byte) { audio <- b })
	r.OnClientConnected(func(a netip.AddrPort) { connected <- a })
	r.OnClientDisconnected(func() { disconnected <- struct{}{} })

	sender, err := Dial(context.Background(), addr)
	require.NoError(t, err)
	defer sender.Close()

	pcm := []byte{0x01, 0x00, 0xFF, 0x7F}
	for i := 0; i < 3; i++ {
		require.NoError(t, sender.SendAudio(pcm))
	}

	select {
	case a := <-connected:
		assert.Equal(t, sender.LocalAddr().(*net.UDPAddr).Port, int(a.Port()))
	case <-time.After(2 * time.Second):
		t.Fatal("no connect event")
	}

	for i := 0; i < 3; i++ {
		select {
		case got := <-audio:
			assert.Equal(t, pcm, got)
		case <-time.After(2 * time.Second):
			t.Fatalf("audio packet %d not delivered", i)
		}
	}

	require.Eventually(t, func() bool { return sender.AcksReceived() >= 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, sender.SendKeepalive())
	require.Eventually(t, func() bool { return sender.AcksReceived() >= 2 }, 2*time.Second, 10*time.Millisecond)

	stats := r.Stats()
	assert.True(t, stats.Connected)
	assert.Equal(t, "127.0.0.1", stats.ClientAddress)
	assert.Equal(t, uint64(0), stats.PacketsLost)

	require.NoError(t, sender.SendDisconnect())
	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("no disconnect event")
	}
}

func TestReceiverLoopbackTimeout(t *testing.T) {
	cfg := DefaultReceiverConfig()
	cfg.ReceiveTimeout = 20 * time.Millisecond
	cfg.ConnectionTimeout = 100 * time.Millisecond
	r, addr := startLoopbackReceiver(t, cfg)

	disconnected := make(chan struct{}, 4)
	r.OnClientDisconnected(func() { disconnected <- struct{}{} })

	sender, err := Dial(context.Background(), addr)
	require.NoError(t, err)
	defer sender.Close()

	require.NoError(t, sender.SendKeepalive())

	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("silent client was not timed out")
	}

	select {
	case <-disconnected:
		t.Fatal("disconnect fired twice")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestReceiverStartTwice(t *testing.T) {
	r, _ := startLoopbackReceiver(t, DefaultReceiverConfig())

	assert.ErrorIs(t, r.Start(0), ErrReceiverRunning)
}

func TestReceiverBindError(t *testing.T) {
	r := NewReceiver(DefaultReceiverConfig())

	err := r.Start(70000)

	var bindErr *BindError
	require.True(t, errors.As(err, &bindErr))
	assert.Equal(t, 70000, bindErr.Port)
	assert.False(t, r.Running())
	assert.Nil(t, r.LocalAddr())
}

func TestReceiverStopIsPromptAndIdempotent(t *testing.T) {
	r := NewReceiver(ReceiverConfig{BindAddress: "127.0.0.1"})
	require.NoError(t, r.Start(0))

	start := time.Now()
	require.NoError(t, r.Stop())
	assert.Less(t, time.Since(start), time.Second)

	assert.NoError(t, r.Stop())
	assert.False(t, r.Running())

	// The port is released and the receiver can be started again.
	require.NoError(t, r.Start(0))
	require.NoError(t, r.Stop())
}

func TestReceiverStopEndsLiveConnection(t *testing.T) {
	r, addr := startLoopbackReceiver(t, DefaultReceiverConfig())

	connected := make(chan struct{}, 1)
	disconnects := 0
	r.OnClientConnected(func(netip.AddrPort) { connected <- struct{}{} })
	r.OnClientDisconnected(func() { disconnects++ })

	sender, err := Dial(context.Background(), addr)
	require.NoError(t, err)
	defer sender.Close()
	require.NoError(t, sender.SendKeepalive())

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("no connect event")
	}

	require.NoError(t, r.Stop())
	assert.Equal(t, 1, disconnects)
	assert.False(t, r.Stats().Connected)
}

func TestSenderRejectsBadPayload(t *testing.T) {
	_, addr := startLoopbackReceiver(t, DefaultReceiverConfig())

	sender, err := Dial(context.Background(), addr)
	require.NoError(t, err)
	defer sender.Close()

	assert.Error(t, sender.SendAudio(nil))
	assert.Error(t, sender.SendAudio([]byte{1, 2, 3}))
	assert.Equal(t, uint32(0), sender.Sequence(), "rejected payloads consume no sequence number")

	require.NoError(t, sender.Close())
	assert.ErrorIs(t, sender.SendKeepalive(), ErrSenderClosed)
}
