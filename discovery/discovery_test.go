package discovery

import (
	"net"
	"net/netip"
	"runtime"
	"testing"

	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstUsable(t *testing.T) {
	tests := []struct {
		name  string
		addrs []net.Addr
		want  string
	}{
		{
			name: "skips loopback and link-local",
			addrs: []net.Addr{
				&net.IPNet{IP: net.ParseIP("127.0.0.1"), Mask: net.CIDRMask(8, 32)},
				&net.IPNet{IP: net.ParseIP("169.254.10.2"), Mask: net.CIDRMask(16, 32)},
				&net.IPNet{IP: net.ParseIP("192.168.1.50"), Mask: net.CIDRMask(24, 32)},
			},
			want: "192.168.1.50",
		},
		{
			name: "skips IPv6",
			addrs: []net.Addr{
				&net.IPNet{IP: net.ParseIP("fe80::1"), Mask: net.CIDRMask(64, 128)},
				&net.IPAddr{IP: net.ParseIP("10.0.0.7")},
			},
			want: "10.0.0.7",
		},
		{
			name:  "none usable",
			addrs: []net.Addr{&net.IPNet{IP: net.ParseIP("127.0.0.1"), Mask: net.CIDRMask(8, 32)}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ip, ok := firstUsable(tt.addrs)
			if tt.want == "" {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tt.want, ip.String())
		})
	}
}

func TestUsable(t *testing.T) {
	assert.True(t, usable(netip.MustParseAddr("192.168.0.10")))
	assert.False(t, usable(netip.MustParseAddr("0.0.0.0")))
	assert.False(t, usable(netip.MustParseAddr("127.0.0.53")))
	assert.False(t, usable(netip.MustParseAddr("::1")))
}

func TestIsInterfaceActive(t *testing.T) {
	assert.True(t, isInterfaceActive(net.Interface{Flags: net.FlagUp}))
	assert.False(t, isInterfaceActive(net.Interface{Flags: net.FlagUp | net.FlagLoopback}))
	assert.False(t, isInterfaceActive(net.Interface{}))
}

func TestLocalIPIsUsableWhenFound(t *testing.T) {
	ip, err := LocalIP()
	if err != nil {
		assert.ErrorIs(t, err, ErrNoLANAddress)
		return
	}
	assert.True(t, usable(ip))
}

func TestInstanceNameAndTXT(t *testing.T) {
	assert.Equal(t, "MeoMic (studio-pc)", InstanceName("studio-pc"))

	txt := parseTXT(TXTRecords("studio-pc"))
	assert.Equal(t, "1", txt["version"])
	assert.Equal(t, "studio-pc", txt["hostname"])
	assert.Equal(t, platformName(runtime.GOOS), txt["platform"])
}

func TestNewAdvertiserTrimsDomain(t *testing.T) {
	a := NewAdvertiser()
	assert.NotContains(t, a.hostname, ".")
	assert.False(t, a.Addr().IsValid(), "no address before Start")
	a.Stop()
}

func TestServerFromEntry(t *testing.T) {
	entry := zeroconf.NewServiceEntry("MeoMic (desk)", ServiceType, Domain)
	entry.HostName = "desk.local."
	entry.Port = 48888
	entry.Text = []string{"version=1", "platform=Linux"}
	entry.AddrIPv4 = []net.IP{net.ParseIP("192.168.1.9")}

	server, ok := serverFromEntry(entry)
	require.True(t, ok)
	assert.Equal(t, "MeoMic (desk)", server.Instance)
	assert.Equal(t, netip.MustParseAddrPort("192.168.1.9:48888"), server.Addr)
	assert.Equal(t, "Linux", server.Text["platform"])

	entry.AddrIPv4 = nil
	_, ok = serverFromEntry(entry)
	assert.False(t, ok)

	_, ok = serverFromEntry(nil)
	assert.False(t, ok)
}

func TestAdvertiserStartRejectsUnboundPort(t *testing.T) {
	a := NewAdvertiser()

	for _, port := range []int{0, -1, 70000} {
		err := a.Start(port)
		assert.ErrorIs(t, err, ErrInvalidPort, "port %d", port)
	}
	assert.False(t, a.Addr().IsValid())
}
