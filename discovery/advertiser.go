// Package discovery advertises the receiver on the local network over
// mDNS/DNS-SD so phones can find it without typing an address.
//
// The service type is _meomic._udp in the local. domain. The instance is
// named "MeoMic (<hostname>)" and carries TXT records version, platform and
// hostname.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/sirupsen/logrus"
)

const (
	// ServiceType is the DNS-SD service type phones browse for.
	ServiceType = "_meomic._udp"
	// Domain is the mDNS domain.
	Domain = "local."
	// ServiceName prefixes the instance name.
	ServiceName = "MeoMic"
	// TXTVersion is advertised as version=.
	TXTVersion = "1"
)

// ErrInvalidPort is returned by Start for a port that cannot be advertised,
// such as the 0 of a socket that is not bound yet.
var ErrInvalidPort = errors.New("advertised port must be 1-65535")

// Advertiser registers the service while running.
type Advertiser struct {
	hostname string

	mu     sync.Mutex
	server *zeroconf.Server
	ip     netip.Addr
	port   int
}

// NewAdvertiser prepares an advertiser for this host.
func NewAdvertiser() *Advertiser {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "meomic"
	}
	// mDNS host names are single labels.
	hostname, _, _ = strings.Cut(hostname, ".")
	return &Advertiser{hostname: hostname}
}

// InstanceName returns "MeoMic (<hostname>)".
func (a *Advertiser) InstanceName() string {
	return InstanceName(a.hostname)
}

// InstanceName formats the DNS-SD instance name for hostname.
func InstanceName(hostname string) string {
	return fmt.Sprintf("%s (%s)", ServiceName, hostname)
}

// TXTRecords returns the TXT key/value pairs advertised for hostname.
func TXTRecords(hostname string) []string {
	return []string{
		"version=" + TXTVersion,
		"platform=" + platformName(runtime.GOOS),
		"hostname=" + hostname,
	}
}

func platformName(goos string) string {
	switch goos {
	case "windows":
		return "Windows"
	case "darwin":
		return "Darwin"
	case "linux":
		return "Linux"
	default:
		return goos
	}
}

// Start detects the LAN address and registers the service on port, the
// receiver's bound UDP port. Calling Start while registered is a no-op.
func (a *Advertiser) Start(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%w: got %d", ErrInvalidPort, port)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		return nil
	}

	ip, err := LocalIP()
	if err != nil {
		return fmt.Errorf("detect local IP: %w", err)
	}

	server, err := zeroconf.RegisterProxy(
		a.InstanceName(),
		ServiceType,
		Domain,
		port,
		a.hostname,
		[]string{ip.String()},
		TXTRecords(a.hostname),
		nil,
	)
	if err != nil {
		return fmt.Errorf("register mDNS service: %w", err)
	}

	a.server = server
	a.ip = ip
	a.port = port

	logrus.WithFields(logrus.Fields{
		"function": "Advertiser.Start",
		"instance": a.InstanceName(),
		"ip":       ip.String(),
		"port":     port,
	}).Info("Service advertised")

	return nil
}

// Addr returns the advertised address, valid while registered.
func (a *Advertiser) Addr() netip.AddrPort {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.ip.IsValid() {
		return netip.AddrPort{}
	}
	return netip.AddrPortFrom(a.ip, uint16(a.port))
}

// Stop unregisters the service. It is safe to call when not started.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server == nil {
		return
	}
	a.server.Shutdown()
	a.server = nil
	a.ip = netip.Addr{}
	a.port = 0

	logrus.WithFields(logrus.Fields{
		"function": "Advertiser.Stop",
		"instance": a.InstanceName(),
	}).Info("Service unregistered")
}

// Server is a receiver found on the network.
type Server struct {
	Instance string
	Hostname string
	Addr     netip.AddrPort
	Text     map[string]string
}

// Browse looks for receivers until timeout elapses or ctx is done.
func Browse(ctx context.Context, timeout time.Duration) ([]Server, error) {
	resolver, err := zeroconf.NewResolver(zeroconf.SelectIPTraffic(zeroconf.IPv4))
	if err != nil {
		return nil, fmt.Errorf("create mDNS resolver: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, ServiceType, Domain, entries); err != nil {
		return nil, fmt.Errorf("browse %s: %w", ServiceType, err)
	}

	var found []Server
	seen := make(map[string]bool)
	for entry := range entries {
		if server, ok := serverFromEntry(entry); ok && !seen[server.Instance] {
			seen[server.Instance] = true
			found = append(found, server)
		}
	}
	return found, nil
}

func serverFromEntry(entry *zeroconf.ServiceEntry) (Server, bool) {
	if entry == nil || len(entry.AddrIPv4) == 0 || entry.Port <= 0 || entry.Port > 65535 {
		return Server{}, false
	}
	ip, ok := netip.AddrFromSlice(entry.AddrIPv4[0])
	if !ok {
		return Server{}, false
	}
	return Server{
		Instance: entry.Instance,
		Hostname: entry.HostName,
		Addr:     netip.AddrPortFrom(ip.Unmap(), uint16(entry.Port)),
		Text:     parseTXT(entry.Text),
	}, true
}

func parseTXT(records []string) map[string]string {
	out := make(map[string]string, len(records))
	for _, r := range records {
		k, v, _ := strings.Cut(r, "=")
		out[k] = v
	}
	return out
}
