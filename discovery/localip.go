package discovery

import (
	"errors"
	"net"
	"net/netip"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrNoLANAddress is returned when no usable IPv4 address is found.
var ErrNoLANAddress = errors.New("no LAN IPv4 address found")

// routeProbe is dialed (never written to) so the kernel picks the outbound
// interface for us.
const routeProbe = "8.8.8.8:80"

// LocalIP returns the IPv4 address phones on the LAN should stream to.
// It asks the routing table first and falls back to scanning interfaces.
func LocalIP() (netip.Addr, error) {
	ip, err := routeIP()
	if err == nil {
		return ip, nil
	}

	logrus.WithFields(logrus.Fields{
		"function": "LocalIP",
		"error":    err.Error(),
	}).Debug("Route lookup failed, scanning interfaces")
	return interfaceIP()
}

func routeIP() (netip.Addr, error) {
	conn, err := net.DialTimeout("udp4", routeProbe, 100*time.Millisecond)
	if err != nil {
		return netip.Addr{}, err
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return netip.Addr{}, ErrNoLANAddress
	}
	ip, ok := netip.AddrFromSlice(addr.IP)
	if !ok || !usable(ip.Unmap()) {
		return netip.Addr{}, ErrNoLANAddress
	}
	return ip.Unmap(), nil
}

func interfaceIP() (netip.Addr, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return netip.Addr{}, err
	}

	for _, iface := range ifaces {
		if !isInterfaceActive(iface) {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		if ip, ok := firstUsable(addrs); ok {
			return ip, nil
		}
	}
	return netip.Addr{}, ErrNoLANAddress
}

// isInterfaceActive reports whether iface is up and not a loopback.
func isInterfaceActive(iface net.Interface) bool {
	return iface.Flags&net.FlagUp != 0 && iface.Flags&net.FlagLoopback == 0
}

// firstUsable returns the first usable IPv4 address among addrs.
func firstUsable(addrs []net.Addr) (netip.Addr, bool) {
	for _, a := range addrs {
		var raw net.IP
		switch v := a.(type) {
		case *net.IPNet:
			raw = v.IP
		case *net.IPAddr:
			raw = v.IP
		default:
			continue
		}
		ip, ok := netip.AddrFromSlice(raw)
		if !ok {
			continue
		}
		ip = ip.Unmap()
		if usable(ip) {
			return ip, true
		}
	}
	return netip.Addr{}, false
}

// usable excludes loopback, link-local and unspecified addresses.
func usable(ip netip.Addr) bool {
	return ip.Is4() && !ip.IsLoopback() && !ip.IsLinkLocalUnicast() && !ip.IsUnspecified()
}
