package peer

import (
	"net"
	"strings"
)

// cgnat covers Carrier Grade NAT as well as WARP and Tailscale addresses.
var cgnat = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

var tunnelNames = []string{"tun", "tap", "wg", "ppp", "warp"}

// ShouldForceRelay reports whether this host is likely behind a VPN or
// CGNAT, where direct media paths rarely work and TURN should be forced.
func ShouldForceRelay() bool {
	interfaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, _ := iface.Addrs()
		if forceRelayFor(iface.Name, addrs) {
			return true
		}
	}
	return false
}

func forceRelayFor(name string, addrs []net.Addr) bool {
	name = strings.ToLower(name)
	for _, t := range tunnelNames {
		if strings.Contains(name, t) {
			return true
		}
	}
	for _, addr := range addrs {
		var ip net.IP
		switch v := addr.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip != nil && cgnat.Contains(ip) {
			return true
		}
	}
	return false
}
