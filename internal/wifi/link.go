package wifi

import (
	"context"
	"net"

	"github.com/vishvananda/netlink"
)

// LinkAddr returns the first IPv4 address on the named interface, or "" if
// the interface is missing or has none.
func LinkAddr(iface string) string {
	link, err := netlink.LinkByName(iface)
	if err != nil {
		return ""
	}
	addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		return ""
	}
	for _, a := range addrs {
		if a.IPNet != nil && !a.IP.IsLoopback() {
			return a.IP.String()
		}
	}
	return ""
}

// LinkUp reports whether the named interface is administratively up and
// holds an IPv4 address.
func LinkUp(iface string) bool {
	link, err := netlink.LinkByName(iface)
	if err != nil || link.Attrs().Flags&net.FlagUp == 0 {
		return false
	}
	return LinkAddr(iface) != ""
}

// ExternalRadio is used when the network is managed outside the daemon, for
// example by wpa_supplicant. Join does nothing; status is read from the
// interface. With no interface the link is always reported up.
type ExternalRadio struct {
	Interface string
}

func (r *ExternalRadio) Join(context.Context, string, string) error { return nil }

func (r *ExternalRadio) Connected(context.Context) (bool, error) {
	if r.Interface == "" {
		return true, nil
	}
	return LinkUp(r.Interface), nil
}

func (r *ExternalRadio) Addr() string {
	if r.Interface == "" {
		return ""
	}
	return LinkAddr(r.Interface)
}

// Compile-time check that ExternalRadio implements Radio.
var _ Radio = (*ExternalRadio)(nil)
