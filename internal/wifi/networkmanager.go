package wifi

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"
)

const (
	nmBusName        = "org.freedesktop.NetworkManager"
	nmObjectPath     = dbus.ObjectPath("/org/freedesktop/NetworkManager")
	nmInterface      = "org.freedesktop.NetworkManager"
	nmDeviceIface    = "org.freedesktop.NetworkManager.Device"
	nmSettingsPath   = dbus.ObjectPath("/org/freedesktop/NetworkManager/Settings")
	nmSettingsIface  = "org.freedesktop.NetworkManager.Settings"
	nmConnIface      = "org.freedesktop.NetworkManager.Settings.Connection"
	nmStateActivated = uint32(100)
)

// bus is the part of *dbus.Conn the radio uses.
type bus interface {
	Object(dest string, path dbus.ObjectPath) dbus.BusObject
	Close() error
}

// NetworkManager drives a WiFi device through NetworkManager on the system
// D-Bus.
type NetworkManager struct {
	conn    bus
	iface   string
	devPath dbus.ObjectPath
}

// NewNetworkManager connects to the system bus and resolves iface to a
// NetworkManager device.
func NewNetworkManager(iface string) (*NetworkManager, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("wifi: connect system bus: %w", err)
	}

	var devPath dbus.ObjectPath
	obj := conn.Object(nmBusName, nmObjectPath)
	if err := obj.Call(nmInterface+".GetDeviceByIpIface", 0, iface).Store(&devPath); err != nil {
		return nil, fmt.Errorf("wifi: find device %s: %w", iface, err)
	}
	slog.Debug("[WiFi] NetworkManager device", "iface", iface, "path", devPath)
	return &NetworkManager{conn: conn, iface: iface, devPath: devPath}, nil
}

// connectionID names the profile kept for ssid.
func connectionID(ssid string) string {
	return "inkframe-" + ssid
}

// connectionSettings builds the station profile for ssid. An empty password
// means an open network.
func connectionSettings(ssid, password string) map[string]map[string]dbus.Variant {
	settings := map[string]map[string]dbus.Variant{
		"connection": {
			"id":   dbus.MakeVariant(connectionID(ssid)),
			"type": dbus.MakeVariant("802-11-wireless"),
		},
		"802-11-wireless": {
			"ssid": dbus.MakeVariant([]byte(ssid)),
			"mode": dbus.MakeVariant("infrastructure"),
		},
		"ipv4": {
			"method": dbus.MakeVariant("auto"),
		},
	}
	if password != "" {
		settings["802-11-wireless-security"] = map[string]dbus.Variant{
			"key-mgmt": dbus.MakeVariant("wpa-psk"),
			"psk":      dbus.MakeVariant(password),
		}
	}
	return settings
}

// Join activates the profile for ssid on the device. An existing profile is
// updated in place so repeated joins never pile up saved connections.
func (n *NetworkManager) Join(ctx context.Context, ssid, password string) error {
	id := connectionID(ssid)
	settings := connectionSettings(ssid, password)

	path, err := n.findConnection(ctx, id)
	if err != nil {
		return err
	}
	nm := n.conn.Object(nmBusName, nmObjectPath)

	if path == "" {
		var connPath, activePath dbus.ObjectPath
		call := nm.CallWithContext(ctx, nmInterface+".AddAndActivateConnection", 0,
			settings, n.devPath, dbus.ObjectPath("/"))
		if err := call.Store(&connPath, &activePath); err != nil {
			return fmt.Errorf("wifi: add connection: %w", err)
		}
		slog.Info("[WiFi] Connection profile created", "id", id, "path", connPath)
		return nil
	}

	if err := n.conn.Object(nmBusName, path).CallWithContext(ctx, nmConnIface+".Update", 0, settings).Err; err != nil {
		return fmt.Errorf("wifi: update connection %s: %w", id, err)
	}
	var activePath dbus.ObjectPath
	call := nm.CallWithContext(ctx, nmInterface+".ActivateConnection", 0, path, n.devPath, dbus.ObjectPath("/"))
	if err := call.Store(&activePath); err != nil {
		return fmt.Errorf("wifi: activate connection %s: %w", id, err)
	}
	return nil
}

// findConnection returns the saved profile named id, or "" if there is none.
func (n *NetworkManager) findConnection(ctx context.Context, id string) (dbus.ObjectPath, error) {
	var paths []dbus.ObjectPath
	call := n.conn.Object(nmBusName, nmSettingsPath).CallWithContext(ctx, nmSettingsIface+".ListConnections", 0)
	if err := call.Store(&paths); err != nil {
		return "", fmt.Errorf("wifi: list connections: %w", err)
	}
	for _, p := range paths {
		var settings map[string]map[string]dbus.Variant
		if err := n.conn.Object(nmBusName, p).CallWithContext(ctx, nmConnIface+".GetSettings", 0).Store(&settings); err != nil {
			slog.Debug("[WiFi] Reading connection settings failed", "path", p, "error", err)
			continue
		}
		if got, _ := settings["connection"]["id"].Value().(string); got == id {
			return p, nil
		}
	}
	return "", nil
}

// Connected reports whether the device is in the activated state.
func (n *NetworkManager) Connected(ctx context.Context) (bool, error) {
	var v dbus.Variant
	obj := n.conn.Object(nmBusName, n.devPath)
	err := obj.CallWithContext(ctx, "org.freedesktop.DBus.Properties.Get", 0, nmDeviceIface, "State").Store(&v)
	if err != nil {
		return false, fmt.Errorf("wifi: read device state: %w", err)
	}
	st, ok := v.Value().(uint32)
	if !ok {
		return false, fmt.Errorf("wifi: unexpected device state type %T", v.Value())
	}
	return st == nmStateActivated, nil
}

// Addr returns the interface's IPv4 address via netlink.
func (n *NetworkManager) Addr() string {
	return LinkAddr(n.iface)
}

// Close releases the D-Bus connection.
func (n *NetworkManager) Close() error {
	return n.conn.Close()
}

// Compile-time check that NetworkManager implements Radio.
var _ Radio = (*NetworkManager)(nil)
