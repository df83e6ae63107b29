package protocol

import (
	"strconv"
	"strings"
	"time"
)

// InitialStatus is the status characteristic value before the first
// notification.
const InitialStatus = "READY"

// Status is the device state reported on the status characteristic.
type Status struct {
	WiFiConnected bool
	IP            string
	SSID          string
	ServerURL     string
	DeviceKey     string
	Mode          uint8
	Interval      time.Duration
}

// String renders the status line:
//
//	WIFI:OK|IP:192.168.1.20|SSID:home|SRV:https://host|KEY:abc|MODE:0|INT:60
//
// The IP reads 0.0.0.0 while WiFi is down and INT is whole seconds.
func (s Status) String() string {
	wifi, ip := "OFF", "0.0.0.0"
	if s.WiFiConnected {
		wifi = "OK"
		if s.IP != "" {
			ip = s.IP
		}
	}

	var b strings.Builder
	b.WriteString("WIFI:")
	b.WriteString(wifi)
	b.WriteString("|IP:")
	b.WriteString(ip)
	b.WriteString("|SSID:")
	b.WriteString(s.SSID)
	b.WriteString("|SRV:")
	b.WriteString(s.ServerURL)
	b.WriteString("|KEY:")
	b.WriteString(s.DeviceKey)
	b.WriteString("|MODE:")
	b.WriteString(strconv.Itoa(int(s.Mode)))
	b.WriteString("|INT:")
	b.WriteString(strconv.FormatInt(int64(s.Interval/time.Second), 10))
	return b.String()
}
