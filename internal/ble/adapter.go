// Package ble provides the BLE GATT configuration service through which a
// phone or browser sets WiFi credentials and the frame server, sends
// commands and reads device status.
package ble

// Default configuration service UUIDs.
const (
	ServiceUUID     = "4fafc201-1fb5-459e-8fcc-c5c9c331914b"
	SSIDCharUUID    = "beb5483e-36e1-4688-b7f5-ea07361b26a8"
	PassCharUUID    = "beb5483f-36e1-4688-b7f5-ea07361b26a8"
	ServerCharUUID  = "beb54840-36e1-4688-b7f5-ea07361b26a8"
	CommandCharUUID = "beb54841-36e1-4688-b7f5-ea07361b26a8"
	StatusCharUUID  = "beb54842-36e1-4688-b7f5-ea07361b26a8"
)

// Characteristic represents a local GATT characteristic.
type Characteristic interface {
	// SetValue replaces the value returned to reads.
	SetValue(data []byte) error
	// Notify sets the value and notifies subscribed centrals.
	Notify(data []byte) error
}

// CharacteristicSpec describes a characteristic to register.
type CharacteristicSpec struct {
	UUID    string
	Read    bool
	Write   bool
	Notify  bool
	Value   []byte
	OnWrite func(value []byte)
}

// Adapter abstracts the BLE peripheral stack for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// SetConnectHandler registers a callback invoked when a central
	// connects or disconnects.
	SetConnectHandler(func(connected bool))
	// AddService registers a primary service and returns its
	// characteristics in the order given.
	AddService(serviceUUID string, chars []CharacteristicSpec) ([]Characteristic, error)
	// Advertise starts, or restarts, advertising the local name and service.
	Advertise(localName, serviceUUID string) error
}
