package ble

import (
	"fmt"
	"sync"

	"tinygo.org/x/bluetooth"
)

// TinyGoAdapter wraps tinygo-org/bluetooth as a GATT peripheral. On Linux it
// drives BlueZ over D-Bus.
type TinyGoAdapter struct {
	adapter *bluetooth.Adapter

	mu  sync.Mutex
	adv *bluetooth.Advertisement
}

// NewTinyGoAdapter creates a peripheral adapter on the default controller.
func NewTinyGoAdapter() *TinyGoAdapter {
	return &TinyGoAdapter{adapter: bluetooth.DefaultAdapter}
}

func (a *TinyGoAdapter) Enable() error {
	return a.adapter.Enable()
}

func (a *TinyGoAdapter) SetConnectHandler(fn func(connected bool)) {
	a.adapter.SetConnectHandler(func(_ bluetooth.Device, connected bool) {
		fn(connected)
	})
}

func (a *TinyGoAdapter) AddService(serviceUUID string, chars []CharacteristicSpec) ([]Characteristic, error) {
	svcUUID, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, fmt.Errorf("ble: parse service UUID: %w", err)
	}

	handles := make([]bluetooth.Characteristic, len(chars))
	configs := make([]bluetooth.CharacteristicConfig, len(chars))
	for i, spec := range chars {
		charUUID, err := bluetooth.ParseUUID(spec.UUID)
		if err != nil {
			return nil, fmt.Errorf("ble: parse characteristic UUID %q: %w", spec.UUID, err)
		}
		cfg := bluetooth.CharacteristicConfig{
			Handle: &handles[i],
			UUID:   charUUID,
			Value:  spec.Value,
		}
		if spec.Read {
			cfg.Flags |= bluetooth.CharacteristicReadPermission
		}
		if spec.Write {
			cfg.Flags |= bluetooth.CharacteristicWritePermission | bluetooth.CharacteristicWriteWithoutResponsePermission
		}
		if spec.Notify {
			cfg.Flags |= bluetooth.CharacteristicNotifyPermission
		}
		if onWrite := spec.OnWrite; onWrite != nil {
			cfg.WriteEvent = func(_ bluetooth.Connection, offset int, value []byte) {
				// Long writes arrive in pieces; only whole values are handled.
				if offset != 0 {
					return
				}
				cp := make([]byte, len(value))
				copy(cp, value)
				onWrite(cp)
			}
		}
		configs[i] = cfg
	}

	if err := a.adapter.AddService(&bluetooth.Service{UUID: svcUUID, Characteristics: configs}); err != nil {
		return nil, fmt.Errorf("ble: add service: %w", err)
	}

	out := make([]Characteristic, len(handles))
	for i := range handles {
		out[i] = &tinyGoCharacteristic{ch: &handles[i]}
	}
	return out, nil
}

func (a *TinyGoAdapter) Advertise(localName, serviceUUID string) error {
	svcUUID, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return fmt.Errorf("ble: parse service UUID: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.adv == nil {
		adv := a.adapter.DefaultAdvertisement()
		err := adv.Configure(bluetooth.AdvertisementOptions{
			LocalName:    localName,
			ServiceUUIDs: []bluetooth.UUID{svcUUID},
		})
		if err != nil {
			return fmt.Errorf("ble: configure advertisement: %w", err)
		}
		a.adv = adv
	} else {
		// Restarting an active advertisement fails on some stacks.
		_ = a.adv.Stop()
	}
	if err := a.adv.Start(); err != nil {
		return fmt.Errorf("ble: start advertising: %w", err)
	}
	return nil
}

// tinyGoCharacteristic adapts a bluetooth.Characteristic handle. The stack
// notifies subscribed centrals on every value change, so SetValue and
// Notify share one write path.
type tinyGoCharacteristic struct {
	ch *bluetooth.Characteristic
}

func (c *tinyGoCharacteristic) SetValue(data []byte) error {
	_, err := c.ch.Write(data)
	return err
}

func (c *tinyGoCharacteristic) Notify(data []byte) error {
	_, err := c.ch.Write(data)
	return err
}

// Compile-time check that TinyGoAdapter implements Adapter.
var _ Adapter = (*TinyGoAdapter)(nil)
