// Copyright 2025 The go-nearledger Authors
// This file is part of the go-nearledger library.
//
// The go-nearledger library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-nearledger library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-nearledger library. If not, see <http://www.gnu.org/licenses/>.

package usbwallet

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/karalabe/hid"
	"go.uber.org/zap"
)

// ledgerVendorID is the USB vendor identifier of all Ledger devices.
const ledgerVendorID = 0x2c97

// ledgerProductIDs are the USB product identifiers used for device discovery.
//
// Device definitions taken from
// https://github.com/LedgerHQ/ledger-live/blob/38012bc8899e0f07149ea9cfe7e64b2c146bc92b/libs/ledgerjs/packages/devices/src/index.ts
var ledgerProductIDs = []uint16{
	// Original product IDs
	0x0000, /* Ledger Blue */
	0x0001, /* Ledger Nano S */
	0x0004, /* Ledger Nano X */
	0x0005, /* Ledger Nano S Plus */
	0x0006, /* Ledger Nano FTS */

	0x0015, /* HID + U2F + WebUSB Ledger Blue */
	0x1015, /* HID + U2F + WebUSB Ledger Nano S */
	0x4015, /* HID + U2F + WebUSB Ledger Nano X */
	0x5015, /* HID + U2F + WebUSB Ledger Nano S Plus */
	0x6015, /* HID + U2F + WebUSB Ledger Nano FTS */

	0x0011, /* HID + WebUSB Ledger Blue */
	0x1011, /* HID + WebUSB Ledger Nano S */
	0x4011, /* HID + WebUSB Ledger Nano X */
	0x5011, /* HID + WebUSB Ledger Nano S Plus */
	0x6011, /* HID + WebUSB Ledger Nano FTS */
}

// ledgerUsageID is the USB usage page filtering Windows and macOS enumeration
// down to the wallet interface.
const ledgerUsageID = 0xffa0

// ledgerEndpointID is the USB interface number filtering Linux enumeration
// down to the wallet interface.
const ledgerEndpointID = 0

// scanThrottling is the minimum time between two bus scans to avoid USB
// trashing when liveness checks and enumerations pile up.
const scanThrottling = 500 * time.Millisecond

// Transport kinds a device can be matched through. Both speak the same report
// framing; the split only records which host capability found the device.
const (
	TransportHID = "hid"
	TransportUSB = "usb"
)

// DeviceInfo describes one attached candidate device found during a bus scan.
type DeviceInfo struct {
	Path      string // Platform specific bus path, stable while attached
	Serial    string // Serial number reported by the device, may be empty
	Product   string // Product string reported by the device
	Transport string // Matching capability, TransportHID or TransportUSB
}

// Chooser picks one device out of an enumerated batch. It is the user-gesture
// gate of Connect: implementations typically render the list and block until
// the user clicks one. Returning ErrUserCancelledPrompt (or any error) aborts
// the connect.
type Chooser func(devices []DeviceInfo) (int, error)

// Hub finds Ledger devices on the USB buses and opens connections to them.
// It owns no open device itself; every Open hands the caller an exclusive
// handle.
type Hub struct {
	log *zap.Logger

	scanned  time.Time                 // When the bus was last scanned, throttles rescans
	attached map[string]hid.DeviceInfo // Devices seen by the last scan, keyed by bus path

	stateLock sync.RWMutex // Protects the scan results

	// commsPend counts in-flight device commands. hidapi on Linux opens every
	// device during enumeration to read its strings, which corrupts a command
	// sitting on user confirmation, so scans are skipped while any command is
	// pending. This is a bug acknowledged at Ledger, but it won't be fixed on
	// old devices so we need to prevent concurrent comms ourselves.
	commsPend int
	commsLock sync.Mutex

	enumFails atomic.Uint32 // Number of times enumeration has failed
}

// NewHub creates a device hub, probing the host for USB HID capability.
// Platforms without a usable HID subsystem fail with ErrTransportUnavailable.
func NewHub(log *zap.Logger) (*Hub, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if !hid.Supported() {
		return nil, ErrTransportUnavailable
	}
	hub := &Hub{
		log:      log,
		attached: make(map[string]hid.DeviceInfo),
	}
	hub.scan()
	return hub, nil
}

// Devices scans the buses and returns the attached candidate devices, sorted
// by bus path. The result is a snapshot; devices may detach at any time.
func (hub *Hub) Devices() ([]DeviceInfo, error) {
	if err := hub.scan(); err != nil {
		return nil, err
	}
	hub.stateLock.RLock()
	defer hub.stateLock.RUnlock()

	devices := make([]DeviceInfo, 0, len(hub.attached))
	for _, info := range hub.attached {
		devices = append(devices, DeviceInfo{
			Path:      info.Path,
			Serial:    info.Serial,
			Product:   info.Product,
			Transport: transportKind(info),
		})
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Path < devices[j].Path })
	return devices, nil
}

// Connect enumerates the attached devices and asks the chooser to pick one,
// then opens it. The chooser is the user gesture gate; its error (typically
// ErrUserCancelledPrompt) is returned unchanged. With no device attached the
// chooser is never invoked and Connect fails with ErrDeviceNotConnected.
func (hub *Hub) Connect(ctx context.Context, choose Chooser) (*Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	devices, err := hub.Devices()
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, ErrDeviceNotConnected
	}
	index, err := choose(devices)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(devices) {
		return nil, ErrDeviceNotConnected
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return hub.Open(devices[index])
}

// Open silently reopens a previously enumerated device, without any chooser
// involvement. The device must still be attached at the recorded bus path.
func (hub *Hub) Open(info DeviceInfo) (*Device, error) {
	hub.stateLock.RLock()
	raw, known := hub.attached[info.Path]
	hub.stateLock.RUnlock()

	if !known {
		// The snapshot may be stale, rescan once before giving up
		if err := hub.scan(); err != nil {
			return nil, err
		}
		hub.stateLock.RLock()
		raw, known = hub.attached[info.Path]
		hub.stateLock.RUnlock()
		if !known {
			return nil, ErrDeviceNotConnected
		}
	}
	handle, err := raw.Open()
	if err != nil {
		return nil, err
	}
	hub.log.Debug("Opened device", zap.String("path", raw.Path), zap.String("product", raw.Product))

	device := newDevice(hub, raw.Path, raw.Product, handle, hub.log.With(zap.String("path", raw.Path)))
	device.start()
	return device, nil
}

// scan refreshes the attached device snapshot, throttled to one bus pass per
// scanThrottling. Enumeration failures keep the previous snapshot: a glitching
// scan must not tear down sessions on devices that are still attached.
func (hub *Hub) scan() error {
	hub.stateLock.RLock()
	elapsed := time.Since(hub.scanned)
	hub.stateLock.RUnlock()

	if elapsed < scanThrottling {
		return nil
	}
	// If USB enumeration is continually failing, don't keep trying indefinitely
	if hub.enumFails.Load() > 2 {
		return nil
	}
	if runtime.GOOS == "linux" {
		// See the commsPend rationale: enumerating while a command waits on
		// user confirmation corrupts the exchange on Linux.
		hub.commsLock.Lock()
		if hub.commsPend > 0 {
			hub.commsLock.Unlock()
			return nil
		}
		defer hub.commsLock.Unlock()
	}
	infos, err := hid.Enumerate(ledgerVendorID, 0)
	if err != nil {
		failcount := hub.enumFails.Add(1)
		hub.log.Error("Failed to enumerate USB devices",
			zap.Uint32("failcount", failcount), zap.Error(err))
		return nil
	}
	hub.enumFails.Store(0)
	attached := make(map[string]hid.DeviceInfo)
	for _, info := range infos {
		for _, id := range ledgerProductIDs {
			// Windows and macOS use UsageID matching, Linux uses Interface matching
			if info.ProductID == id && (info.UsagePage == ledgerUsageID || info.Interface == ledgerEndpointID) {
				attached[info.Path] = info
				break
			}
		}
	}
	hub.stateLock.Lock()
	hub.scanned = time.Now()
	hub.attached = attached
	hub.stateLock.Unlock()
	return nil
}

// alive reports whether the device at the given bus path is still attached.
// Used by device monitors to detect unplugs of idle devices.
func (hub *Hub) alive(path string) bool {
	hub.scan()

	hub.stateLock.RLock()
	defer hub.stateLock.RUnlock()
	_, ok := hub.attached[path]
	return ok
}

// enterComms marks a device command in flight, blocking bus scans for its
// duration. Paired with leaveComms.
func (hub *Hub) enterComms() {
	hub.commsLock.Lock()
	hub.commsPend++
	hub.commsLock.Unlock()
}

// leaveComms marks a device command finished.
func (hub *Hub) leaveComms() {
	hub.commsLock.Lock()
	hub.commsPend--
	hub.commsLock.Unlock()
}

// transportKind records which host capability matched the device: the HID
// usage page on Windows and macOS, the raw interface number elsewhere.
func transportKind(info hid.DeviceInfo) string {
	if info.UsagePage == ledgerUsageID {
		return TransportHID
	}
	return TransportUSB
}
