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
	"errors"
	"fmt"
)

var (
	// ErrTransportUnavailable is returned on platforms without USB HID
	// support, or when the HID subsystem is not usable.
	ErrTransportUnavailable = errors.New("USB transport unavailable")

	// ErrDeviceNotConnected is returned when no device answers, a stored
	// device cannot be found, or the device dropped off the bus mid command.
	ErrDeviceNotConnected = errors.New("device not connected")

	// ErrDeviceLocked is returned while the device sits on its PIN screen.
	ErrDeviceLocked = errors.New("device is locked")

	// ErrAppMissing is returned when the NEAR app is not open, or cannot be
	// opened because it is not installed.
	ErrAppMissing = errors.New("NEAR app is not open on the device")

	// ErrUserDeclinedOnDevice is returned when the user rejects a request on
	// the device buttons.
	ErrUserDeclinedOnDevice = errors.New("request declined on the device")

	// errReplyInvalidHeader is returned when a reply report does not start
	// with the expected channel and tag bytes.
	errReplyInvalidHeader = errors.New("invalid reply header")

	// errReplyTooShort is returned when a reply is too short to carry the
	// mandatory status word.
	errReplyTooShort = errors.New("reply lacks status word")
)

// Status words the device appends to every reply.
const (
	swOK                  uint16 = 0x9000
	swUserRefusedOpenApp  uint16 = 0x5501
	swDeviceLocked        uint16 = 0x5515
	swAppNotInstalled     uint16 = 0x6807
	swHaltedOrNotFound    uint16 = 0x6984
	swConditionsNotMet    uint16 = 0x6985
	swTransactionRejected uint16 = 0x6986
	swInsNotSupported     uint16 = 0x6d00
	swClaNotSupported     uint16 = 0x6e00
	swAppNotOpen          uint16 = 0x6e01
)

// StatusError is a non-success APDU status word. It unwraps to one of the
// package sentinels when the word has a known meaning, so callers can use
// errors.Is without looking at the raw code.
type StatusError struct {
	SW uint16
}

func (e *StatusError) Error() string {
	switch e.SW {
	case swUserRefusedOpenApp:
		return "opening the app was refused on the device"
	case swDeviceLocked:
		return "device is locked, unlock it with the PIN"
	case swAppNotInstalled, swHaltedOrNotFound:
		return "NEAR app is not installed on the device"
	case swConditionsNotMet:
		return "request declined on the device"
	case swTransactionRejected:
		return "transaction rejected on the device"
	case swInsNotSupported, swClaNotSupported, swAppNotOpen:
		return "NEAR app is not open on the device"
	}
	return fmt.Sprintf("device returned status 0x%04x, check the device screen", e.SW)
}

// Unwrap maps known status words onto the package sentinels.
func (e *StatusError) Unwrap() error {
	switch e.SW {
	case swDeviceLocked:
		return ErrDeviceLocked
	case swConditionsNotMet, swTransactionRejected, swUserRefusedOpenApp:
		return ErrUserDeclinedOnDevice
	case swInsNotSupported, swClaNotSupported, swAppNotOpen, swAppNotInstalled, swHaltedOrNotFound:
		return ErrAppMissing
	}
	return nil
}
