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

package wallet

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/keyfold/go-nearledger/accounts/usbwallet"
)

// Surface is the host's prompt overlay. The wallet composes the markup of
// each interaction step and reads back control activations; rendering is
// entirely the host's concern, which is what lets a scripted fake drive the
// whole flow headlessly.
type Surface interface {
	// Show replaces the overlay content with the given markup.
	Show(markup string) error

	// Await blocks until a rendered control fires or the user dismisses the
	// overlay. Dismissal returns ErrUserCancelledPrompt.
	Await(ctx context.Context) (Click, error)

	// Hide takes the overlay down.
	Hide()
}

// Click is one control activation, carrying the values of any rendered
// inputs at the moment of the click.
type Click struct {
	Control string
	Inputs  map[string]string
}

// Control identifiers emitted by the composed prompts.
const (
	ControlCancel = "cancel"
	ControlSubmit = "submit"
	ControlRetry  = "retry"

	// controlDevicePrefix + index identifies one entry of the device picker.
	controlDevicePrefix = "device-"
)

// inputAccountID names the text input of the account id form.
const inputAccountID = "account-id"

// deviceControl returns the control id of the nth picker entry.
func deviceControl(n int) string {
	return controlDevicePrefix + strconv.Itoa(n)
}

// parseDeviceControl extracts the picker index from a control id.
func parseDeviceControl(control string) (int, bool) {
	rest, found := strings.CutPrefix(control, controlDevicePrefix)
	if !found {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// devicePickerMarkup lists the enumerated devices as one button each.
func devicePickerMarkup(devices []usbwallet.DeviceInfo) string {
	var b strings.Builder
	b.WriteString("<h1>Select your device</h1>\n<ul>\n")
	for i, device := range devices {
		fmt.Fprintf(&b, "<li><button data-control=%q>%s (%s)</button></li>\n",
			deviceControl(i), html.EscapeString(device.Product), device.Transport)
	}
	b.WriteString("</ul>\n<button data-control=\"cancel\">Cancel</button>")
	return b.String()
}

// approvalMarkup renders the passive wait screen shown while the device
// holds a command for physical confirmation. It has no controls: the step
// completes on the device, not in the overlay.
func approvalMarkup(message string) string {
	return fmt.Sprintf("<h1>Confirm on your device</h1>\n<p>%s</p>", html.EscapeString(message))
}

// accountFormMarkup renders the account id form, prefilled with the current
// candidate and, on a retry round, the failure that sent the user back.
func accountFormMarkup(candidate, failure string) string {
	var b strings.Builder
	b.WriteString("<h1>Choose an account</h1>\n")
	if failure != "" {
		fmt.Fprintf(&b, "<p class=\"error\">%s</p>\n", html.EscapeString(failure))
	}
	fmt.Fprintf(&b, "<input name=%q value=%q>\n", inputAccountID, html.EscapeString(candidate))
	b.WriteString("<button data-control=\"submit\">Continue</button>\n<button data-control=\"cancel\">Cancel</button>")
	return b.String()
}

// retryMarkup renders a failure with a retry affordance.
func retryMarkup(failure string) string {
	return fmt.Sprintf("<h1>Something went wrong</h1>\n<p class=\"error\">%s</p>\n<button data-control=\"retry\">Try again</button>\n<button data-control=\"cancel\">Cancel</button>",
		html.EscapeString(failure))
}
