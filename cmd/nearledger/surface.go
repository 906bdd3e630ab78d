// Copyright 2025 The go-nearledger Authors
// This file is part of go-nearledger.
//
// go-nearledger is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-nearledger is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with go-nearledger. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"bufio"
	"context"
	"fmt"
	"html"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/keyfold/go-nearledger/wallet"
	"github.com/mattn/go-isatty"
)

// The overlay markup is a closed little language: one heading, notes,
// buttons carrying control ids and at most one text input. These pull the
// pieces out for terminal rendering.
var (
	markupHeading = regexp.MustCompile(`<h1>(.*?)</h1>`)
	markupNote    = regexp.MustCompile(`<p(?: class="error")?>(.*?)</p>`)
	markupButton  = regexp.MustCompile(`<button data-control="([^"]+)">(.*?)</button>`)
	markupInput   = regexp.MustCompile(`<input name="([^"]+)" value="([^"]*)">`)
)

type controlButton struct {
	id    string
	label string
}

type inputField struct {
	name  string
	value string
}

// screen is one parsed overlay.
type screen struct {
	heading string
	notes   []string
	inputs  []inputField
	buttons []controlButton
}

func parseScreen(markup string) screen {
	var sc screen
	if m := markupHeading.FindStringSubmatch(markup); m != nil {
		sc.heading = html.UnescapeString(m[1])
	}
	for _, m := range markupNote.FindAllStringSubmatch(markup, -1) {
		sc.notes = append(sc.notes, html.UnescapeString(m[1]))
	}
	for _, m := range markupInput.FindAllStringSubmatch(markup, -1) {
		sc.inputs = append(sc.inputs, inputField{name: m[1], value: html.UnescapeString(m[2])})
	}
	for _, m := range markupButton.FindAllStringSubmatch(markup, -1) {
		sc.buttons = append(sc.buttons, controlButton{id: m[1], label: html.UnescapeString(m[2])})
	}
	return sc
}

// terminalSurface renders wallet prompts on a terminal. Button screens
// become numbered menus, form screens a prefilled prompt line; end of input
// dismisses the prompt like closing the overlay would.
type terminalSurface struct {
	out   io.Writer
	lines chan string
	tty   bool

	mu     sync.Mutex
	screen screen
}

func newTerminalSurface(in io.Reader, out io.Writer) *terminalSurface {
	s := &terminalSurface{
		out:   out,
		lines: make(chan string),
	}
	if f, ok := in.(*os.File); ok {
		s.tty = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	go s.readLines(in)
	return s
}

func (s *terminalSurface) readLines(in io.Reader) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		s.lines <- strings.TrimSpace(scanner.Text())
	}
	close(s.lines)
}

func (s *terminalSurface) Show(markup string) error {
	sc := parseScreen(markup)
	s.mu.Lock()
	s.screen = sc
	s.mu.Unlock()

	fmt.Fprintf(s.out, "\n%s\n", sc.heading)
	for _, note := range sc.notes {
		fmt.Fprintf(s.out, "  %s\n", note)
	}
	if len(sc.inputs) == 0 {
		for i, button := range sc.buttons {
			fmt.Fprintf(s.out, "  %d) %s\n", i+1, button.label)
		}
	}
	return nil
}

func (s *terminalSurface) Await(ctx context.Context) (wallet.Click, error) {
	s.mu.Lock()
	sc := s.screen
	s.mu.Unlock()

	for {
		s.prompt(sc)
		select {
		case <-ctx.Done():
			return wallet.Click{}, ctx.Err()
		case line, ok := <-s.lines:
			if !ok {
				// Input closed: treat like dismissing the overlay
				return wallet.Click{Control: wallet.ControlCancel}, nil
			}
			if click, ok := resolveLine(sc, line); ok {
				return click, nil
			}
			fmt.Fprintf(s.out, "Unrecognized choice %q\n", line)
		}
	}
}

func (s *terminalSurface) Hide() {
	s.mu.Lock()
	s.screen = screen{}
	s.mu.Unlock()
}

func (s *terminalSurface) prompt(sc screen) {
	if !s.tty {
		return
	}
	if len(sc.inputs) > 0 {
		fmt.Fprintf(s.out, "%s [%s]: ", sc.inputs[0].name, sc.inputs[0].value)
		return
	}
	fmt.Fprintf(s.out, "choice [1-%d]: ", len(sc.buttons))
}

// resolveLine maps one line of input onto a click. Menus accept the entry
// number or the button label; forms submit the entered value, an empty line
// keeping the prefill.
func resolveLine(sc screen, line string) (wallet.Click, bool) {
	if len(sc.inputs) > 0 {
		value := line
		if value == "" {
			value = sc.inputs[0].value
		}
		return wallet.Click{
			Control: wallet.ControlSubmit,
			Inputs:  map[string]string{sc.inputs[0].name: value},
		}, true
	}
	if n, err := strconv.Atoi(line); err == nil && n >= 1 && n <= len(sc.buttons) {
		return wallet.Click{Control: sc.buttons[n-1].id}, true
	}
	for _, button := range sc.buttons {
		if strings.EqualFold(line, button.label) {
			return wallet.Click{Control: button.id}, true
		}
	}
	return wallet.Click{}, false
}
