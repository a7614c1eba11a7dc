package numpad

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// DefaultWidth is the number of digits a remote keypad can hold (000-999)
const DefaultWidth = 3

// Grid dimensions of the remote keypad
const (
	Cols = 3
	Rows = 4
)

// Symbol is what a keypad cell produces: a digit 0-9, Clear or Enter
type Symbol int

const (
	Clear Symbol = -1
	Enter Symbol = -2
)

// IsDigit reports whether s is one of 0-9
func (s Symbol) IsDigit() bool {
	return s >= 0 && s <= 9
}

func (s Symbol) String() string {
	switch s {
	case Clear:
		return "C"
	case Enter:
		return "E"
	}
	return strconv.Itoa(int(s))
}

// ErrInvalidKey is returned for a press outside the 3x4 grid
var ErrInvalidKey = errors.New("invalid keypad coordinate")

// Keymap maps [col][row] to a symbol. Row 0 is the top of the pad.
//
//	1 2 3
//	4 5 6
//	7 8 9
//	C 0 E
var Keymap = [Cols][Rows]Symbol{
	{1, 4, 7, Clear},
	{2, 5, 8, 0},
	{3, 6, 9, Enter},
}

// Lookup returns the symbol at (col, row)
func Lookup(col, row int) (Symbol, error) {
	if col < 0 || col >= Cols || row < 0 || row >= Rows {
		return 0, errors.Wrapf(ErrInvalidKey, "col=%d row=%d", col, row)
	}
	return Keymap[col][row], nil
}

// Pad is a fixed-width digit buffer. New digits shift in from the right and
// the oldest digit falls off the left.
type Pad struct {
	buf []Symbol
}

// New creates a pad holding width digits, all zero
func New(width int) *Pad {
	if width <= 0 {
		width = DefaultWidth
	}
	return &Pad{buf: make([]Symbol, width)}
}

// Width returns the number of digit slots
func (p *Pad) Width() int {
	return len(p.buf)
}

// PressKey applies the key at (col, row) and returns its symbol
func (p *Pad) PressKey(col, row int) (Symbol, error) {
	sym, err := Lookup(col, row)
	if err != nil {
		return 0, err
	}
	switch {
	case sym.IsDigit():
		p.push(sym)
	case sym == Clear:
		p.Clear()
	}
	// Enter leaves the buffer alone; the caller decides what to do with it
	return sym, nil
}

func (p *Pad) push(sym Symbol) {
	copy(p.buf, p.buf[1:])
	p.buf[len(p.buf)-1] = sym
}

// Clear resets every slot to 0
func (p *Pad) Clear() {
	for i := range p.buf {
		p.buf[i] = 0
	}
}

// String renders the buffer positionally, leading zeros included ("007")
func (p *Pad) String() string {
	var sb strings.Builder
	for _, d := range p.buf {
		sb.WriteByte(byte('0' + d))
	}
	return sb.String()
}

// Int returns the buffer as a number ("007" -> 7)
func (p *Pad) Int() int {
	return Render(p, func(s string) int {
		n, _ := strconv.Atoi(s) // always digits
		return n
	})
}

// Render applies f to the rendered buffer without changing it
func Render[T any](p *Pad, f func(string) T) T {
	return f(p.String())
}
