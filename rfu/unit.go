package rfu

import (
	"math"

	"go-rfu/debug"
	"go-rfu/dmx"
	"go-rfu/numpad"
)

// Unit is one remote focus unit: a surface's selected channel and its keypad
// buffer. Units are only touched with the Backend lock held.
type Unit struct {
	endpoint string
	addr     string // as registered; may carry a send port
	channel  int // 0 until a channel is selected
	pad      *numpad.Pad
	b        *Backend
}

func newUnit(endpoint, addr string, padWidth int, b *Backend) *Unit {
	return &Unit{
		endpoint: endpoint,
		addr:     addr,
		pad:      numpad.New(padWidth),
		b:        b,
	}
}

// handleKeypad applies a press, selects on Enter, and echoes the buffer
func (u *Unit) handleKeypad(col, row int) {
	sym, err := u.pad.PressKey(col, row)
	if err != nil {
		debug.With("rfu").WithField("endpoint", u.endpoint).Warnf("ignoring key: %v", err)
		return
	}

	if sym == numpad.Enter {
		ch := u.pad.Int()
		if dmx.ValidChannel(ch) {
			u.selectChannel(ch)
		} else {
			debug.Log("rfu", "%s: channel %d out of range", u.endpoint, ch)
		}
		u.pad.Clear()
	}

	u.b.report(u.b.remote.SetReadout(u.endpoint, u.pad.String()))
}

// selectChannel points the unit at ch and sends channel, fader and indicator
func (u *Unit) selectChannel(ch int) {
	debug.Log("rfu", "%s: selecting channel %d", u.endpoint, ch)
	u.channel = ch
	level := u.b.frame.Level(ch)

	r := u.b.remote
	u.b.report(r.SetCurrentChannel(u.endpoint, ch))
	u.b.report(r.SetLevel(u.endpoint, dmx.LevelToUnit(level)))
	u.b.report(r.SetLevelIndicator(u.endpoint, level))
}

// handleFader sets the selected channel from a fader position
func (u *Unit) handleFader(v float64) {
	if !dmx.ValidChannel(u.channel) || math.IsNaN(v) {
		return
	}
	u.b.setLevel(u.channel, dmx.UnitToLevel(v))
}

// onLevelChanged mirrors a level change on the selected channel. Only the
// indicator is sent; the fader is left where the operator put it.
func (u *Unit) onLevelChanged() {
	u.b.report(u.b.remote.SetLevelIndicator(u.endpoint, u.b.frame.Level(u.channel)))
}
