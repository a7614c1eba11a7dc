// Package midi mirrors the level frame to a MIDI port as control changes,
// for consoles and media servers that take MIDI instead of DMX.
package midi

import (
	"io"
	"sync"

	"github.com/pkg/errors"
	gomidi "gitlab.com/gomidi/midi/v2"

	"go-rfu/debug"
	"go-rfu/dmx"
)

// Output is a dmx.Device on a MIDI port. Channel n maps to MIDI channel
// (n-1)/128, controller (n-1)%128. Levels are halved to fit 0-127.
type Output struct {
	mu     sync.Mutex
	name   string
	send   func(msg gomidi.Message) error
	closer io.Closer

	frame  dmx.Frame
	sent   dmx.Frame
	primed bool // first render sends every slot
}

// OpenOutput opens the output port matching name
func OpenOutput(name string) (*Output, error) {
	port, err := FindOutPort(name)
	if err != nil {
		return nil, errors.Wrap(dmx.ErrPortOpen, err.Error())
	}
	send, err := gomidi.SendTo(port)
	if err != nil {
		return nil, errors.Wrapf(dmx.ErrPortOpen, "open %s: %v", port.String(), err)
	}
	debug.Log("midi", "opened output %s", port.String())
	return NewOutput(port.String(), send, port), nil
}

// NewOutput wraps a send function. closer may be nil.
func NewOutput(name string, send func(msg gomidi.Message) error, closer io.Closer) *Output {
	return &Output{name: name, send: send, closer: closer}
}

// ChannelToCC maps a 1-indexed DMX channel to a MIDI channel and controller
func ChannelToCC(ch int) (channel, controller uint8) {
	i := ch - 1
	return uint8(i / 128), uint8(i % 128)
}

func (o *Output) Name() string {
	return o.name
}

func (o *Output) ReadFrame() dmx.Frame {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.frame
}

func (o *Output) WriteFrame(index int, value uint8) {
	if index < 0 || index >= dmx.UniverseSize {
		return
	}
	o.mu.Lock()
	o.frame[index] = value
	o.mu.Unlock()
}

// Render sends a control change for every slot that changed since the last
// render
func (o *Output) Render() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	count := 0
	for i, level := range o.frame {
		if o.primed && o.sent[i] == level {
			continue
		}
		channel, controller := ChannelToCC(i + 1)
		if err := o.send(gomidi.ControlChange(channel, controller, level>>1)); err != nil {
			return errors.Wrapf(err, "send cc to %s", o.name)
		}
		o.sent[i] = level
		count++
	}
	o.primed = true

	debug.LogEvery(100, "midi", "render sent %d control changes", count)
	return nil
}

func (o *Output) Close() error {
	if o.closer == nil {
		return nil
	}
	return o.closer.Close()
}
