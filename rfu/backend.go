// Package rfu models remote focus units: control surfaces that pick a channel
// on a keypad and set its level with a fader. The Backend owns the one frame
// of levels and mirrors every change to each unit watching that channel.
package rfu

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"go-rfu/control"
	"go-rfu/debug"
	"go-rfu/dmx"
	"go-rfu/numpad"
)

var (
	ErrUnitExists     = errors.New("unit already registered")
	ErrInvalidChannel = errors.New("channel out of range")
)

// Remote is the outbound side of the surfaces. *control.Dispatcher is a
// Remote. Connect returns the key inbound messages from the surface carry;
// every other call takes that key.
type Remote interface {
	Connect(endpoint string) (string, error)
	Disconnect(endpoint string)

	SetReadout(endpoint, text string) error
	SetCurrentChannel(endpoint string, channel int) error
	SetLevel(endpoint string, unit float32) error
	SetLevelIndicator(endpoint string, level uint8) error
}

// UnitInfo is a snapshot of one unit for display
type UnitInfo struct {
	Endpoint string // key inbound messages arrive under
	Address  string // as registered, e.g. host:port
	Channel  int
	Level    uint8
	Readout  string
}

// Backend is the single owner of the level frame and the unit registry. One
// mutex covers both, so dispatch and the admin console can run concurrently.
type Backend struct {
	mu     sync.Mutex
	frame  dmx.Frame
	device dmx.Device
	remote Remote
	units  map[string]*Unit

	padWidth int

	updates chan struct{}
}

// Option configures a Backend
type Option func(*Backend)

// WithPadWidth sets the keypad width of new units
func WithPadWidth(n int) Option {
	return func(b *Backend) {
		b.padWidth = n
	}
}

// NewBackend creates a backend seeded with the device's current frame
func NewBackend(device dmx.Device, remote Remote, opts ...Option) *Backend {
	b := &Backend{
		frame:    device.ReadFrame(),
		device:   device,
		remote:   remote,
		units:    make(map[string]*Unit),
		padWidth: numpad.DefaultWidth,
		updates:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Bind registers the RFU controls on d
func Bind(d *control.Dispatcher, b *Backend) {
	d.RegisterGroup("RFU")
	d.RegisterKeypadControl("RFU", "DMXEntry", b.HandleKeypad)
	d.RegisterSimpleControl("RFU", "Level", func(endpoint string, v any) {
		b.HandleFader(endpoint, v.(float64))
	}, control.Float)
}

// Updates signals (coalesced) whenever units or levels change
func (b *Backend) Updates() <-chan struct{} {
	return b.updates
}

func (b *Backend) notify() {
	select {
	case b.updates <- struct{}{}:
	default:
	}
}

// AddUnit registers a surface, connects to it and selects channel 1 on it.
// address is a host, an IP, or either with a send port override; the unit
// is keyed by the IP its datagrams come from.
func (b *Backend) AddUnit(address string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.find(address); ok {
		return errors.Wrap(ErrUnitExists, address)
	}
	key, err := b.remote.Connect(address)
	if err != nil {
		return errors.Wrapf(err, "add unit %s", address)
	}
	if _, ok := b.units[key]; ok {
		return errors.Wrapf(ErrUnitExists, "%s as %s", address, key)
	}

	u := newUnit(key, address, b.padWidth, b)
	b.units[key] = u
	debug.With("rfu").WithFields(logrus.Fields{
		"endpoint":     key,
		"address":      address,
		"keypad_width": u.pad.Width(),
	}).Info("unit added")

	u.selectChannel(1)
	b.notify()
	return nil
}

// RemoveUnit forgets a surface, by key or by the address it was added
// with. Returns false if it wasn't registered.
func (b *Backend) RemoveUnit(endpoint string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	u, ok := b.find(endpoint)
	if !ok {
		return false
	}
	delete(b.units, u.endpoint)
	b.remote.Disconnect(u.endpoint)
	debug.With("rfu").WithField("endpoint", u.endpoint).Info("unit removed")

	b.notify()
	return true
}

// SetLevel commits a level and mirrors it to every unit on that channel
func (b *Backend) SetLevel(channel int, level uint8) error {
	if !dmx.ValidChannel(channel) {
		return errors.Wrapf(ErrInvalidChannel, "%d", channel)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setLevel(channel, level)
	return nil
}

func (b *Backend) setLevel(channel int, level uint8) {
	b.frame.SetLevel(channel, level)
	b.device.WriteFrame(channel-1, level)
	if err := b.device.Render(); err != nil {
		debug.With("dmx").WithField("channel", channel).Errorf("render: %v", err)
	}
	debug.Log("rfu", "setting channel %d to %d", channel, level)

	for _, u := range b.units {
		if u.channel == channel {
			u.onLevelChanged()
		}
	}
	b.notify()
}

// Level returns the committed level of a channel (0 for invalid channels)
func (b *Backend) Level(channel int) uint8 {
	if !dmx.ValidChannel(channel) {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frame.Level(channel)
}

// HandleKeypad routes a keypad press to the unit at endpoint
func (b *Backend) HandleKeypad(endpoint string, col, row int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if u := b.unit(endpoint); u != nil {
		u.handleKeypad(col, row)
		b.notify()
	}
}

// HandleFader routes a fader move to the unit at endpoint
func (b *Backend) HandleFader(endpoint string, v float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if u := b.unit(endpoint); u != nil {
		u.handleFader(v)
	}
}

// SelectChannel selects ch on the unit at endpoint
func (b *Backend) SelectChannel(endpoint string, ch int) error {
	if !dmx.ValidChannel(ch) {
		return errors.Wrapf(ErrInvalidChannel, "%d", ch)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	u, ok := b.find(endpoint)
	if !ok {
		return errors.Wrap(control.ErrNoSuchEndpoint, endpoint)
	}
	u.selectChannel(ch)
	b.notify()
	return nil
}

// find looks a unit up by key, then by registered address
func (b *Backend) find(endpoint string) (*Unit, bool) {
	if u, ok := b.units[endpoint]; ok {
		return u, true
	}
	for _, u := range b.units {
		if u.addr == endpoint {
			return u, true
		}
	}
	return nil, false
}

func (b *Backend) unit(endpoint string) *Unit {
	u, ok := b.units[endpoint]
	if !ok {
		debug.With("rfu").WithField("endpoint", endpoint).Warn("message from unregistered surface")
		return nil
	}
	return u
}

// Units returns a snapshot of every unit, sorted by endpoint
func (b *Backend) Units() []UnitInfo {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]UnitInfo, 0, len(b.units))
	for ep, u := range b.units {
		info := UnitInfo{Endpoint: ep, Address: u.addr, Channel: u.channel, Readout: u.pad.String()}
		if dmx.ValidChannel(u.channel) {
			info.Level = b.frame.Level(u.channel)
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out
}

// Endpoints returns registered endpoints, sorted
func (b *Backend) Endpoints() []string {
	units := b.Units()
	out := make([]string, len(units))
	for i, u := range units {
		out[i] = u.Endpoint
	}
	return out
}

// report logs a failed send. Sends are fire-and-forget; a failure never
// stops the caller.
func (b *Backend) report(err error) {
	if err == nil {
		return
	}
	log := debug.With("rfu")
	if errors.Is(err, control.ErrNoSuchEndpoint) {
		log.WithFields(logrus.Fields{"error": err}).Error("unit registry and connections disagree")
		return
	}
	log.Warnf("send failed: %v", err)
}
