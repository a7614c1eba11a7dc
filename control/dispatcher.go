// Package control routes addressed OSC messages from remote surfaces to
// handlers, and owns the outbound connection to each surface.
//
// Addresses are /<group>/<control>[/...]. A group is a table of named
// controls; each control has one Handler. Keypad controls carry the pressed
// cell in the address: /<group>/<control>/<col>/<row>, 1-indexed on the wire.
package control

import (
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"go-rfu/debug"
)

// Handler receives a routed message. endpoint is the sending host.
type Handler interface {
	Handle(endpoint, address string, payload []any)
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(endpoint, address string, payload []any)

func (f HandlerFunc) Handle(endpoint, address string, payload []any) {
	f(endpoint, address, payload)
}

// Preprocessor converts the first payload value before it reaches an
// action. Returning false drops the message.
type Preprocessor func(value any) (any, bool)

// Action is what a simple control does with a (preprocessed) value
type Action func(endpoint string, value any)

// KeypadAction receives a 0-indexed grid cell
type KeypadAction func(endpoint string, col, row int)

// Dispatcher owns the routing table and the outbound connections
type Dispatcher struct {
	mu     sync.RWMutex
	groups map[string]map[string]Handler

	conns *connections
}

// New creates a dispatcher. dial opens the outbound connection for an
// endpoint; see OSCDialer.
func New(dial Dialer) *Dispatcher {
	return &Dispatcher{
		groups: make(map[string]map[string]Handler),
		conns:  newConnections(dial),
	}
}

// RegisterGroup creates an empty control group. Registering an existing
// group keeps its controls.
func (d *Dispatcher) RegisterGroup(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.groups[name]; !ok {
		d.groups[name] = make(map[string]Handler)
	}
}

// Register binds a handler to group/name, replacing any previous one. The
// group is created if needed.
func (d *Dispatcher) Register(group, name string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	controls, ok := d.groups[group]
	if !ok {
		controls = make(map[string]Handler)
		d.groups[group] = controls
	}
	controls[name] = h
}

// RegisterSimpleControl binds a control that passes its first payload value
// through pre (if not nil) to action.
func (d *Dispatcher) RegisterSimpleControl(group, name string, action Action, pre Preprocessor) {
	d.Register(group, name, &simpleControl{action: action, pre: pre})
}

// RegisterKeypadControl binds a grid of momentary buttons. Only presses
// (value 1.0) reach action; releases are dropped.
func (d *Dispatcher) RegisterKeypadControl(group, name string, action KeypadAction) {
	d.Register(group, name, &keypadControl{action: action})
}

// Groups returns group -> control names
func (d *Dispatcher) Groups() map[string][]string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string][]string, len(d.groups))
	for g, controls := range d.groups {
		names := make([]string, 0, len(controls))
		for n := range controls {
			names = append(names, n)
		}
		out[g] = names
	}
	return out
}

// Dispatch routes one inbound message. Malformed or unknown addresses are
// logged and dropped.
func (d *Dispatcher) Dispatch(endpoint, address string, payload []any) {
	segments := strings.Split(address, "/")
	if len(segments) < 3 {
		debug.Log("dispatch", "dropping short address %q from %s", address, endpoint)
		return
	}
	groupName, controlName := segments[1], segments[2]

	d.mu.RLock()
	group, ok := d.groups[groupName]
	var h Handler
	if ok {
		h = group[controlName]
	}
	d.mu.RUnlock()

	log := debug.With("dispatch").WithFields(logrus.Fields{
		"endpoint": endpoint,
		"address":  address,
	})
	if !ok {
		log.Warnf("unknown control group %q", groupName)
		return
	}
	if h == nil {
		log.Warnf("unknown control %q in group %q", controlName, groupName)
		return
	}

	h.Handle(endpoint, address, payload)
}

type simpleControl struct {
	action Action
	pre    Preprocessor
}

func (c *simpleControl) Handle(endpoint, address string, payload []any) {
	if len(payload) == 0 {
		debug.Log("dispatch", "%s: empty payload from %s", address, endpoint)
		return
	}
	value := payload[0]
	if c.pre != nil {
		var ok bool
		if value, ok = c.pre(value); !ok {
			return
		}
	}
	c.action(endpoint, value)
}

type keypadControl struct {
	action KeypadAction
}

func (c *keypadControl) Handle(endpoint, address string, payload []any) {
	if len(payload) == 0 {
		return
	}
	if _, pressed := OnlyPress(payload[0]); !pressed {
		return
	}

	col, row, err := parseCell(address)
	if err != nil {
		debug.With("dispatch").WithField("endpoint", endpoint).Warnf("bad keypad address %q: %v", address, err)
		return
	}
	c.action(endpoint, col, row)
}

// parseCell pulls the 0-indexed cell out of /<group>/<control>/<col>/<row>
func parseCell(address string) (col, row int, err error) {
	segments := strings.Split(address, "/")
	if len(segments) < 5 {
		return 0, 0, errors.Errorf("want /group/control/col/row, got %d segments", len(segments))
	}
	if col, err = strconv.Atoi(segments[3]); err != nil {
		return 0, 0, errors.Wrap(err, "column")
	}
	if row, err = strconv.Atoi(segments[4]); err != nil {
		return 0, 0, errors.Wrap(err, "row")
	}
	return col - 1, row - 1, nil
}

// Float converts any OSC numeric argument to float64
func Float(value any) (any, bool) {
	switch v := value.(type) {
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return nil, false
}

// OnlyPress passes a value only when it is exactly 1 (a button going down)
func OnlyPress(value any) (any, bool) {
	f, ok := Float(value)
	if !ok || f.(float64) != 1.0 {
		return nil, false
	}
	return value, true
}
