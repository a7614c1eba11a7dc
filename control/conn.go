package control

import (
	"net"
	"sort"
	"strconv"
	"sync"

	"github.com/hypebeast/go-osc/osc"
	"github.com/pkg/errors"

	"go-rfu/debug"
)

// Well-known feedback addresses on a remote surface
const (
	AddressReadout        = "/RFU/Readout"
	AddressCurrentChannel = "/RFU/CurrentChannel"
	AddressLevel          = "/RFU/Level"
	AddressLevelIndicator = "/RFU/LevelIndicator"
)

// ErrNoSuchEndpoint is returned when sending to an endpoint that was never
// connected. It means the unit registry and the connection table disagree.
var ErrNoSuchEndpoint = errors.New("no such endpoint")

// Sender delivers a packet to one remote surface. *osc.Client is a Sender.
type Sender interface {
	Send(packet osc.Packet) error
}

// Dialer opens the outbound connection for an endpoint
type Dialer func(endpoint string) (Sender, error)

// OSCDialer returns a Dialer sending UDP to endpoint:port. An endpoint
// written as host:port overrides the port.
func OSCDialer(port int) Dialer {
	return func(endpoint string) (Sender, error) {
		host, p := endpoint, port
		if h, ps, err := net.SplitHostPort(endpoint); err == nil {
			n, err := strconv.Atoi(ps)
			if err != nil {
				return nil, errors.Wrapf(err, "endpoint %s", endpoint)
			}
			host, p = h, n
		}
		if host == "" {
			return nil, errors.Errorf("endpoint %q has no host", endpoint)
		}
		return osc.NewClient(host, p), nil
	}
}

// EndpointHost returns the address datagrams from endpoint arrive from: a
// host:port endpoint loses its port and a hostname is resolved, preferring
// IPv4. This is the key the receive loop dispatches under.
func EndpointHost(endpoint string) (string, error) {
	host := endpoint
	if h, _, err := net.SplitHostPort(endpoint); err == nil {
		host = h
	}
	if host == "" {
		return "", errors.Errorf("endpoint %q has no host", endpoint)
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.String(), nil
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return "", errors.Wrapf(err, "resolve %s", host)
	}
	if len(ips) == 0 {
		return "", errors.Errorf("resolve %s: no addresses", host)
	}
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			return v4.String(), nil
		}
	}
	return ips[0].String(), nil
}

type connections struct {
	mu      sync.RWMutex
	dial    Dialer
	senders map[string]Sender
}

func newConnections(dial Dialer) *connections {
	return &connections{
		dial:    dial,
		senders: make(map[string]Sender),
	}
}

// Connect opens (or keeps) the outbound connection for endpoint and returns
// the host it is keyed under (see EndpointHost). The dialer still sees the
// endpoint as written, so a host:port send override survives.
func (d *Dispatcher) Connect(endpoint string) (string, error) {
	host, err := EndpointHost(endpoint)
	if err != nil {
		return "", errors.Wrapf(err, "connect %s", endpoint)
	}

	c := d.conns
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.senders[host]; ok {
		return host, nil
	}
	sender, err := c.dial(endpoint)
	if err != nil {
		return "", errors.Wrapf(err, "connect %s", endpoint)
	}
	c.senders[host] = sender
	debug.Log("conn", "connected %s as %s", endpoint, host)
	return host, nil
}

// Disconnect forgets the connection keyed by host. Unknown hosts are ignored.
func (d *Dispatcher) Disconnect(host string) {
	c := d.conns
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.senders, host)
}

// Endpoints returns connected endpoints, sorted
func (d *Dispatcher) Endpoints() []string {
	c := d.conns
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.senders))
	for ep := range c.senders {
		out = append(out, ep)
	}
	sort.Strings(out)
	return out
}

// SendValue sends a single-argument message to endpoint
func (d *Dispatcher) SendValue(endpoint, address string, value any) error {
	c := d.conns
	c.mu.RLock()
	sender, ok := c.senders[endpoint]
	c.mu.RUnlock()
	if !ok {
		return errors.Wrapf(ErrNoSuchEndpoint, "%s %s", endpoint, address)
	}

	if err := sender.Send(osc.NewMessage(address, value)); err != nil {
		return errors.Wrapf(err, "send %s to %s", address, endpoint)
	}
	debug.LogEvery(50, "conn", "sent %s=%v to %s", address, value, endpoint)
	return nil
}

// SetReadout shows the keypad buffer
func (d *Dispatcher) SetReadout(endpoint, text string) error {
	return d.SendValue(endpoint, AddressReadout, text)
}

// SetCurrentChannel shows the selected channel
func (d *Dispatcher) SetCurrentChannel(endpoint string, channel int) error {
	return d.SendValue(endpoint, AddressCurrentChannel, strconv.Itoa(channel))
}

// SetLevel moves the surface's fader
func (d *Dispatcher) SetLevel(endpoint string, unit float32) error {
	return d.SendValue(endpoint, AddressLevel, unit)
}

// SetLevelIndicator shows the level as 0-255 text
func (d *Dispatcher) SetLevelIndicator(endpoint string, level uint8) error {
	return d.SendValue(endpoint, AddressLevelIndicator, strconv.Itoa(int(level)))
}
