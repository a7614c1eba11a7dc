package dmx

import (
	"io"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"go-rfu/debug"
)

// ErrPortOpen is returned when no DMX widget could be opened
var ErrPortOpen = errors.New("could not open dmx port")

// Enttec DMX USB Pro framing
const (
	enttecStart     byte = 0x7E
	enttecEnd       byte = 0xE7
	enttecSendDMX   byte = 6
	enttecStartCode byte = 0x00
	enttecBaud           = 57600

	// FTDI chip used by the widget
	enttecVID = "0403"
	enttecPID = "6001"
)

// Enttec drives an Enttec DMX USB Pro widget. Writes go to a local frame;
// Render sends the whole universe in one packet.
type Enttec struct {
	mu    sync.Mutex
	port  io.WriteCloser
	name  string
	frame Frame
}

// NewEnttec wraps an already open port
func NewEnttec(name string, port io.WriteCloser) *Enttec {
	return &Enttec{name: name, port: port}
}

// OpenEnttec opens the widget on the named serial port
func OpenEnttec(portName string) (*Enttec, error) {
	port, err := serial.Open(portName, &serial.Mode{BaudRate: enttecBaud})
	if err != nil {
		return nil, errors.Wrapf(ErrPortOpen, "%s: %v", portName, err)
	}
	debug.Log("dmx", "opened enttec on %s", portName)
	return NewEnttec(portName, port), nil
}

// SelectPort finds a widget: an FTDI port first, then anything that looks
// like a USB serial adapter.
func SelectPort() (string, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err == nil {
		for _, d := range details {
			if d.IsUSB && strings.EqualFold(d.VID, enttecVID) && strings.EqualFold(d.PID, enttecPID) {
				return d.Name, nil
			}
		}
	}

	names, err := serial.GetPortsList()
	if err != nil {
		return "", errors.Wrap(ErrPortOpen, err.Error())
	}
	for _, name := range names {
		if looksLikeUSBSerial(name) {
			return name, nil
		}
	}
	return "", errors.Wrap(ErrPortOpen, "no usb serial port found")
}

func looksLikeUSBSerial(name string) bool {
	lower := strings.ToLower(name)
	for _, hint := range []string{"ttyusb", "usbserial", "cu.usb"} {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return strings.HasPrefix(lower, "com") // windows

}

// Name returns the serial port the widget is on
func (e *Enttec) Name() string {
	return e.name
}

func (e *Enttec) ReadFrame() Frame {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frame
}

func (e *Enttec) WriteFrame(index int, value uint8) {
	if index < 0 || index >= UniverseSize {
		return
	}
	e.mu.Lock()
	e.frame[index] = value
	e.mu.Unlock()
}

func (e *Enttec) Render() error {
	e.mu.Lock()
	packet := encodeSendDMX(&e.frame)
	e.mu.Unlock()

	if _, err := e.port.Write(packet); err != nil {
		return errors.Wrapf(err, "write dmx packet to %s", e.name)
	}
	return nil
}

func (e *Enttec) Close() error {
	return e.port.Close()
}

// encodeSendDMX builds an "Output Only Send DMX Packet" request
func encodeSendDMX(f *Frame) []byte {
	n := len(f) + 1 // start code + slots
	packet := make([]byte, 0, n+5)
	packet = append(packet, enttecStart, enttecSendDMX, byte(n&0xFF), byte(n>>8))
	packet = append(packet, enttecStartCode)
	packet = append(packet, f[:]...)
	packet = append(packet, enttecEnd)
	return packet
}
