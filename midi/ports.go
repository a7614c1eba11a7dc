package midi

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
)

// ErrNoPort is returned when no output port matches
var ErrNoPort = errors.New("no matching midi output port")

// scanTimeout bounds port enumeration (CoreMIDI can hang)
var scanTimeout = 3 * time.Second

// listOutPorts is swapped out in tests
var listOutPorts = func() []drivers.Out {
	return gomidi.GetOutPorts()
}

// OutPorts lists output ports, or fails if the driver doesn't answer in time
func OutPorts() ([]drivers.Out, error) {
	list := listOutPorts
	ch := make(chan []drivers.Out, 1)
	go func() {
		ch <- list()
	}()

	select {
	case outs := <-ch:
		return outs, nil
	case <-time.After(scanTimeout):
		// User needs to run: sudo killall coreaudiod midiserver
		return nil, errors.New("midi port scan timed out")
	}
}

// FindOutPort returns the first output port whose name contains name
// (case-insensitive). An empty name matches the first port.
func FindOutPort(name string) (drivers.Out, error) {
	outs, err := OutPorts()
	if err != nil {
		return nil, err
	}
	want := strings.ToLower(name)
	for _, port := range outs {
		if strings.Contains(strings.ToLower(port.String()), want) {
			return port, nil
		}
	}
	return nil, errors.Wrapf(ErrNoPort, "%q", name)
}
