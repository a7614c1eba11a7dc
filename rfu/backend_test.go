package rfu

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/hypebeast/go-osc/osc"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"go-rfu/control"
	"go-rfu/dmx"
	"go-rfu/numpad"
)

type mockRemote struct {
	mock.Mock
}

func (m *mockRemote) Connect(endpoint string) (string, error) {
	args := m.Called(endpoint)
	return args.String(0), args.Error(1)
}

func (m *mockRemote) Disconnect(endpoint string) {
	m.Called(endpoint)
}

func (m *mockRemote) SetReadout(endpoint, text string) error {
	return m.Called(endpoint, text).Error(0)
}

func (m *mockRemote) SetCurrentChannel(endpoint string, channel int) error {
	return m.Called(endpoint, channel).Error(0)
}

func (m *mockRemote) SetLevel(endpoint string, unit float32) error {
	return m.Called(endpoint, unit).Error(0)
}

func (m *mockRemote) SetLevelIndicator(endpoint string, level uint8) error {
	return m.Called(endpoint, level).Error(0)
}

// expectSelect expects the three messages selectChannel sends
func expectSelect(m *mockRemote, ep string, ch int, level uint8) {
	m.On("SetCurrentChannel", ep, ch).Return(nil).Once()
	m.On("SetLevel", ep, dmx.LevelToUnit(level)).Return(nil).Once()
	m.On("SetLevelIndicator", ep, level).Return(nil).Once()
}

func addUnit(t *testing.T, b *Backend, m *mockRemote, ep string) {
	t.Helper()
	m.On("Connect", ep).Return(ep, nil).Once()
	expectSelect(m, ep, 1, b.Level(1))
	require.NoError(t, b.AddUnit(ep))
}

// keyFor finds the keypad cell for a symbol
func keyFor(sym numpad.Symbol) (int, int) {
	for col := 0; col < numpad.Cols; col++ {
		for row := 0; row < numpad.Rows; row++ {
			if numpad.Keymap[col][row] == sym {
				return col, row
			}
		}
	}
	panic("no key")
}

func pressAll(b *Backend, ep string, syms ...numpad.Symbol) {
	for _, s := range syms {
		col, row := keyFor(s)
		b.HandleKeypad(ep, col, row)
	}
}

func TestAddUnitSelectsChannelOne(t *testing.T) {
	m := &mockRemote{}
	b := NewBackend(dmx.NewMemory(), m)

	addUnit(t, b, m, "10.0.0.5")
	m.AssertExpectations(t)
	m.AssertNumberOfCalls(t, "SetCurrentChannel", 1)
	m.AssertNumberOfCalls(t, "SetLevel", 1)
	m.AssertNumberOfCalls(t, "SetLevelIndicator", 1)

	require.Equal(t, []UnitInfo{{Endpoint: "10.0.0.5", Address: "10.0.0.5", Channel: 1, Readout: "000"}}, b.Units())

	err := b.AddUnit("10.0.0.5")
	require.ErrorIs(t, err, ErrUnitExists)
}

func TestAddUnitWithSendPortIsKeyedByHost(t *testing.T) {
	m := &mockRemote{}
	b := NewBackend(dmx.NewMemory(), m)
	m.On("Connect", "10.0.0.5:9001").Return("10.0.0.5", nil).Once()
	expectSelect(m, "10.0.0.5", 1, 0)
	require.NoError(t, b.AddUnit("10.0.0.5:9001"))

	require.Equal(t, []UnitInfo{{Endpoint: "10.0.0.5", Address: "10.0.0.5:9001", Channel: 1, Readout: "000"}}, b.Units())
	require.ErrorIs(t, b.AddUnit("10.0.0.5"), ErrUnitExists)
	require.ErrorIs(t, b.AddUnit("10.0.0.5:9001"), ErrUnitExists)

	// inbound traffic carries the bare host
	m.On("SetLevelIndicator", "10.0.0.5", uint8(255)).Return(nil).Once()
	b.HandleFader("10.0.0.5", 1)
	require.Equal(t, uint8(255), b.Level(1))

	m.On("Disconnect", "10.0.0.5").Return().Once()
	require.True(t, b.RemoveUnit("10.0.0.5:9001"))
	require.Empty(t, b.Units())
	m.AssertExpectations(t)
}

func TestAddUnitConnectFailure(t *testing.T) {
	m := &mockRemote{}
	b := NewBackend(dmx.NewMemory(), m)
	m.On("Connect", "nowhere").Return("", errors.New("refused")).Once()

	require.Error(t, b.AddUnit("nowhere"))
	require.Empty(t, b.Units())
	m.AssertExpectations(t)
}

func TestRemoveUnit(t *testing.T) {
	m := &mockRemote{}
	b := NewBackend(dmx.NewMemory(), m)
	addUnit(t, b, m, "a")

	m.On("Disconnect", "a").Return().Once()
	require.True(t, b.RemoveUnit("a"))
	require.False(t, b.RemoveUnit("a"))
	require.False(t, b.RemoveUnit("never"))
	require.Empty(t, b.Endpoints())
	m.AssertExpectations(t)
}

func TestSetLevelRoundTrip(t *testing.T) {
	dev := dmx.NewMemory()
	b := NewBackend(dev, &mockRemote{})

	for _, ch := range []int{1, 256, 512} {
		for _, v := range []uint8{0, 1, 127, 255} {
			require.NoError(t, b.SetLevel(ch, v))
			require.Equal(t, v, b.Level(ch))
			require.Equal(t, v, dev.ReadFrame()[ch-1])
		}
	}
	require.Equal(t, 12, dev.Renders())

	require.ErrorIs(t, b.SetLevel(0, 1), ErrInvalidChannel)
	require.ErrorIs(t, b.SetLevel(513, 1), ErrInvalidChannel)
	require.Zero(t, b.Level(0))
}

func TestBackendSeedsFromDevice(t *testing.T) {
	dev := dmx.NewMemory()
	dev.WriteFrame(9, 42)
	b := NewBackend(dev, &mockRemote{})
	require.Equal(t, uint8(42), b.Level(10))
}

func TestFanOut(t *testing.T) {
	m := &mockRemote{}
	b := NewBackend(dmx.NewMemory(), m)
	addUnit(t, b, m, "a")
	addUnit(t, b, m, "b")
	addUnit(t, b, m, "c")

	// c watches a different channel
	expectSelect(m, "c", 2, 0)
	require.NoError(t, b.SelectChannel("c", 2))

	m.On("SetLevelIndicator", "a", uint8(127)).Return(nil).Once()
	m.On("SetLevelIndicator", "b", uint8(127)).Return(nil).Once()
	b.HandleFader("a", 0.5)

	m.AssertExpectations(t)
	require.Equal(t, uint8(127), b.Level(1))
	// a: select + fan-out, b: select + fan-out, c: two selects
	m.AssertNumberOfCalls(t, "SetLevelIndicator", 6)
	// the fader path never resends the level
	m.AssertNumberOfCalls(t, "SetLevel", 4)
}

func TestFaderClampsAndIgnoresUnknown(t *testing.T) {
	m := &mockRemote{}
	b := NewBackend(dmx.NewMemory(), m)
	addUnit(t, b, m, "a")

	m.On("SetLevelIndicator", "a", uint8(255)).Return(nil).Once()
	b.HandleFader("a", 1.5)
	require.Equal(t, uint8(255), b.Level(1))

	m.On("SetLevelIndicator", "a", uint8(0)).Return(nil).Once()
	b.HandleFader("a", -3)
	require.Equal(t, uint8(0), b.Level(1))

	b.HandleFader("stranger", 1)
	require.Equal(t, uint8(0), b.Level(1))
	m.AssertExpectations(t)
}

func TestKeypadSelectsChannel(t *testing.T) {
	m := &mockRemote{}
	b := NewBackend(dmx.NewMemory(), m)
	require.NoError(t, b.SetLevel(512, 51))
	addUnit(t, b, m, "a")

	m.On("SetReadout", "a", "005").Return(nil).Once()
	m.On("SetReadout", "a", "051").Return(nil).Once()
	m.On("SetReadout", "a", "512").Return(nil).Once()
	expectSelect(m, "a", 512, 51)
	m.On("SetReadout", "a", "000").Return(nil).Once()

	pressAll(b, "a", 5, 1, 2, numpad.Enter)

	m.AssertExpectations(t)
	require.Equal(t, 512, b.Units()[0].Channel)
	require.Equal(t, "000", b.Units()[0].Readout)
}

func TestKeypadRejectsOutOfRange(t *testing.T) {
	m := &mockRemote{}
	b := NewBackend(dmx.NewMemory(), m)
	addUnit(t, b, m, "a")

	m.On("SetReadout", "a", "009").Return(nil).Once()
	m.On("SetReadout", "a", "099").Return(nil).Once()
	m.On("SetReadout", "a", "999").Return(nil).Once()
	m.On("SetReadout", "a", "000").Return(nil).Once()
	pressAll(b, "a", 9, 9, 9, numpad.Enter)

	m.AssertExpectations(t)
	m.AssertNumberOfCalls(t, "SetCurrentChannel", 1) // only the initial select
	require.Equal(t, 1, b.Units()[0].Channel)
}

func TestKeypadZeroIsNotAChannel(t *testing.T) {
	m := &mockRemote{}
	b := NewBackend(dmx.NewMemory(), m)
	addUnit(t, b, m, "a")

	m.On("SetReadout", "a", "000").Return(nil).Once()
	pressAll(b, "a", numpad.Enter)
	m.AssertExpectations(t)
	m.AssertNumberOfCalls(t, "SetCurrentChannel", 1)
}

func TestKeypadClearAndInvalidCell(t *testing.T) {
	m := &mockRemote{}
	b := NewBackend(dmx.NewMemory(), m)
	addUnit(t, b, m, "a")

	m.On("SetReadout", "a", "007").Return(nil).Once()
	m.On("SetReadout", "a", "000").Return(nil).Once()
	pressAll(b, "a", 7, numpad.Clear)

	// out of grid: dropped, nothing sent
	b.HandleKeypad("a", 5, 5)
	m.AssertExpectations(t)
	m.AssertNumberOfCalls(t, "SetReadout", 2)
}

func TestSelectDoesNotChangeLevel(t *testing.T) {
	m := &mockRemote{}
	b := NewBackend(dmx.NewMemory(), m)
	addUnit(t, b, m, "a")
	require.NoError(t, b.SetLevel(300, 200))

	expectSelect(m, "a", 300, 200)
	require.NoError(t, b.SelectChannel("a", 300))
	require.Equal(t, uint8(200), b.Level(300))

	require.ErrorIs(t, b.SelectChannel("a", 0), ErrInvalidChannel)
	require.ErrorIs(t, b.SelectChannel("zz", 3), control.ErrNoSuchEndpoint)
	m.AssertExpectations(t)
}

func TestSendFailureDoesNotStopFanOut(t *testing.T) {
	m := &mockRemote{}
	b := NewBackend(dmx.NewMemory(), m)
	addUnit(t, b, m, "a")
	addUnit(t, b, m, "b")

	m.On("SetLevelIndicator", "a", uint8(10)).Return(errors.Wrap(control.ErrNoSuchEndpoint, "a")).Once()
	m.On("SetLevelIndicator", "b", uint8(10)).Return(nil).Once()
	require.NoError(t, b.SetLevel(1, 10))
	m.AssertExpectations(t)
}

func TestUpdatesSignal(t *testing.T) {
	b := NewBackend(dmx.NewMemory(), &mockRemote{})
	require.NoError(t, b.SetLevel(1, 1))
	require.NoError(t, b.SetLevel(1, 2)) // coalesced
	select {
	case <-b.Updates():
	default:
		t.Fatal("no update signalled")
	}
	select {
	case <-b.Updates():
		t.Fatal("updates should coalesce")
	default:
	}
}

// wire captures what the real dispatcher sends
type wire struct {
	mu   sync.Mutex
	msgs []*osc.Message
}

func (w *wire) Send(p osc.Packet) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, p.(*osc.Message))
	return nil
}

func TestEndToEndThroughDispatcher(t *testing.T) {
	wires := map[string]*wire{}
	d := control.New(func(ep string) (control.Sender, error) {
		w := &wire{}
		wires[ep] = w
		return w, nil
	})
	b := NewBackend(dmx.NewMemory(), d)
	Bind(d, b)

	require.NoError(t, b.AddUnit("10.0.0.5"))
	require.NoError(t, b.AddUnit("10.0.0.6"))

	w := wires["10.0.0.5"]
	require.Len(t, w.msgs, 3)
	require.Equal(t, control.AddressCurrentChannel, w.msgs[0].Address)
	require.Equal(t, []any{"1"}, w.msgs[0].Arguments)
	require.Equal(t, control.AddressLevel, w.msgs[1].Address)
	require.Equal(t, control.AddressLevelIndicator, w.msgs[2].Address)
	require.Equal(t, []any{"0"}, w.msgs[2].Arguments)

	// fader on .5 mirrors to .6
	d.Dispatch("10.0.0.5", "/RFU/Level", []any{float32(0.5)})
	require.Equal(t, uint8(127), b.Level(1))
	other := wires["10.0.0.6"].msgs
	require.Equal(t, control.AddressLevelIndicator, other[len(other)-1].Address)
	require.Equal(t, []any{"127"}, other[len(other)-1].Arguments)

	// 5,1,2,Enter: cells (1,1) (0,0) (1,0) (2,3), 1-indexed on the wire
	for _, cell := range []string{"2/2", "1/1", "2/1", "3/4"} {
		d.Dispatch("10.0.0.5", "/RFU/DMXEntry/"+cell, []any{float32(1)})
		d.Dispatch("10.0.0.5", "/RFU/DMXEntry/"+cell, []any{float32(0)})
	}
	var sawChannel bool
	for _, m := range w.msgs {
		if m.Address == control.AddressCurrentChannel && m.Arguments[0] == "512" {
			sawChannel = true
		}
	}
	require.True(t, sawChannel)
	require.Equal(t, "000", w.msgs[len(w.msgs)-1].Arguments[0])

	// removal drops the connection too
	require.True(t, b.RemoveUnit("10.0.0.5"))
	require.Equal(t, []string{"10.0.0.6"}, d.Endpoints())
}

func TestSurfaceWithSendPortDrivesItsUnit(t *testing.T) {
	wires := map[string]*wire{}
	d := control.New(func(ep string) (control.Sender, error) {
		w := &wire{}
		wires[ep] = w
		return w, nil
	})
	b := NewBackend(dmx.NewMemory(), d)
	Bind(d, b)

	require.NoError(t, b.AddUnit("127.0.0.1:9001"))
	require.Contains(t, wires, "127.0.0.1:9001")
	require.Equal(t, []string{"127.0.0.1"}, d.Endpoints())

	srv, err := control.Listen("127.0.0.1:0", d)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ctx) }()

	client := osc.NewClient("127.0.0.1", srv.Addr().(*net.UDPAddr).Port)
	require.NoError(t, client.Send(osc.NewMessage(control.AddressLevel, float32(1))))
	require.Eventually(t, func() bool {
		return b.Level(1) == 255
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, srv.Close())
	require.NoError(t, <-errc)

	require.True(t, b.RemoveUnit("127.0.0.1:9001"))
	require.Empty(t, d.Endpoints())
}

// run with -race: registry changes and dispatch share the backend lock
func TestRegistryChangesDuringDispatch(t *testing.T) {
	d := control.New(func(string) (control.Sender, error) {
		return &wire{}, nil
	})
	b := NewBackend(dmx.NewMemory(), d)
	Bind(d, b)

	const workers = 4
	var wg sync.WaitGroup
	for g := 0; g < workers; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			ep := fmt.Sprintf("10.0.1.%d", g+1)
			neighbour := fmt.Sprintf("10.0.1.%d", (g+1)%workers+1)
			for i := 0; i < 200; i++ {
				_ = b.AddUnit(ep)
				d.Dispatch(ep, "/RFU/Level", []any{float32(i % 2)})
				d.Dispatch(ep, "/RFU/DMXEntry/2/2", []any{float32(1)}) // 5
				d.Dispatch(ep, "/RFU/DMXEntry/3/4", []any{float32(1)}) // Enter
				d.Dispatch(neighbour, "/RFU/Level", []any{float32(0.5)})
				b.Units()
				b.RemoveUnit(ep)
			}
		}(g)
	}
	wg.Wait()

	require.Empty(t, b.Units())
	require.Empty(t, d.Endpoints())
}
