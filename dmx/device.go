package dmx

import (
	"io"
	"sync"
)

// Device is an output that holds a frame and commits it on Render
type Device interface {
	io.Closer

	ReadFrame() Frame
	WriteFrame(index int, value uint8)
	Render() error
}

// Memory is a Device with no hardware behind it. Used when no output is
// configured and in tests.
type Memory struct {
	mu      sync.Mutex
	frame   Frame
	renders int
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) ReadFrame() Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frame
}

func (m *Memory) WriteFrame(index int, value uint8) {
	if index < 0 || index >= UniverseSize {
		return
	}
	m.mu.Lock()
	m.frame[index] = value
	m.mu.Unlock()
}

func (m *Memory) Render() error {
	m.mu.Lock()
	m.renders++
	m.mu.Unlock()
	return nil
}

// Renders returns how many times Render was called
func (m *Memory) Renders() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.renders
}

func (m *Memory) Close() error {
	return nil
}
