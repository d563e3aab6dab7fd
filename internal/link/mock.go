package link

import (
	"bytes"
	"errors"
	"sync"
	"time"
)

// TestablePort is a Port with configurable, inspectable behaviour for unit
// tests. It requires no real serial hardware.
type TestablePort struct {
	mu sync.Mutex

	// ReadBuffer holds bytes returned by subsequent Read calls.
	ReadBuffer *bytes.Buffer

	// WriteBuffer captures bytes written to the port.
	WriteBuffer *bytes.Buffer

	// ReadError, if set, is returned once by the next Read call and then
	// cleared.
	ReadError error

	// WriteError, if set, is returned once by the next Write call and
	// then cleared.
	WriteError error

	// CloseError is returned by every call to Close.
	CloseError error

	// Closed reports whether Close has been called.
	Closed bool

	// ReadCalls and WriteCalls count invocations for assertions.
	ReadCalls  int
	WriteCalls int

	// ReadTimeout records the most recent value passed to SetReadTimeout.
	ReadTimeout time.Duration

	// BlockReads makes Read wait on readCond instead of returning 0 bytes
	// immediately when the buffer is empty, simulating the blocking
	// behaviour of a real port under a long timeout.
	BlockReads bool

	readCond *sync.Cond
}

// NewTestablePort returns a ready-to-use TestablePort with empty buffers.
func NewTestablePort() *TestablePort {
	p := &TestablePort{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
	}
	p.readCond = sync.NewCond(&p.mu)
	return p
}

// Read implements Port.
func (p *TestablePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.ReadCalls++

	if p.Closed {
		return 0, ErrPortGone
	}
	if p.ReadError != nil {
		err := p.ReadError
		p.ReadError = nil
		return 0, err
	}
	if p.BlockReads && p.ReadBuffer.Len() == 0 {
		for !p.Closed && p.ReadBuffer.Len() == 0 {
			p.readCond.Wait()
		}
		if p.Closed {
			return 0, ErrPortGone
		}
	}
	if p.ReadBuffer.Len() == 0 {
		return 0, nil
	}
	return p.ReadBuffer.Read(b)
}

// Write implements Port.
func (p *TestablePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.WriteCalls++

	if p.Closed {
		return 0, errors.New("testable port: closed")
	}
	if p.WriteError != nil {
		err := p.WriteError
		p.WriteError = nil
		return 0, err
	}
	return p.WriteBuffer.Write(b)
}

// Close implements Port.
func (p *TestablePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Closed = true
	p.readCond.Broadcast()
	return p.CloseError
}

// SetReadTimeout implements Port.
func (p *TestablePort) SetReadTimeout(timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.ReadTimeout = timeout
	return nil
}

// Feed appends data to the read buffer and wakes any blocked reader.
func (p *TestablePort) Feed(data string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.ReadBuffer.WriteString(data)
	p.readCond.Signal()
}

// FeedLine is Feed with a trailing LF appended.
func (p *TestablePort) FeedLine(line string) {
	p.Feed(line + "\n")
}

// Written returns everything written to the port so far.
func (p *TestablePort) Written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.WriteBuffer.Bytes()
}

// MockPortFactory implements PortFactory for testing, returning a
// pre-configured Port (or error) from Open and recording every call.
type MockPortFactory struct {
	mu sync.Mutex

	// Port is returned by Open.
	Port Port

	// Err, if set, is returned by Open instead of Port.
	Err error

	// OpenCalls records every call made to Open.
	OpenCalls []MockOpenCall
}

// MockOpenCall records the arguments of one Open call.
type MockOpenCall struct {
	PortName string
	Mode     Mode
}

// NewMockPortFactory returns a MockPortFactory that hands out port on every
// Open call.
func NewMockPortFactory(port Port) *MockPortFactory {
	return &MockPortFactory{Port: port}
}

// Open implements PortFactory.
func (f *MockPortFactory) Open(portName string, mode Mode) (Port, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.OpenCalls = append(f.OpenCalls, MockOpenCall{PortName: portName, Mode: mode})
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Port, nil
}

// LastCall returns the most recent Open call, or nil if Open was never
// called.
func (f *MockPortFactory) LastCall() *MockOpenCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.OpenCalls) == 0 {
		return nil
	}
	return &f.OpenCalls[len(f.OpenCalls)-1]
}
