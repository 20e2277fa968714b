package device

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MockShell is a scripted in-memory Shell for tests. Run responses are
// matched by the first word of the command (e.g. "shell", "get-state");
// Screencap returns a fixed byte slice.
type MockShell struct {
	mu sync.Mutex

	Calls [][]string

	WMSize       string // e.g. "Physical size: 1080x1920\n"
	GetState     string
	Screencap_   []byte
	ScreencapErr error
	RunErr       error // if set, every Run call fails
	FailNTimes   int   // Run fails this many times before succeeding, for retry tests
	runCount     int
}

func (m *MockShell) Run(_ context.Context, args ...string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, append([]string(nil), args...))

	if m.RunErr != nil {
		return "", m.RunErr
	}
	if m.runCount < m.FailNTimes {
		m.runCount++
		return "", fmt.Errorf("transient failure %d", m.runCount)
	}

	if len(args) == 0 {
		return "", fmt.Errorf("empty command")
	}
	switch {
	case args[0] == "get-state":
		return m.GetState, nil
	case len(args) >= 3 && args[0] == "shell" && args[1] == "wm" && args[2] == "size":
		return m.WMSize, nil
	default:
		return strings.Join(args, " "), nil
	}
}

func (m *MockShell) Screencap(_ context.Context) ([]byte, error) {
	if m.ScreencapErr != nil {
		return nil, m.ScreencapErr
	}
	return m.Screencap_, nil
}
