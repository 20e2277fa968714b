// Package device implements the device driver: primitive actions
// issued to an Android Automotive head unit over a line-oriented shell
// transport, with bounded retries, cooperative cancellation, and screen
// geometry caching.
//
// The driver is built around an injected Shell transport instead of a
// hard-coded subprocess call so it is testable without a device.
package device

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/autoqa/agentcore/internal/control"
)

// Key codes for press_key and the named shortcuts.
const (
	KeyHome       = 3
	KeyBack       = 4
	KeyEnter      = 66
	KeyMenu       = 82
	KeyRecentApps = 187
)

// Shell is the line-oriented transport the Device Driver issues commands
// over. A concrete implementation talks to `adb shell` (or an equivalent
// vendor bridge); tests use a scripted fake.
type Shell interface {
	// Run executes a shell command and returns its combined stdout.
	Run(ctx context.Context, args ...string) (string, error)
	// Screencap captures the device framebuffer as PNG bytes, trying
	// exec-out first, falling back to push/pull via /sdcard/screen.png.
	Screencap(ctx context.Context) ([]byte, error)
}

// Result is the outcome of a single primitive invocation.
type Result struct {
	Success    bool
	Output     string
	Error      string
	DurationMS int64
}

// DeviceInfo summarizes the connected device.
type DeviceInfo struct {
	Serial    string
	Model     string
	OSVersion string
	Width     int
	Height    int
	Density   int
}

// Driver issues primitive actions against a device via a Shell transport.
type Driver struct {
	shell      Shell
	controller *control.Controller
	serial     string
	retries    int
	timeout    time.Duration

	width  int
	height int
}

// Option configures a Driver at construction.
type Option func(*Driver)

// WithRetries overrides the default retry count (3) for transport errors.
func WithRetries(n int) Option { return func(d *Driver) { d.retries = n } }

// WithTimeout overrides the default per-call timeout (10s).
func WithTimeout(t time.Duration) Option { return func(d *Driver) { d.timeout = t } }

// New builds a Driver. The controller is consulted by every primitive
// before issuing its transport call; it is the only cancellation and
// pause mechanism.
func New(shell Shell, controller *control.Controller, serial string, opts ...Option) *Driver {
	d := &Driver{
		shell:      shell,
		controller: controller,
		serial:     serial,
		retries:    3,
		timeout:    10 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// retryable runs fn up to d.retries times with a short linear backoff,
// stopping immediately if the controller reports stop.
func (d *Driver) retryable(ctx context.Context, fn func(ctx context.Context) (string, error)) Result {
	start := time.Now()

	if d.controller != nil && !d.controller.CheckAndWait() {
		return Result{Success: false, Error: "stopped", DurationMS: elapsedMS(start)}
	}

	var lastErr error
	attempts := d.retries
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		if d.controller != nil && d.controller.StopRequested() {
			return Result{Success: false, Error: "stopped", DurationMS: elapsedMS(start)}
		}

		callCtx, cancel := context.WithTimeout(ctx, d.timeout)
		out, err := fn(callCtx)
		cancel()

		if err == nil {
			return Result{Success: true, Output: out, DurationMS: elapsedMS(start)}
		}
		lastErr = err
		if attempt < attempts-1 {
			time.Sleep(time.Duration(attempt+1) * 200 * time.Millisecond)
		}
	}
	return Result{Success: false, Error: lastErr.Error(), DurationMS: elapsedMS(start)}
}

func elapsedMS(start time.Time) int64 { return time.Since(start).Milliseconds() }

// Tap issues a tap at (x, y).
func (d *Driver) Tap(ctx context.Context, x, y int) Result {
	return d.retryable(ctx, func(ctx context.Context) (string, error) {
		return d.shell.Run(ctx, "shell", "input", "tap", strconv.Itoa(x), strconv.Itoa(y))
	})
}

// TapPercent converts a resolution-independent percentage point to device
// pixels and taps it, for callers that only know a target's relative
// position.
func (d *Driver) TapPercent(ctx context.Context, xPercent, yPercent float64) Result {
	w, h := d.ScreenDimensions(ctx)
	x := int(xPercent / 100.0 * float64(w))
	y := int(yPercent / 100.0 * float64(h))
	return d.Tap(ctx, x, y)
}

// DoubleTap issues two taps at (x, y) delayMs apart (default 50ms if <= 0).
func (d *Driver) DoubleTap(ctx context.Context, x, y int, delayMs int) Result {
	if delayMs <= 0 {
		delayMs = 50
	}
	first := d.Tap(ctx, x, y)
	if !first.Success {
		return first
	}
	time.Sleep(time.Duration(delayMs) * time.Millisecond)
	return d.Tap(ctx, x, y)
}

// LongPress issues a swipe-in-place with the given hold duration (default
// 1000ms if <= 0), the conventional way of simulating a long press over an
// `input` shell that has no dedicated long-press primitive.
func (d *Driver) LongPress(ctx context.Context, x, y int, durationMs int) Result {
	if durationMs <= 0 {
		durationMs = 1000
	}
	return d.Swipe(ctx, x, y, x, y, durationMs)
}

// Swipe issues a swipe from (x1, y1) to (x2, y2) over durationMs (default
// 300ms if <= 0).
func (d *Driver) Swipe(ctx context.Context, x1, y1, x2, y2 int, durationMs int) Result {
	if durationMs <= 0 {
		durationMs = 300
	}
	return d.retryable(ctx, func(ctx context.Context) (string, error) {
		return d.shell.Run(ctx, "shell", "input", "swipe",
			strconv.Itoa(x1), strconv.Itoa(y1), strconv.Itoa(x2), strconv.Itoa(y2), strconv.Itoa(durationMs))
	})
}

// directional distance/duration conveniences, relative to screen center.
func (d *Driver) SwipeUp(ctx context.Context, distance, durationMs int) Result {
	w, h := d.ScreenDimensions(ctx)
	cx := w / 2
	return d.Swipe(ctx, cx, h/2+distance/2, cx, h/2-distance/2, durationMs)
}

func (d *Driver) SwipeDown(ctx context.Context, distance, durationMs int) Result {
	w, h := d.ScreenDimensions(ctx)
	cx := w / 2
	return d.Swipe(ctx, cx, h/2-distance/2, cx, h/2+distance/2, durationMs)
}

func (d *Driver) SwipeLeft(ctx context.Context, distance, durationMs int) Result {
	w, h := d.ScreenDimensions(ctx)
	cy := h / 2
	return d.Swipe(ctx, w/2+distance/2, cy, w/2-distance/2, cy, durationMs)
}

func (d *Driver) SwipeRight(ctx context.Context, distance, durationMs int) Result {
	w, h := d.ScreenDimensions(ctx)
	cy := h / 2
	return d.Swipe(ctx, w/2-distance/2, cy, w/2+distance/2, cy, durationMs)
}

// InputText types s, escaping whitespace the way the underlying shell's
// `input text` command requires (spaces must become `%s`).
func (d *Driver) InputText(ctx context.Context, s string) Result {
	escaped := escapeShellText(s)
	return d.retryable(ctx, func(ctx context.Context) (string, error) {
		return d.shell.Run(ctx, "shell", "input", "text", escaped)
	})
}

func escapeShellText(s string) string {
	replacer := strings.NewReplacer(
		" ", "%s",
		"&", "\\&",
		"<", "\\<",
		">", "\\>",
		"|", "\\|",
		";", "\\;",
		"(", "\\(",
		")", "\\)",
	)
	return replacer.Replace(s)
}

// PressKey sends a raw keyevent code.
func (d *Driver) PressKey(ctx context.Context, code int) Result {
	return d.retryable(ctx, func(ctx context.Context) (string, error) {
		return d.shell.Run(ctx, "shell", "input", "keyevent", strconv.Itoa(code))
	})
}

func (d *Driver) PressHome(ctx context.Context) Result  { return d.PressKey(ctx, KeyHome) }
func (d *Driver) PressBack(ctx context.Context) Result  { return d.PressKey(ctx, KeyBack) }
func (d *Driver) PressEnter(ctx context.Context) Result { return d.PressKey(ctx, KeyEnter) }
func (d *Driver) PressMenu(ctx context.Context) Result  { return d.PressKey(ctx, KeyMenu) }

// Screenshot captures the current screen at full device resolution; it is
// never resized by the driver.
func (d *Driver) Screenshot(ctx context.Context) ([]byte, int, int, error) {
	if d.controller != nil && !d.controller.CheckAndWait() {
		return nil, 0, 0, fmt.Errorf("stopped")
	}
	png, err := d.shell.Screencap(ctx)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("screencap: %w", err)
	}
	w, h := d.ScreenDimensions(ctx)
	return png, w, h, nil
}

// Connected reports whether the device responds to a liveness probe.
func (d *Driver) Connected(ctx context.Context) bool {
	out, err := d.shell.Run(ctx, "get-state")
	if err != nil {
		return false
	}
	return strings.Contains(out, "device")
}

// DeviceInfo gathers serial, model, OS version, and geometry.
func (d *Driver) DeviceInfo(ctx context.Context) DeviceInfo {
	info := DeviceInfo{Serial: d.serial}
	if out, err := d.shell.Run(ctx, "shell", "getprop", "ro.product.model"); err == nil {
		info.Model = strings.TrimSpace(out)
	}
	if out, err := d.shell.Run(ctx, "shell", "getprop", "ro.build.version.release"); err == nil {
		info.OSVersion = strings.TrimSpace(out)
	}
	info.Width, info.Height = d.ScreenDimensions(ctx)
	if out, err := d.shell.Run(ctx, "shell", "wm", "density"); err == nil {
		if idx := strings.Index(out, "Physical density:"); idx >= 0 {
			fmt.Sscanf(strings.TrimSpace(out[idx+len("Physical density:"):]), "%d", &info.Density)
		}
	}
	return info
}

// ScreenDimensions returns the cached geometry, re-querying via `wm size`
// if it is zero. Override size (if the shell reports one) takes precedence
// over Physical size.
func (d *Driver) ScreenDimensions(ctx context.Context) (int, int) {
	if d.width != 0 && d.height != 0 {
		return d.width, d.height
	}
	out, err := d.shell.Run(ctx, "shell", "wm", "size")
	if err != nil {
		d.width, d.height = 1080, 1920
		return d.width, d.height
	}

	physical, override := parseWMSize(out)
	if override.w != 0 {
		d.width, d.height = override.w, override.h
	} else if physical.w != 0 {
		d.width, d.height = physical.w, physical.h
	} else {
		d.width, d.height = 1080, 1920
	}
	return d.width, d.height
}

type wh struct{ w, h int }

func parseWMSize(out string) (physical, override wh) {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		var target *wh
		switch {
		case strings.HasPrefix(line, "Physical size:"):
			target = &physical
			line = strings.TrimPrefix(line, "Physical size:")
		case strings.HasPrefix(line, "Override size:"):
			target = &override
			line = strings.TrimPrefix(line, "Override size:")
		default:
			continue
		}
		line = strings.TrimSpace(line)
		parts := strings.SplitN(line, "x", 2)
		if len(parts) != 2 {
			continue
		}
		w, errW := strconv.Atoi(strings.TrimSpace(parts[0]))
		h, errH := strconv.Atoi(strings.TrimSpace(parts[1]))
		if errW == nil && errH == nil {
			target.w, target.h = w, h
		}
	}
	return physical, override
}

// ExecuteRaw passes cmd straight to the shell transport, bypassing all
// primitive-specific formatting. Diagnostic escape hatch; never called by
// the step graph.
func (d *Driver) ExecuteRaw(ctx context.Context, cmd string) Result {
	return d.retryable(ctx, func(ctx context.Context) (string, error) {
		return d.shell.Run(ctx, strings.Fields(cmd)...)
	})
}
