package device

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// ADBShell implements Shell over the real `adb` binary on PATH. Fallback
// order for screen capture is exec-out first, then push/pull via
// /sdcard/screen.png, then retry.
type ADBShell struct {
	Serial string
}

// Run executes `adb [-s serial] <args...>` and returns trimmed stdout.
func (a *ADBShell) Run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "adb", a.withSerial(args)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("adb %s: %w: %s", strings.Join(args, " "), err, stderr.String())
	}
	return strings.TrimSpace(stdout.String()), nil
}

func (a *ADBShell) withSerial(args []string) []string {
	if a.Serial == "" || a.Serial == "auto" {
		return args
	}
	return append([]string{"-s", a.Serial}, args...)
}

// Screencap captures the framebuffer as PNG. It tries `exec-out screencap
// -p` first (no temp file, fastest); on failure it falls back to writing
// to /sdcard/screen.png on-device and pulling it, retrying the whole
// sequence once more before giving up.
func (a *ADBShell) Screencap(ctx context.Context) ([]byte, error) {
	for attempt := 0; attempt < 2; attempt++ {
		if png, err := a.screencapExecOut(ctx); err == nil {
			return png, nil
		}
		if png, err := a.screencapPushPull(ctx); err == nil {
			return png, nil
		}
	}
	return nil, fmt.Errorf("screencap failed after exec-out and push/pull attempts")
}

func (a *ADBShell) screencapExecOut(ctx context.Context) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "adb", a.withSerial([]string{"exec-out", "screencap", "-p"})...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("exec-out screencap: %w: %s", err, stderr.String())
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("exec-out screencap: empty output")
	}
	return stdout.Bytes(), nil
}

func (a *ADBShell) screencapPushPull(ctx context.Context) ([]byte, error) {
	devicePath := "/sdcard/screen.png"
	if _, err := a.Run(ctx, "shell", "screencap", "-p", devicePath); err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp("", "screen-*.png")
	if err != nil {
		return nil, err
	}
	localPath := tmp.Name()
	_ = tmp.Close()
	defer os.Remove(localPath)

	cmd := exec.CommandContext(ctx, "adb", a.withSerial([]string{"pull", devicePath, localPath})...)
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("pull %s: %w", devicePath, err)
	}
	return os.ReadFile(localPath)
}
