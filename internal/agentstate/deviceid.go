package agentstate

import "fmt"

// deviceIDFormat renders the canonical "device_<width>x<height>" identifier.
func deviceIDFormat(width, height int) string {
	return fmt.Sprintf("device_%dx%d", width, height)
}
