package internal

import (
	"fmt"
	"runtime"
)

// Version is the current version of studyroom.
// This should be updated with each release.
const Version = "0.3.0"

// userAgent identifies the client on REST and websocket requests.
func userAgent() string {
	return fmt.Sprintf("studyroom/%s (%s/%s)", Version, runtime.GOOS, runtime.GOARCH)
}
