// Package version holds build metadata injected with ldflags:
//
//	go build -ldflags "-X github.com/rickgao/deribit-rpc/internal/version.Version=0.3.0 \
//	                   -X github.com/rickgao/deribit-rpc/internal/version.Commit=$(git rev-parse --short HEAD) \
//	                   -X github.com/rickgao/deribit-rpc/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

import (
	"fmt"
	"runtime"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// String returns a one-line version string.
func String() string {
	return fmt.Sprintf("%s (%s) built %s", Version, Commit, BuildTime)
}

// UserAgent is sent on REST requests and the WebSocket handshake.
func UserAgent() string {
	return fmt.Sprintf("deribit-rpc/%s (%s; %s/%s)", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
