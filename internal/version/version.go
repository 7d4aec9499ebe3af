// Package version は -ldflags で埋め込まれるビルド情報。
package version

import "fmt"

// ldflags: -X github.com/ichi0g0y/ring-overlay/internal/version.Version=...
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Info は /api/health で返すビルド情報。
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func Get() Info {
	return Info{Version: Version, Commit: Commit, BuildTime: BuildTime}
}

// String returns a formatted version string
func String() string {
	return fmt.Sprintf("v%s (commit: %s, built: %s)", Version, Commit, BuildTime)
}
