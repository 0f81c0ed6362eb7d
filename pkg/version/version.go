// Package version reports the build of the dyno tools.
package version

import (
	"fmt"
	"runtime"
)

// These variables are populated by the build process
var (
	// Version is the version of the build
	Version = "dev"
	// Commit is the source revision of the build
	Commit = "none"
	// BuildTime is the time when the build was created
	BuildTime = "unknown"
)

// Info describes the running build.
type Info struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	BuildTime string `json:"build_time" yaml:"build_time"`
	GoVersion string `json:"go_version" yaml:"go_version"`
	Platform  string `json:"platform" yaml:"platform"`
}

// Get returns the build information.
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// String formats the build information on one line
func (i Info) String() string {
	return fmt.Sprintf("dyno %s (commit %s, built %s, %s %s)",
		i.Version, i.Commit, i.BuildTime, i.GoVersion, i.Platform)
}
