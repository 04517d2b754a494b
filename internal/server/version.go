package server

import (
	"runtime"

	"github.com/josefmoeggis/RobotGUI/internal/version"
)

// BuildInfo contains build-time information
var BuildInfo = struct {
	Version   string
	BuildTime string
	GitCommit string
	GoVersion string
}{
	Version:   version.Version,
	BuildTime: version.BuildTime,
	GitCommit: version.CommitID,
	GoVersion: runtime.Version(),
}
