package version

import (
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

const unknownVersion = "0.1.0-dev"

// Set through -ldflags "-X github.com/openmined/syftmail/internal/version.Version=...".
var (
	AppName   = "syftmail"
	Version   = unknownVersion
	Revision  = ""
	BuildDate = ""
)

// Info describes the running binary.
type Info struct {
	App       string `json:"app" yaml:"app"`
	Version   string `json:"version" yaml:"version"`
	Revision  string `json:"revision" yaml:"revision"`
	BuildDate string `json:"buildDate" yaml:"build_date"`
	Go        string `json:"go" yaml:"go"`
	Platform  string `json:"platform" yaml:"platform"`
}

// Get returns the build info of this binary.
func Get() Info {
	return Info{
		App:       AppName,
		Version:   Version,
		Revision:  Revision,
		BuildDate: BuildDate,
		Go:        runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// String renders `syftmail 0.1.0 (5e23a4; go1.23.6; linux/amd64; 2025-01-02T03:04:05Z)`.
func (i Info) String() string {
	return fmt.Sprintf("%s %s (%s; %s; %s; %s)", i.App, i.Version, i.Revision, i.Go, i.Platform, i.BuildDate)
}

func (i Info) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("version", i.Version),
		slog.String("revision", i.Revision),
		slog.String("build", i.BuildDate),
	)
}

// UserAgent identifies this client to servers, e.g. the NATS connection name.
func UserAgent() string {
	return AppName + "/" + Version
}

// Detailed is the one-line form of Get.
func Detailed() string {
	return Get().String()
}

// fillFromBuildInfo fills whatever ldflags left unset from the module and vcs metadata.
func fillFromBuildInfo(info *debug.BuildInfo) {
	if info == nil {
		return
	}

	vcs := make(map[string]string, len(info.Settings))
	for _, s := range info.Settings {
		if strings.HasPrefix(s.Key, "vcs.") {
			vcs[strings.TrimPrefix(s.Key, "vcs.")] = s.Value
		}
	}

	if Version == unknownVersion {
		if v := info.Main.Version; v != "" && v != "(devel)" {
			Version = strings.TrimPrefix(v, "v")
		}
	}
	if Revision == "" {
		Revision = vcs["revision"]
		if Revision != "" && vcs["modified"] == "true" {
			Revision += "-dirty"
		}
	}
	if BuildDate == "" {
		BuildDate = vcs["time"]
	}
}

func init() {
	info, _ := debug.ReadBuildInfo()
	fillFromBuildInfo(info)
	if Revision == "" {
		Revision = "HEAD"
	}
	if BuildDate == "" {
		BuildDate = time.Now().UTC().Format(time.RFC3339)
	}
}
