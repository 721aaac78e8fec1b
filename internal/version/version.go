// Package version exposes build metadata stamped in via -ldflags, falling
// back to what the Go toolchain embedded from VCS.
package version

import "runtime/debug"

const AppName = "sitepublish"

var (
	Version    = "dev"
	Commit     = "none"
	CommitDate string
	BuildDate  string
	BuildId    string
	GoVersion  string
	VCSDirty   *bool
)

type Info struct {
	AppName    string `json:"app"`
	Version    string `json:"version"`
	Commit     string `json:"commit"`
	CommitDate string `json:"commit_date"`
	BuildDate  string `json:"build_date"`
	BuildId    string `json:"build_id"`
	GoVersion  string `json:"go_version"`
	VCSDirty   *bool  `json:"vcs_dirty,omitempty"`
}

func Get() Info {
	out := Info{
		AppName:    AppName,
		Version:    Version,
		Commit:     Commit,
		CommitDate: CommitDate,
		BuildDate:  BuildDate,
		BuildId:    BuildId,
		GoVersion:  GoVersion,
		VCSDirty:   VCSDirty,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		applyBuildSettings(&out, bi)
	}
	return out
}

// applyBuildSettings fills unset fields from the embedded build settings.
// ldflags values win over VCS data.
func applyBuildSettings(out *Info, bi *debug.BuildInfo) {
	out.GoVersion = bi.GoVersion
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if out.Commit == "none" && s.Value != "" {
				out.Commit = s.Value
			}
		case "vcs.time":
			if out.BuildDate == "" && s.Value != "" {
				out.BuildDate = s.Value
			}
			out.CommitDate = s.Value
		case "vcs.modified":
			switch s.Value {
			case "true":
				t := true
				out.VCSDirty = &t
			case "false":
				f := false
				out.VCSDirty = &f
			}
		}
	}
}

// String renders the one-line form printed by -V.
func (i Info) String() string {
	dirty := i.VCSDirty != nil && *i.VCSDirty
	s := i.AppName + " " + i.Version + " (commit=" + i.Commit
	if i.CommitDate != "" {
		s += ", commit_date=" + i.CommitDate
	}
	if i.BuildId != "" {
		s += ", build_id=" + i.BuildId
	}
	if i.BuildDate != "" {
		s += ", build_date=" + i.BuildDate
	}
	s += ", go=" + i.GoVersion
	if dirty {
		s += ", dirty"
	}
	return s + ")"
}
