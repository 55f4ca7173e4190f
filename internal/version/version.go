// Package version carries build identity, stamped via -ldflags at release
// time.
package version

// Set at build time with:
//
//	go build -ldflags "-X github.com/sparkq/sparkq/internal/version.Version=... \
//	  -X github.com/sparkq/sparkq/internal/version.Commit=... \
//	  -X github.com/sparkq/sparkq/internal/version.BuildDate=..."
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// Info is the payload of the version endpoint.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

// Get returns the build identity.
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
	}
}
