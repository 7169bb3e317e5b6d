package version

// Set with -ldflags "-X github.com/charlie0129/lockbox/pkg/version.Version=..."
var (
	Version   = "v0.0.0-dev"
	GitCommit = "unknown"
)
