package version

// Set at build time with -ldflags "-X github.com/Emyrk/callgraph/internal/version.GitTag=..."
var (
	GitTag    = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)
