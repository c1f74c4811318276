package ddtrace

// Version information for the tracer
const (
	// Version is the current tracer version
	Version = "development"

	// BuildDate is set during build time
	BuildDate = "development"

	// GitCommit is set during build time
	GitCommit = "unknown"
)
