package version

const (
	AppName = "quaver"
	// Version is overridden at build time via -ldflags.
	Version = "dev"
)
