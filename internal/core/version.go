package core

// Set at build time with -ldflags "-X github.com/SgtCoDFish/PlayPG/internal/core.Version=...".
var (
	Version = "0.1.0"
	GitHash = "development"
)
