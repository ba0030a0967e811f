package versioning

// Set at build time via -ldflags "-X github.com/quantfeed/market-gateway/internal/versioning.Version=...".
var (
	Version            = "dev"
	ApplicationVersion = "0.1.0"
)
