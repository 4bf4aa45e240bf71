package sources

import "embed"

// Files contains the default curated image source list embedded into the
// binary, used when no external sources file is configured.
//
//go:embed sources.yaml
var Files embed.FS
