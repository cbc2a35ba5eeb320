package profile

import _ "embed"

// defaultTemplate is the baseline profile written on first run.
// Its contents are the engine's concern; this package treats it as opaque.
//
//go:embed default_config.yaml
var defaultTemplate []byte

