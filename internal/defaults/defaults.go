// Package defaults embeds the annotated example configuration written
// by the frontdesk init subcommand.
package defaults

import _ "embed"

//go:embed config.example.yaml
var ConfigYAML []byte
