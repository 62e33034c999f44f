// Package migrations holds the gateway schema as embedded SQL files.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
