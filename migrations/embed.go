// Package migrations embeds the tenant schema migrations so the binary can
// provision clinics without the source tree.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
