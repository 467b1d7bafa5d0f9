// Package migrations embeds the goose SQL migrations. Table names expand
// ${TABLE_PREFIX} from the environment at migration time.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
