// Package migrations embeds the schema migration files for the event
// journal and the projection databases.
package migrations

import "embed"

//go:embed events/*.sql
var Events embed.FS

//go:embed projections/*.sql
var Projections embed.FS
