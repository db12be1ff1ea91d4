// Package migrations embeds the warehouse schema migrations.
//
// All SQL files are embedded at build time so the migrator and the integration
// test helpers run the exact schema that shipped with the binary, with no
// external file dependencies.
package migrations

import "embed"

//go:embed *.sql
var embedded embed.FS

// FS returns the embedded migration file system for use with the
// golang-migrate iofs source driver.
func FS() embed.FS {
	return embedded
}
