// Package all registers every mirror backend via blank imports. Import it
// from main packages that want backend selection by kind at runtime.
package all

import (
	_ "ledgerfix/internal/storage/mssql"
	_ "ledgerfix/internal/storage/postgres"
	_ "ledgerfix/internal/storage/sqlite"
)
