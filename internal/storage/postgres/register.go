package postgres

import "ledgerfix/internal/storage"

func init() {
	// registers the mirror backend factory
	storage.Register("postgres", New)
}
