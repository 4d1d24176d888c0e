package store

import "database/sql"

// SwapOpenDB replaces the driver entry point for tests and returns a
// restore func.
func SwapOpenDB(fn func(driver, dsn string) (*sql.DB, error)) func() {
	old := openDB
	openDB = fn
	return func() { openDB = old }
}
