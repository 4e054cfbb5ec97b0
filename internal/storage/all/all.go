// Package all registers every storage backend. Binaries import it for its
// side effects.
package all

import (
	_ "autoprice/internal/storage/mssql"
	_ "autoprice/internal/storage/mysql"
	_ "autoprice/internal/storage/postgres"
	_ "autoprice/internal/storage/sqlite"
)
