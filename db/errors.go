package db

import (
	"strings"

	"github.com/teranos/scribe/errors"
)

// ErrDatabaseClosed marks writes attempted after shutdown closed the database.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed reports whether err comes from a closed database. The
// sqlite driver returns its own unwrapped error, so its message is matched too.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrDatabaseClosed) || strings.Contains(err.Error(), "database is closed")
}
