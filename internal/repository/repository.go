// Package repository provides data access for the download manifest.
//
// The manifest records every download attempt and batch summary in the local
// SQLite database, backing the history command, duplicate-skip lookups and
// the batch status API.
//
// All repository implementations are safe for concurrent use by multiple
// goroutines; the underlying database handle serializes writes.
//
// Methods return domain-specific errors: domain.ErrNotFound when a record
// does not exist, domain.ErrInvalidInput for invalid parameters. Database
// errors are wrapped with context using fmt.Errorf with the %w verb.
package repository

// Filter pagination defaults and limits.
const (
	defaultFilterLimit = 50
	maxFilterLimit     = 500
)

// applyPaginationDefaults normalizes limit and offset values for filter queries.
// It clamps limit to [1, maxFilterLimit] and ensures offset >= 0.
func applyPaginationDefaults(limit, offset *int) {
	if *limit <= 0 {
		*limit = defaultFilterLimit
	}
	if *limit > maxFilterLimit {
		*limit = maxFilterLimit
	}
	if *offset < 0 {
		*offset = 0
	}
}
