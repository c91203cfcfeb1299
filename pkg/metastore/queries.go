package metastore

import "strings"

// query identifies one of the parameterized statements the store executes.
type query int

const (
	queryGet query = iota
	queryGetForUpdate
	queryReplace
	queryReplaceByKey
	queryRemove
	queryInsertIfMissing
)

// queryTemplates holds the statement text for each operation kind, written
// with ? placeholders and a %PREFIX% marker for the table prefix.
//
// All statements filter on region so that multiple logical namespaces can
// share one physical table without observing each other.
var queryTemplates = map[query]string{
	queryGet: `
		SELECT metadata_value FROM %PREFIX%METADATA_STORE
		WHERE metadata_key = ? AND region = ?`,
	queryGetForUpdate: `
		SELECT metadata_value FROM %PREFIX%METADATA_STORE
		WHERE metadata_key = ? AND region = ?%FORUPDATE%`,
	queryReplace: `
		UPDATE %PREFIX%METADATA_STORE SET metadata_value = ?
		WHERE metadata_key = ? AND metadata_value = ? AND region = ?`,
	queryReplaceByKey: `
		UPDATE %PREFIX%METADATA_STORE SET metadata_value = ?
		WHERE metadata_key = ? AND region = ?`,
	queryRemove: `
		DELETE FROM %PREFIX%METADATA_STORE
		WHERE metadata_key = ? AND region = ?`,
	queryInsertIfMissing: `
		INSERT INTO %PREFIX%METADATA_STORE (metadata_key, metadata_value, region)
		VALUES (?, ?, ?)
		ON CONFLICT DO NOTHING`,
}

// buildQueries resolves the templates for a prefix and driver into final
// statement text. The result is built once at construction and never
// mutated afterwards, so concurrent reads need no synchronization.
func buildQueries(prefix string, driver Driver) map[query]string {
	queries := make(map[query]string, len(queryTemplates))
	for kind, tmpl := range queryTemplates {
		q := strings.ReplaceAll(tmpl, "%PREFIX%", prefix)
		q = strings.ReplaceAll(q, "%FORUPDATE%", driver.forUpdateSuffix())
		queries[kind] = driver.Rebind(q)
	}
	return queries
}
