// Package querysql compiles query specs to parameterized SQL for SQLite and
// PostgreSQL.
//
// Every SELECT carries an ORDER BY ending in the "id" tiebreaker, so rows
// with equal sort keys come back in the same order on every fetch and the
// result fingerprint only changes when the data does.
package querysql
