// Package queryir provides the abstract query specification behind every
// live query.
//
// A Spec names the watched table, an optional filter, the sort order, an
// optional limit and the result arity. Backends never see anything else, so
// the same Spec runs unchanged against the SQLite store and PostgreSQL.
//
//	[CUE definition / Go builder] → [Spec] → [querysql] → SQLite | PostgreSQL
//
// SEALED INTERFACES:
//
// Predicate is a sealed interface using the marker method pattern. Only
// Equals, Compare, IsNull and And implement it, so backend compilers can
// switch exhaustively:
//
//	switch p := pred.(type) {
//	case Equals:
//	case Compare:
//	case IsNull:
//	case And:
//	}
//
// ARITY:
//
// ArityOne promises at most one row. Backends are asked for two rows (unless
// the spec limits itself to one) so that an ambiguous filter is detected
// instead of silently picking a row.
package queryir
