// Package reports defines the fechamento (monthly closing) and tributacao
// (taxation regime) projections kept live by the dashboard.
//
// Each projection is a query spec plus a typed decoder; the constructors
// wire both into a livequery.Query.
package reports
