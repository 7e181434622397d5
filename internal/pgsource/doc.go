// Package pgsource provides a PostgreSQL data source for live queries.
//
// Reads go through database/sql with the pgx driver. Change events arrive
// over LISTEN/NOTIFY: TriggerSQL installs an AFTER trigger on each watched
// table that sends {"table","type","id"} as JSON on the notification
// channel, and Listen relays those payloads to subscribers.
//
// When the listening connection drops, every open subscription is closed.
// Changes made while disconnected cannot be replayed, so subscribers must
// re-fetch and re-subscribe.
package pgsource
