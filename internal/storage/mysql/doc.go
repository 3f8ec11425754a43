// Package mysql persists the journal of ledger-confirmed writes. The journal
// is an audit trail only; the ledger stays the system of record and nothing
// is read back from here to decide agreement state.
package mysql
