// Package stores records prepared runtime environments in SQLite.
// It uses WAL mode for file databases, embedded golang-migrate migrations,
// and keeps each environment's missing-key and policy warnings alongside it.
package stores
