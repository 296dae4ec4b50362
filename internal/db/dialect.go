package db

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Dialect identifiers supported by the database layer.
const (
	// DialectPostgres is the PostgreSQL dialect name.
	DialectPostgres = "postgres"
	// DialectSQLite is the SQLite dialect name.
	DialectSQLite = "sqlite"
)

// DialectName returns the active database dialect name.
func DialectName(conn *gorm.DB) string {
	if conn == nil || conn.Dialector == nil {
		return ""
	}
	return conn.Dialector.Name()
}

// IsSQLite reports whether the connection uses SQLite.
func IsSQLite(conn *gorm.DB) bool {
	return DialectName(conn) == DialectSQLite
}

// RowLock returns the pessimistic locking clauses for a
// read-modify-write span. SQLite has no FOR UPDATE syntax; its single
// writer already serializes the span.
func RowLock(conn *gorm.DB) []clause.Expression {
	if IsSQLite(conn) {
		return nil
	}
	return []clause.Expression{clause.Locking{Strength: "UPDATE"}}
}
