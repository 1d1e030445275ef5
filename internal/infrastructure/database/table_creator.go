// Package database provides the durable store schema
package database

import (
	"context"
	"database/sql"
	"fmt"
)

// TableCreator handles the creation of the visit store schema.
type TableCreator struct{}

// NewTableCreator creates a new TableCreator.
func NewTableCreator() *TableCreator {
	return &TableCreator{}
}

// CreateSchema executes all necessary queries to build the tables and indexes. It is idempotent.
func (tc *TableCreator) CreateSchema(ctx context.Context, db *sql.DB) error {
	for _, tableSQL := range tables {
		if _, err := db.ExecContext(ctx, tableSQL); err != nil {
			return fmt.Errorf("failed to create table for query [%s]: %w", tableSQL, err)
		}
	}

	for _, indexSQL := range indexes {
		if _, err := db.ExecContext(ctx, indexSQL); err != nil {
			return fmt.Errorf("failed to create index for query [%s]: %w", indexSQL, err)
		}
	}
	return nil
}

// TableNames lists the tables CreateSchema builds.
func (tc *TableCreator) TableNames() []string {
	return []string{"visit_record", "daily_stats", "hourly_stats", "page_stats"}
}

var tables = []string{
	`CREATE TABLE IF NOT EXISTS visit_record (id TEXT PRIMARY KEY, page_url TEXT NOT NULL, ip_address TEXT NOT NULL, user_agent TEXT NOT NULL DEFAULT '', referer TEXT NOT NULL DEFAULT '', browser TEXT NOT NULL DEFAULT '', os TEXT NOT NULL DEFAULT '', device TEXT NOT NULL DEFAULT '', region TEXT NOT NULL DEFAULT '', visit_time TEXT NOT NULL, date_key INTEGER NOT NULL, hour_key INTEGER NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS daily_stats (date_key INTEGER PRIMARY KEY, date_str TEXT NOT NULL, total_visits INTEGER NOT NULL DEFAULT 0, unique_ips INTEGER NOT NULL DEFAULT 0, page_views INTEGER NOT NULL DEFAULT 0, bounce_rate REAL NOT NULL DEFAULT 0, avg_session_duration INTEGER NOT NULL DEFAULT 0)`,
	`CREATE TABLE IF NOT EXISTS hourly_stats (hour_key INTEGER PRIMARY KEY, hour_str TEXT NOT NULL, visit_count INTEGER NOT NULL DEFAULT 0, unique_ip_count INTEGER NOT NULL DEFAULT 0)`,
	`CREATE TABLE IF NOT EXISTS page_stats (page_url TEXT NOT NULL, date_key INTEGER NOT NULL, page_title TEXT NOT NULL DEFAULT '', visit_count INTEGER NOT NULL DEFAULT 0, unique_ip_count INTEGER NOT NULL DEFAULT 0, avg_duration INTEGER NOT NULL DEFAULT 0, bounce_count INTEGER NOT NULL DEFAULT 0, PRIMARY KEY (page_url, date_key))`,
}

var indexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_visit_record_date_key ON visit_record(date_key)`,
	`CREATE INDEX IF NOT EXISTS idx_visit_record_hour_key ON visit_record(hour_key)`,
	`CREATE INDEX IF NOT EXISTS idx_visit_record_visit_time ON visit_record(visit_time)`,
	`CREATE INDEX IF NOT EXISTS idx_visit_record_page_date ON visit_record(page_url, date_key)`,
	`CREATE INDEX IF NOT EXISTS idx_page_stats_date_key ON page_stats(date_key)`,
}
