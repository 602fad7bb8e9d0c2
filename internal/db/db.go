package db

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/XSAM/otelsql"
	_ "github.com/go-sql-driver/mysql"
	"go.opentelemetry.io/otel/attribute"
)

//go:embed schema.sql
var schemaSQL string

// DB wraps the database connection
type DB struct {
	*sql.DB
}

// NewDB creates a new database connection with OpenTelemetry instrumentation
func NewDB(dsn string, serviceName string) (*DB, error) {
	// Register otelsql wrapper for MySQL driver
	driverName, err := otelsql.Register("mysql",
		otelsql.WithAttributes(
			attribute.String("db.system", "mysql"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register otelsql: %w", err)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Register otelsql's built-in stats reporting
	if err := otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(
		attribute.String("db.system", "mysql"),
		attribute.String("service.name", serviceName),
	)); err != nil {
		log.Printf("Warning: failed to register otelsql stats metrics: %v", err)
	}

	return &DB{DB: db}, nil
}

// Wrap adopts an already opened *sql.DB
func Wrap(sqlDB *sql.DB) *DB {
	return &DB{DB: sqlDB}
}

// Migrate applies the embedded schema
func (db *DB) Migrate(ctx context.Context) error {
	return db.InitSchema(ctx, schemaSQL)
}

// InitSchema executes schemaSQL statement by statement
func (db *DB) InitSchema(ctx context.Context, schemaSQL string) error {
	for i, stmt := range splitSQLStatements(schemaSQL) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute statement %d: %w\nStatement: %s", i+1, err, stmt)
		}
	}

	log.Println("[DB] schema initialized successfully")
	return nil
}

// splitSQLStatements drops comment lines and splits on semicolons
func splitSQLStatements(sql string) []string {
	var cleanedLines []string
	for _, line := range strings.Split(sql, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" && !strings.HasPrefix(trimmed, "--") {
			cleanedLines = append(cleanedLines, line)
		}
	}

	var result []string
	for _, stmt := range strings.Split(strings.Join(cleanedLines, "\n"), ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			result = append(result, stmt)
		}
	}
	return result
}
