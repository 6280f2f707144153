package database

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"facilitywatch/internal/artifact"
	"facilitywatch/internal/metrics"

	_ "github.com/go-sql-driver/mysql"
)

// DB is the MySQL classifier artifact registry
type DB struct {
	conn *sql.DB
}

// ArtifactVersion is one stored artifact, without its payload
type ArtifactVersion struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	Checksum  string    `json:"checksum"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// NewDB creates a new database connection and initializes the schema
// dsn format: "username:password@tcp(host:port)/dbname?parseTime=true"
func NewDB(dsn string) (*DB, error) {
	conn, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	return newFromConn(conn)
}

func newFromConn(conn *sql.DB) (*DB, error) {
	db := &DB{conn: conn}
	if err := db.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db, nil
}

func (db *DB) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS classifier_artifacts (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			version VARCHAR(100) NOT NULL,
			checksum CHAR(64) NOT NULL,
			payload LONGBLOB NOT NULL,
			created_at DATETIME(6) NOT NULL,
			UNIQUE KEY uq_classifier_artifacts_name_version (name, version),
			INDEX idx_classifier_artifacts_name (name)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	}

	for _, stmt := range statements {
		if _, err := db.conn.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

func (db *DB) Name() string { return "mysql" }

// Fetch returns the payload of the most recently stored version of name
func (db *DB) Fetch(ctx context.Context, name string) ([]byte, error) {
	defer db.updateStats()

	query := `SELECT payload FROM classifier_artifacts WHERE name = ? ORDER BY created_at DESC, id DESC LIMIT 1`
	queryStart := time.Now()
	var payload []byte
	err := db.conn.QueryRowContext(ctx, query, name).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		metrics.RecordDBQuery("SELECT", "classifier_artifacts", time.Since(queryStart), nil)
		return nil, fmt.Errorf("%w: %s in mysql registry", artifact.ErrNotFound, name)
	}
	metrics.RecordDBQuery("SELECT", "classifier_artifacts", time.Since(queryStart), err)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch artifact %s: %w", name, err)
	}

	return payload, nil
}

// StoreArtifact stores a new version of an artifact and returns its checksum
func (db *DB) StoreArtifact(ctx context.Context, name, version string, payload []byte) (string, error) {
	defer db.updateStats()

	sum := sha256.Sum256(payload)
	checksum := hex.EncodeToString(sum[:])

	query := `INSERT INTO classifier_artifacts (name, version, checksum, payload, created_at) VALUES (?, ?, ?, ?, ?)`
	queryStart := time.Now()
	_, err := db.conn.ExecContext(ctx, query, name, version, checksum, payload, time.Now().UTC())
	metrics.RecordDBQuery("INSERT", "classifier_artifacts", time.Since(queryStart), err)
	if err != nil {
		return "", fmt.Errorf("failed to store artifact %s@%s: %w", name, version, err)
	}

	return checksum, nil
}

// ListArtifacts returns the stored versions of name, newest first
func (db *DB) ListArtifacts(ctx context.Context, name string, limit int) ([]ArtifactVersion, error) {
	query := `SELECT id, name, version, checksum, LENGTH(payload), created_at FROM classifier_artifacts WHERE name = ? ORDER BY created_at DESC, id DESC LIMIT ?`
	queryStart := time.Now()
	rows, err := db.conn.QueryContext(ctx, query, name, limit)
	metrics.RecordDBQuery("SELECT", "classifier_artifacts", time.Since(queryStart), err)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts for %s: %w", name, err)
	}
	defer rows.Close()

	var versions []ArtifactVersion
	for rows.Next() {
		var v ArtifactVersion
		if err := rows.Scan(&v.ID, &v.Name, &v.Version, &v.Checksum, &v.Size, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan artifact version: %w", err)
		}
		versions = append(versions, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating artifact versions: %w", err)
	}

	return versions, nil
}

func (db *DB) updateStats() {
	stats := db.conn.Stats()
	metrics.UpdateDBConnectionStats(stats.OpenConnections, stats.InUse, stats.Idle)
}

// Close closes the database connection
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
