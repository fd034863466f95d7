package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"tgqqbridge/internal/migrations"
	"tgqqbridge/internal/models"
	"tgqqbridge/internal/validation"

	_ "github.com/mattn/go-sqlite3"
)

// Database is the durable store shared by the Mapping Store and the Retry &
// Delivery subsystem. All operations are atomic per row.
type Database struct {
	db        *sql.DB
	encryptor *encryptor
}

func New(dbPath string) (*Database, error) {
	if len(dbPath) == 0 || dbPath[0] == '\x00' {
		return nil, fmt.Errorf("invalid database path")
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	schema, err := migrations.GetInitialSchema()
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to read schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	encryptor, err := NewEncryptor()
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize encryptor: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}

	return &Database{db: db, encryptor: encryptor}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// SaveMessageMapping records the correlation between a message and its
// forwarded counterpart. Called only after a successful dispatch.
func (d *Database) SaveMessageMapping(ctx context.Context, mapping *models.MessageMapping) error {
	if err := validation.ValidatePlatform(mapping.SourcePlatform); err != nil {
		return err
	}
	if err := validation.ValidatePlatform(mapping.DestPlatform); err != nil {
		return err
	}
	if err := validation.ValidateMessageID(mapping.SourceID); err != nil {
		return fmt.Errorf("invalid source ID: %w", err)
	}
	if err := validation.ValidateMessageID(mapping.DestID); err != nil {
		return fmt.Errorf("invalid dest ID: %w", err)
	}

	encryptedSourceID, err := d.encryptor.EncryptForLookupIfEnabled(mapping.SourceID)
	if err != nil {
		return fmt.Errorf("failed to encrypt source ID: %w", err)
	}

	encryptedDestID, err := d.encryptor.EncryptForLookupIfEnabled(mapping.DestID)
	if err != nil {
		return fmt.Errorf("failed to encrypt dest ID: %w", err)
	}

	encryptedChatID, err := d.encryptor.EncryptIfEnabled(mapping.ChatID)
	if err != nil {
		return fmt.Errorf("failed to encrypt chat ID: %w", err)
	}

	createdAt := mapping.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT OR REPLACE INTO message_mappings (
			source_platform, source_id, dest_platform, dest_id, chat_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`

	err = retryableDBOperation(ctx, func() error {
		_, execErr := d.db.ExecContext(ctx, query,
			string(mapping.SourcePlatform),
			encryptedSourceID,
			string(mapping.DestPlatform),
			encryptedDestID,
			encryptedChatID,
			createdAt,
		)
		return execErr
	}, "save message mapping")
	if err != nil {
		return fmt.Errorf("failed to save message mapping: %w", err)
	}

	return nil
}

// GetMappingBySource looks up the mapping whose origin side is
// (platform, id). Returns (nil, nil) when no mapping exists.
func (d *Database) GetMappingBySource(ctx context.Context, platform models.Platform, id string) (*models.MessageMapping, error) {
	encryptedID, err := d.encryptor.EncryptForLookupIfEnabled(id)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt source ID: %w", err)
	}

	query := `
		SELECT id, source_platform, source_id, dest_platform, dest_id, chat_id, created_at
		FROM message_mappings
		WHERE source_platform = ? AND source_id = ?
	`

	return d.scanMapping(d.db.QueryRowContext(ctx, query, string(platform), encryptedID))
}

// GetMappingByDest looks up the mapping whose forwarded side is
// (platform, id). Returns (nil, nil) when no mapping exists.
func (d *Database) GetMappingByDest(ctx context.Context, platform models.Platform, id string) (*models.MessageMapping, error) {
	encryptedID, err := d.encryptor.EncryptForLookupIfEnabled(id)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt dest ID: %w", err)
	}

	query := `
		SELECT id, source_platform, source_id, dest_platform, dest_id, chat_id, created_at
		FROM message_mappings
		WHERE dest_platform = ? AND dest_id = ?
	`

	return d.scanMapping(d.db.QueryRowContext(ctx, query, string(platform), encryptedID))
}

func (d *Database) scanMapping(row *sql.Row) (*models.MessageMapping, error) {
	var encryptedSourceID, encryptedDestID, encryptedChatID string
	mapping := &models.MessageMapping{}

	err := row.Scan(
		&mapping.ID,
		&mapping.SourcePlatform,
		&encryptedSourceID,
		&mapping.DestPlatform,
		&encryptedDestID,
		&encryptedChatID,
		&mapping.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message mapping: %w", err)
	}

	mapping.SourceID, err = d.encryptor.DecryptIfEnabled(encryptedSourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt source ID: %w", err)
	}

	mapping.DestID, err = d.encryptor.DecryptIfEnabled(encryptedDestID)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt dest ID: %w", err)
	}

	mapping.ChatID, err = d.encryptor.DecryptIfEnabled(encryptedChatID)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt chat ID: %w", err)
	}

	return mapping, nil
}

// DeleteMapping removes the row for a recalled message. Deleting a mapping
// that is already gone is not an error.
func (d *Database) DeleteMapping(ctx context.Context, platform models.Platform, sourceID string) error {
	encryptedID, err := d.encryptor.EncryptForLookupIfEnabled(sourceID)
	if err != nil {
		return fmt.Errorf("failed to encrypt source ID: %w", err)
	}

	query := `DELETE FROM message_mappings WHERE source_platform = ? AND source_id = ?`

	err = retryableDBOperation(ctx, func() error {
		_, execErr := d.db.ExecContext(ctx, query, string(platform), encryptedID)
		return execErr
	}, "delete message mapping")
	if err != nil {
		return fmt.Errorf("failed to delete message mapping: %w", err)
	}

	return nil
}

// PurgeMappingsOlderThan removes mappings beyond the retention window to
// bound storage growth. The retention must exceed the platform recall
// windows so delete propagation still works for recallable messages.
func (d *Database) PurgeMappingsOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)

	query := `DELETE FROM message_mappings WHERE created_at < ?`

	result, err := d.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge old mappings: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return rows, nil
}
