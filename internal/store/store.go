// Package store persists chat messages for the relay. Postgres is used when
// the DSN looks like one, SQLite otherwise.
package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/DoyleJ11/quiz-chat/pkg/types"
)

var ErrRoomRequired = errors.New("room id required")

// Message is the stored row. Seq is the primary key so the database hands
// out the order every client displays.
type Message struct {
	Seq        int64  `gorm:"primaryKey;autoIncrement"`
	ID         string `gorm:"size:36;uniqueIndex;not null"`
	RoomID     string `gorm:"size:128;index;not null"`
	AuthorID   string `gorm:"size:128"`
	AuthorName string `gorm:"size:128"`
	Body       string
	Kind       string `gorm:"size:16"`
	CreatedAt  time.Time
}

func (Message) TableName() string { return "chat_messages" }

func (m Message) toType() types.Message {
	return types.Message{
		ID:         m.ID,
		Seq:        m.Seq,
		RoomID:     m.RoomID,
		AuthorID:   m.AuthorID,
		AuthorName: m.AuthorName,
		Body:       m.Body,
		Kind:       types.MessageKind(m.Kind),
		CreatedAt:  m.CreatedAt,
	}
}

type Store struct {
	db *gorm.DB
}

// Open connects and migrates. debug turns on gorm's SQL logging.
func Open(dsn string, debug bool) (*Store, error) {
	level := logger.Silent
	if debug {
		level = logger.Info
	}
	cfg := &gorm.Config{Logger: logger.Default.LogMode(level)}

	var (
		db  *gorm.DB
		err error
	)
	if isPostgres(dsn) {
		db, err = gorm.Open(postgres.Open(dsn), cfg)
	} else {
		if dsn == "" {
			dsn = ":memory:"
		}
		db, err = gorm.Open(sqlite.Open(dsn), cfg)
		if err == nil {
			// One connection keeps an in-memory database shared and avoids
			// SQLite write contention.
			if sqlDB, dbErr := db.DB(); dbErr == nil {
				sqlDB.SetMaxOpenConns(1)
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return New(db)
}

// New wraps an open gorm handle and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Message{}); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

func isPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") ||
		strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=")
}

// Append stores m and returns it with its id, sequence and timestamp filled in.
func (s *Store) Append(ctx context.Context, m types.Message) (types.Message, error) {
	if strings.TrimSpace(m.RoomID) == "" {
		return types.Message{}, ErrRoomRequired
	}
	row := Message{
		ID:         m.ID,
		RoomID:     m.RoomID,
		AuthorID:   m.AuthorID,
		AuthorName: m.AuthorName,
		Body:       m.Body,
		Kind:       string(m.Kind),
		CreatedAt:  m.CreatedAt,
	}
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if row.Kind == "" {
		row.Kind = string(types.KindText)
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return types.Message{}, fmt.Errorf("failed to store message: %w", err)
	}
	return row.toType(), nil
}

// Recent returns up to limit of the newest messages in roomID, oldest first.
func (s *Store) Recent(ctx context.Context, roomID string, limit int) ([]types.Message, error) {
	var rows []Message
	err := s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("seq desc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	slices.Reverse(rows)

	out := make([]types.Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toType())
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
