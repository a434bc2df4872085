// Package store archives finished matches. Live lobby and match state is
// never persisted; only the result of a match that has ended.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/DoyleJ11/tilefall-backend/internal/match"
)

type Archive interface {
	SaveMatch(ctx context.Context, res match.Result) error
	Close() error
}

// MatchRecord is one row of match_results.
type MatchRecord struct {
	ID        string `gorm:"primaryKey;type:text"`
	Mode      string `gorm:"type:text;not null"`
	ChosenBy  string `gorm:"type:text"`
	Roster    string `gorm:"type:jsonb;not null"`
	Winner    string `gorm:"type:text;index"`
	Turns     int    `gorm:"not null"`
	StartedAt time.Time
	EndedAt   time.Time
	CreatedAt time.Time
}

func (MatchRecord) TableName() string { return "match_results" }

func RecordFromResult(res match.Result) (MatchRecord, error) {
	roster, err := json.Marshal(res.Roster)
	if err != nil {
		return MatchRecord{}, fmt.Errorf("encode roster: %w", err)
	}
	return MatchRecord{
		ID:        res.MatchID,
		Mode:      res.Mode,
		ChosenBy:  res.ChosenBy,
		Roster:    string(roster),
		Winner:    res.Winner,
		Turns:     res.Turns,
		StartedAt: res.StartedAt.UTC(),
		EndedAt:   res.EndedAt.UTC(),
	}, nil
}

// Nop discards results. It is used when no database is configured.
type Nop struct{}

func (Nop) SaveMatch(context.Context, match.Result) error { return nil }
func (Nop) Close() error                                  { return nil }

type Postgres struct {
	pool  *pgxpool.Pool
	sqlDB *sql.DB
	db    *gorm.DB
	log   *zap.Logger
}

// Open connects to dsn and migrates the archive table.
func Open(ctx context.Context, dsn string, log *zap.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	sqlDB := stdlib.OpenDBFromPool(pool)
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		sqlDB.Close()
		pool.Close()
		return nil, fmt.Errorf("open gorm: %w", err)
	}
	if err := db.WithContext(ctx).AutoMigrate(&MatchRecord{}); err != nil {
		sqlDB.Close()
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Info("match archive ready")
	return &Postgres{pool: pool, sqlDB: sqlDB, db: db, log: log}, nil
}

func (p *Postgres) SaveMatch(ctx context.Context, res match.Result) error {
	rec, err := RecordFromResult(res)
	if err != nil {
		return err
	}
	if err := p.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("save match %s: %w", res.MatchID, err)
	}
	p.log.Debug("match archived", zap.String("match_id", res.MatchID))
	return nil
}

func (p *Postgres) Close() error {
	err := p.sqlDB.Close()
	p.pool.Close()
	return err
}
