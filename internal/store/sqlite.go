package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// turnRow is the turn-level table. Cycle sub-steps get their own rows so the
// consumer can query per-iteration detail without unpacking the whole turn.
type turnRow struct {
	ID                uint   `gorm:"primaryKey"`
	TurnID            string `gorm:"uniqueIndex;size:64"`
	Query             string
	Plan              string
	Answer            string
	ClarificationOnly bool
	Forced            bool
	CitationsJSON     string
	CreatedAt         time.Time
}

type iterationRow struct {
	ID        uint   `gorm:"primaryKey"`
	TurnID    string `gorm:"index;size:64"`
	Cycle     int
	Reasoning string
	CreatedAt time.Time
}

type subStepRow struct {
	ID        uint   `gorm:"primaryKey"`
	TurnID    string `gorm:"index;size:64"`
	Cycle     int
	Parallel  int
	Task      string
	Tool      string
	Answer    string
	TimedOut  bool
	CitedJSON string
	CreatedAt time.Time
}

func (turnRow) TableName() string      { return "research_turns" }
func (iterationRow) TableName() string { return "research_iterations" }
func (subStepRow) TableName() string   { return "research_iteration_sub_steps" }

// SQLiteStore persists turns into a local SQLite database.
type SQLiteStore struct {
	db *gorm.DB
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.AutoMigrate(&turnRow{}, &iterationRow{}, &subStepRow{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveTurn(ctx context.Context, rec *TurnRecord) error {
	citedJSON, err := json.Marshal(rec.Citations)
	if err != nil {
		return fmt.Errorf("marshal citations: %w", err)
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&turnRow{
			TurnID:            rec.TurnID,
			Query:             rec.Query,
			Plan:              rec.Plan,
			Answer:            rec.Answer,
			ClarificationOnly: rec.ClarificationOnly,
			Forced:            rec.Forced,
			CitationsJSON:     string(citedJSON),
			CreatedAt:         createdAt,
		}).Error; err != nil {
			return err
		}
		for _, c := range rec.Cycles {
			if err := tx.Create(&iterationRow{
				TurnID:    rec.TurnID,
				Cycle:     c.Number,
				Reasoning: c.Reasoning,
				CreatedAt: createdAt,
			}).Error; err != nil {
				return err
			}
			for _, ss := range c.SubSteps {
				cited, err := json.Marshal(ss.Cited)
				if err != nil {
					return fmt.Errorf("marshal sub-step citations: %w", err)
				}
				if err := tx.Create(&subStepRow{
					TurnID:    rec.TurnID,
					Cycle:     c.Number,
					Parallel:  ss.Parallel,
					Task:      ss.Task,
					Tool:      ss.Tool,
					Answer:    ss.Answer,
					TimedOut:  ss.TimedOut,
					CitedJSON: string(cited),
					CreatedAt: createdAt,
				}).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
}
