package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// LearnerState is one named persisted record holding a learner's snapshot.
type LearnerState struct {
	Name      string         `gorm:"primaryKey" json:"name"`
	Data      datatypes.JSON `json:"data"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func InitDB(dbPath string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&LearnerState{}); err != nil {
		return nil, err
	}

	return db, nil
}
