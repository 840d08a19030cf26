package store

import (
	"context"
	"encoding/json"
	"errors"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/KodaTao/linguachat/model"
)

// SQLPersister stores one LearnerState row per record name.
type SQLPersister struct {
	db *gorm.DB
}

func NewSQLPersister(db *gorm.DB) *SQLPersister {
	return &SQLPersister{db: db}
}

func (p *SQLPersister) Load(ctx context.Context, name string) (*Snapshot, error) {
	var state model.LearnerState
	err := p.db.WithContext(ctx).First(&state, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var snap Snapshot
	if err := json.Unmarshal(state.Data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (p *SQLPersister) Save(ctx context.Context, name string, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	state := model.LearnerState{Name: name, Data: datatypes.JSON(data)}
	return p.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&state).Error
}

// Names 列出所有已保存的记录名
func (p *SQLPersister) Names(ctx context.Context) ([]string, error) {
	var names []string
	err := p.db.WithContext(ctx).Model(&model.LearnerState{}).Order("name").Pluck("name", &names).Error
	return names, err
}
