package model

import (
	"path/filepath"
	"testing"
	"time"

	"gorm.io/datatypes"
)

func TestInitDB(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db, err := InitDB(dbPath)
	if err != nil {
		t.Fatalf("InitDB failed: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	defer sqlDB.Close()

	var count int
	err = sqlDB.QueryRow("SELECT count(*) FROM sqlite_master WHERE type='table' AND name='learner_states'").Scan(&count)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Error("learner_states table not created")
	}
}

func TestLearnerStateCRUD(t *testing.T) {
	db, err := InitDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("InitDB failed: %v", err)
	}

	state := LearnerState{Name: "linguachat-storage", Data: datatypes.JSON(`{"vocabulary":[]}`)}
	if err := db.Create(&state).Error; err != nil {
		t.Fatalf("create state failed: %v", err)
	}

	var loaded LearnerState
	if err := db.First(&loaded, "name = ?", "linguachat-storage").Error; err != nil {
		t.Fatalf("query state failed: %v", err)
	}
	if string(loaded.Data) != `{"vocabulary":[]}` {
		t.Errorf("unexpected data %s", loaded.Data)
	}
	if loaded.UpdatedAt.IsZero() {
		t.Error("expected UpdatedAt to be set")
	}
}

func TestSelectionsComplete(t *testing.T) {
	sc := &Scenario{ID: "restaurant"}
	cases := []struct {
		name string
		sel  Selections
		want bool
	}{
		{"empty", Selections{}, false},
		{"no scenario", Selections{Language: "es", Difficulty: Beginner}, false},
		{"no language", Selections{Difficulty: Beginner, Scenario: sc}, false},
		{"complete", Selections{Language: "es", Difficulty: Beginner, Scenario: sc}, true},
	}
	for _, tc := range cases {
		if got := tc.sel.Complete(); got != tc.want {
			t.Errorf("%s: Complete() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestEnumsValid(t *testing.T) {
	if !Intermediate.Valid() || Difficulty("expert").Valid() {
		t.Error("difficulty validation wrong")
	}
	if !CategorySpelling.Valid() || Category("tone").Valid() {
		t.Error("category validation wrong")
	}
	if !RoleAssistant.Valid() || Role("system").Valid() {
		t.Error("role validation wrong")
	}
}

func TestTranscriptDropsMetadata(t *testing.T) {
	msgs := []Message{
		{ID: "1", Role: RoleUser, Content: "Hola", Timestamp: time.Now()},
		{ID: "2", Role: RoleAssistant, Content: "¡Hola!", Corrections: []Correction{{ID: "c"}}},
	}
	turns := Transcript(msgs)
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if turns[1] != (ChatTurn{Role: RoleAssistant, Content: "¡Hola!"}) {
		t.Errorf("unexpected turn %+v", turns[1])
	}
}
