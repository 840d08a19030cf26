package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/KodaTao/linguachat/model"
)

func seedVocabulary(s *Store) {
	day := 24 * time.Hour
	s.UpsertVocabulary(model.VocabularyItem{ID: "1", Word: "manzana", Translation: "apple", Language: "es", LearnedAt: base.Add(-2 * day)})
	s.UpsertVocabulary(model.VocabularyItem{ID: "2", Word: "Brot", Translation: "bread", Language: "de", LearnedAt: base.Add(-10 * day)})
	s.UpsertVocabulary(model.VocabularyItem{ID: "3", Word: "agua", Translation: "water", Language: "es", LearnedAt: base.Add(-40 * day)})
	s.UpsertVocabulary(model.VocabularyItem{ID: "4", Word: "Apfel", Translation: "apple", Language: "de", LearnedAt: base.Add(-1 * day)})
}

func words(items []model.VocabularyItem) []string {
	out := make([]string, 0, len(items))
	for _, v := range items {
		out = append(out, v.Word)
	}
	return out
}

func TestSearchVocabulary(t *testing.T) {
	s := New(WithClock(func() time.Time { return base }))
	seedVocabulary(s)

	tests := []struct {
		name  string
		query VocabularyQuery
		want  []string
	}{
		{"newest first", VocabularyQuery{}, []string{"Apfel", "manzana", "Brot", "agua"}},
		{"alphabetical ignores case", VocabularyQuery{Sort: SortAlphabetical}, []string{"agua", "Apfel", "Brot", "manzana"}},
		{"search translation", VocabularyQuery{Search: "APPLE"}, []string{"Apfel", "manzana"}},
		{"search word", VocabularyQuery{Search: "gua"}, []string{"agua"}},
		{"language filter", VocabularyQuery{Language: "de"}, []string{"Apfel", "Brot"}},
		{"all languages", VocabularyQuery{Language: AllLanguages, Search: "a"}, []string{"Apfel", "manzana", "Brot", "agua"}},
		{"no match", VocabularyQuery{Search: "zzz"}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, words(s.SearchVocabulary(tt.query)))
		})
	}
}

func TestVocabularyStats(t *testing.T) {
	s := New(WithClock(func() time.Time { return base }))
	assert.Equal(t, VocabularyStats{Languages: []string{}}, s.VocabularyStats())

	seedVocabulary(s)
	stats := s.VocabularyStats()
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 2, stats.ThisWeek)
	assert.Equal(t, 3, stats.ThisMonth)
	assert.Equal(t, "es", stats.MostPracticedLanguage, "ties go to the first language seen")
	assert.Equal(t, []string{"es", "de"}, stats.Languages)
}

func TestHistorySummary(t *testing.T) {
	clock := &fakeClock{t: base}
	s := newTestStore(clock)
	s.Select(fullSelections())

	s.StartConversation()
	s.AppendMessage(userMsg("m1", "a"))
	s.AppendMessage(userMsg("m2", "b"))
	s.RecordCorrection(model.Correction{ID: "c1", MessageID: "m1"})
	clock.Advance(2 * time.Minute)
	s.SaveToHistory()
	s.ClearConversation()

	s.StartConversation()
	s.AppendMessage(userMsg("m3", "c"))
	clock.Advance(30 * time.Second)
	s.SaveToHistory()

	assert.Equal(t, HistorySummary{Conversations: 2, Messages: 3, Corrections: 1, TotalDuration: 150}, s.HistorySummary())
}
