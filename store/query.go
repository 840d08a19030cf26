package store

import (
	"sort"
	"strings"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/KodaTao/linguachat/model"
)

type SortOrder string

const (
	SortByDate       SortOrder = "date"
	SortAlphabetical SortOrder = "alphabetical"
)

// AllLanguages matches every language in a vocabulary query.
const AllLanguages = "all"

type VocabularyQuery struct {
	Search   string
	Language string
	Sort     SortOrder
}

// SearchVocabulary filters by a case-insensitive substring of word or
// translation and by language, then sorts newest first or alphabetically.
func (s *Store) SearchVocabulary(q VocabularyQuery) []model.VocabularyItem {
	items := s.Vocabulary()
	needle := strings.ToLower(strings.TrimSpace(q.Search))

	out := make([]model.VocabularyItem, 0, len(items))
	for _, v := range items {
		if needle != "" &&
			!strings.Contains(strings.ToLower(v.Word), needle) &&
			!strings.Contains(strings.ToLower(v.Translation), needle) {
			continue
		}
		if q.Language != "" && q.Language != AllLanguages && v.Language != q.Language {
			continue
		}
		out = append(out, v)
	}

	switch q.Sort {
	case SortAlphabetical:
		col := collate.New(language.Und, collate.IgnoreCase)
		sort.SliceStable(out, func(i, j int) bool {
			return col.CompareString(out[i].Word, out[j].Word) < 0
		})
	default:
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].LearnedAt.After(out[j].LearnedAt)
		})
	}
	return out
}

type VocabularyStats struct {
	Total                 int      `json:"total"`
	ThisWeek              int      `json:"thisWeek"`
	ThisMonth             int      `json:"thisMonth"`
	MostPracticedLanguage string   `json:"mostPracticedLanguage"`
	Languages             []string `json:"languages"`
}

// VocabularyStats counts words learned in the last 7 and 30 days. The most
// practiced language is the one with the most words; ties go to the language
// seen first.
func (s *Store) VocabularyStats() VocabularyStats {
	items := s.Vocabulary()
	now := s.now()
	weekAgo := now.Add(-7 * 24 * time.Hour)
	monthAgo := now.Add(-30 * 24 * time.Hour)

	stats := VocabularyStats{Total: len(items), Languages: []string{}}
	counts := make(map[string]int)
	best := 0
	for _, v := range items {
		if v.LearnedAt.After(weekAgo) {
			stats.ThisWeek++
		}
		if v.LearnedAt.After(monthAgo) {
			stats.ThisMonth++
		}
		if _, seen := counts[v.Language]; !seen {
			stats.Languages = append(stats.Languages, v.Language)
		}
		counts[v.Language]++
	}
	for _, lang := range stats.Languages {
		if counts[lang] > best {
			best = counts[lang]
			stats.MostPracticedLanguage = lang
		}
	}
	return stats
}

type HistorySummary struct {
	Conversations int   `json:"conversations"`
	Messages      int   `json:"messages"`
	Corrections   int   `json:"corrections"`
	TotalDuration int64 `json:"totalDuration"`
}

func (s *Store) HistorySummary() HistorySummary {
	var sum HistorySummary
	for _, h := range s.History() {
		sum.Conversations++
		sum.Messages += h.MessageCount
		sum.Corrections += len(h.Corrections)
		sum.TotalDuration += h.Duration
	}
	return sum
}
