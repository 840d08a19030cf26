package model

import (
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

type Difficulty string

const (
	Beginner     Difficulty = "beginner"
	Intermediate Difficulty = "intermediate"
	Advanced     Difficulty = "advanced"
)

// Difficulties lists the tiers from easiest to hardest.
var Difficulties = []Difficulty{Beginner, Intermediate, Advanced}

func (d Difficulty) Valid() bool {
	switch d {
	case Beginner, Intermediate, Advanced:
		return true
	}
	return false
}

type Category string

const (
	CategoryGrammar    Category = "grammar"
	CategoryVocabulary Category = "vocabulary"
	CategorySpelling   Category = "spelling"
	CategoryStyle      Category = "style"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryGrammar, CategoryVocabulary, CategorySpelling, CategoryStyle:
		return true
	}
	return false
}

// Scenario 练习场景
type Scenario struct {
	ID                    string       `json:"id"`
	Title                 string       `json:"title"`
	Description           string       `json:"description,omitempty"`
	Icon                  string       `json:"icon,omitempty"`
	RecommendedDifficulty []Difficulty `json:"recommendedDifficulty,omitempty"`
	SystemPromptContext   string       `json:"systemPromptContext"`
}

type Message struct {
	ID          string       `json:"id"`
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	Corrections []Correction `json:"corrections,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
}

type Correction struct {
	ID          string   `json:"id"`
	Original    string   `json:"original"`
	Corrected   string   `json:"corrected"`
	Explanation string   `json:"explanation"`
	Category    Category `json:"category"`
	MessageID   string   `json:"messageId"`
}

type VocabularyItem struct {
	ID          string    `json:"id"`
	Word        string    `json:"word"`
	Translation string    `json:"translation"`
	Context     string    `json:"context"`
	Language    string    `json:"language"`
	LearnedAt   time.Time `json:"learnedAt"`
	ReviewCount int       `json:"reviewCount"`
}

// ConversationHistory 已归档的对话
type ConversationHistory struct {
	ID           string       `json:"id"`
	Language     string       `json:"language"`
	Difficulty   Difficulty   `json:"difficulty"`
	Scenario     Scenario     `json:"scenario"`
	Messages     []Message    `json:"messages"`
	Corrections  []Correction `json:"corrections"`
	StartedAt    time.Time    `json:"startedAt"`
	EndedAt      time.Time    `json:"endedAt"`
	MessageCount int          `json:"messageCount"`
	Duration     int64        `json:"duration"` // seconds
}

// Selections drive the active conversation. Any field may be unset.
type Selections struct {
	Language   string     `json:"language,omitempty"`
	Difficulty Difficulty `json:"difficulty,omitempty"`
	Scenario   *Scenario  `json:"scenario,omitempty"`
}

func (s Selections) Complete() bool {
	return s.Language != "" && s.Difficulty != "" && s.Scenario != nil
}

// ChatTurn is the only per-message shape that reaches the model.
type ChatTurn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ConverseRequest is what a gateway receives for one turn. Direct gateways use
// Instruction; the remote client sends Selections and lets the endpoint rebuild it.
type ConverseRequest struct {
	Instruction string
	Selections  Selections
	Messages    []ChatTurn
}

// Transcript reduces messages to role and content.
func Transcript(msgs []Message) []ChatTurn {
	turns := make([]ChatTurn, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, ChatTurn{Role: m.Role, Content: m.Content})
	}
	return turns
}
