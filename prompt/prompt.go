// Package prompt renders the tutor's system instruction. Everything here is
// pure: the same selections always produce the same text.
package prompt

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/KodaTao/linguachat/model"
)

var languageNames = map[string]string{
	"es": "Spanish",
	"fr": "French",
	"de": "German",
	"it": "Italian",
	"ja": "Japanese",
}

var greetings = map[string]string{
	"es": "¡Hola! ",
	"fr": "Bonjour! ",
	"de": "Hallo! ",
	"it": "Ciao! ",
	"ja": "こんにちは！",
}

type guidance struct {
	vocabulary  string
	grammar     string
	corrections string
	pace        string
}

var difficultyGuidance = map[model.Difficulty]guidance{
	model.Beginner: {
		vocabulary:  "Use simple, common words (A1-A2 CEFR level)",
		grammar:     "Use present tense primarily, simple sentence structures",
		corrections: "Provide detailed, encouraging corrections with explanations",
		pace:        "Speak slowly and clearly, repeat if needed",
	},
	model.Intermediate: {
		vocabulary:  "Use everyday vocabulary with some less common words (B1-B2 CEFR level)",
		grammar:     "Use multiple tenses, compound sentences, common idioms",
		corrections: "Provide constructive corrections focusing on patterns",
		pace:        "Natural pace, introduce colloquial expressions",
	},
	model.Advanced: {
		vocabulary:  "Use sophisticated vocabulary, including idioms and cultural references (C1-C2 CEFR level)",
		grammar:     "Use complex structures, subjunctive mood, nuanced expressions",
		corrections: "Focus on subtle errors and style improvements",
		pace:        "Native-like pace, use cultural references and humor",
	},
}

// LanguageName resolves a language code. Unknown codes are returned as-is.
func LanguageName(code string) string {
	if name, ok := languageNames[code]; ok {
		return name
	}
	return code
}

// Languages returns the supported language codes in sorted order.
func Languages() []string {
	codes := make([]string, 0, len(languageNames))
	for code := range languageNames {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Build renders the system instruction for one conversation. Callers validate
// difficulty; an unknown tier falls back to beginner guidance.
func Build(language string, difficulty model.Difficulty, scenario model.Scenario) string {
	name := LanguageName(language)
	g, ok := difficultyGuidance[difficulty]
	if !ok {
		g = difficultyGuidance[model.Beginner]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are a friendly and supportive %s language tutor having a conversation with a student.\n\n", name)
	fmt.Fprintf(&b, "**Student Level**: %s\n\n", titleCase(string(difficulty)))
	fmt.Fprintf(&b, "**Conversation Context**: %s\n\n", scenario.SystemPromptContext)

	b.WriteString("**Teaching Guidelines**:\n")
	for _, line := range []string{g.vocabulary, g.grammar, g.corrections, g.pace} {
		fmt.Fprintf(&b, "- %s\n", line)
	}

	fmt.Fprintf(&b, `
**Your Role**:
1. Respond naturally to the student's messages in %[1]s
2. Keep responses conversational and contextual to the scenario
3. Adapt your language complexity to the student's level
4. Be encouraging and supportive of their learning journey
5. Provide corrections and vocabulary help in a JSON format

**Response Format**:
You MUST respond with a JSON object in the following format:

{
  "message": "Your conversational response in %[1]s",
  "corrections": [
    {
      "original": "The exact phrase the student wrote incorrectly",
      "corrected": "The corrected version",
      "explanation": "Brief explanation in English of why this is incorrect",
      "category": "grammar" | "vocabulary" | "spelling" | "style"
    }
  ],
  "vocabulary": [
    {
      "word": "A key word from YOUR response",
      "translation": "English translation",
      "context": "The sentence from YOUR message containing this word"
    }
  ]
}

**Important Rules**:
- Always respond with valid JSON
- The "message" field is your conversational response in %[1]s
- Include 0-3 corrections per message (only if student made errors)
- Include 1-3 vocabulary items from YOUR response to help the student learn
- Keep corrections encouraging and constructive
- If the student's message is perfect, set "corrections" to an empty array
- Stay in character for the scenario: %[2]s
- Keep responses concise (2-4 sentences typically)

Begin the conversation naturally!`, name, scenario.Title)

	return b.String()
}

// Greeting returns the opening payload for a conversation, in the same JSON
// shape the tutor is asked to produce.
func Greeting(language string, scenario model.Scenario) string {
	greeting, ok := greetings[language]
	if !ok {
		greeting = "Hello! "
	}
	first, _, _ := strings.Cut(scenario.Description, ".")

	payload, _ := json.Marshal(map[string]any{
		"message":     greeting + first + ".",
		"corrections": []any{},
		"vocabulary":  []any{},
	})
	return string(payload)
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
