package prompt

import "github.com/KodaTao/linguachat/model"

var scenarios = []model.Scenario{
	{
		ID:                    "casual-intro",
		Title:                 "Casual Introduction & Small Talk",
		Description:           "Practice introducing yourself and making light conversation. Perfect for meeting new people and building confidence in everyday interactions.",
		Icon:                  "👋",
		RecommendedDifficulty: []model.Difficulty{model.Beginner, model.Intermediate},
		SystemPromptContext:   "You are having a casual conversation with a friendly person you just met. They want to get to know you through natural small talk. Keep the conversation light, ask about their interests, hobbies, and daily life. Be warm and encouraging.",
	},
	{
		ID:                    "restaurant",
		Title:                 "Ordering at a Restaurant",
		Description:           "Learn to order food, ask about menu items, and handle restaurant situations. Practice vocabulary for meals, drinks, and dietary preferences.",
		Icon:                  "🍽️",
		RecommendedDifficulty: []model.Difficulty{model.Beginner, model.Intermediate},
		SystemPromptContext:   "You are a friendly waiter/waitress at a restaurant. Help the customer order food, explain menu items, make recommendations, and handle special requests. Use common restaurant vocabulary and be patient with questions about ingredients or preparation.",
	},
	{
		ID:                    "shopping-directions",
		Title:                 "Shopping & Asking for Directions",
		Description:           "Navigate stores, ask for help finding items, and get directions around town. Essential skills for traveling and daily errands.",
		Icon:                  "🛍️",
		RecommendedDifficulty: []model.Difficulty{model.Beginner, model.Intermediate},
		SystemPromptContext:   "You are either a helpful shop assistant or a local giving directions. Help the person find what they're looking for, describe locations, give clear directions, and answer questions about prices, sizes, or routes. Use spatial language and be descriptive.",
	},
	{
		ID:                    "travel-hotel",
		Title:                 "Travel & Hotel Check-in",
		Description:           "Handle hotel reservations, check-ins, and travel arrangements. Learn vocabulary for accommodations, transportation, and tourist activities.",
		Icon:                  "✈️",
		RecommendedDifficulty: []model.Difficulty{model.Intermediate, model.Advanced},
		SystemPromptContext:   "You are a hotel receptionist or travel agent. Help the customer with their reservation, check-in process, room preferences, and provide information about local attractions. Handle any concerns professionally and offer travel tips.",
	},
	{
		ID:                    "job-interview",
		Title:                 "Job Interview Practice",
		Description:           "Prepare for professional interviews. Practice answering common questions, discussing your skills, and asking about the position.",
		Icon:                  "💼",
		RecommendedDifficulty: []model.Difficulty{model.Intermediate, model.Advanced},
		SystemPromptContext:   "You are a hiring manager conducting a job interview. Ask about the candidate's experience, skills, strengths, and career goals. Be professional but friendly. Provide opportunities for them to ask questions about the role and company.",
	},
	{
		ID:                    "everyday-conversations",
		Title:                 "Everyday Conversations",
		Description:           "Practice common daily situations like talking about weather, making plans, discussing hobbies, and sharing opinions on various topics.",
		Icon:                  "💬",
		RecommendedDifficulty: model.Difficulties,
		SystemPromptContext:   "You are a friendly conversation partner. Discuss everyday topics naturally - weather, weekend plans, hobbies, current events, food, entertainment, etc. Adjust your vocabulary and complexity to match the learner's level. Keep conversations engaging and relatable.",
	},
	{
		ID:                    "free-form",
		Title:                 "Free-form Chat",
		Description:           "Open conversation on any topic you choose. Great for practicing spontaneous dialogue and exploring subjects you're interested in.",
		Icon:                  "🌟",
		RecommendedDifficulty: model.Difficulties,
		SystemPromptContext:   "You are a versatile conversation partner ready to discuss any topic the learner brings up. Be flexible, encouraging, and adapt to their interests. Help them explore new vocabulary naturally through the conversation. Follow their lead while keeping the dialogue flowing.",
	},
}

// Scenarios returns a copy of the built-in catalog.
func Scenarios() []model.Scenario {
	out := make([]model.Scenario, len(scenarios))
	copy(out, scenarios)
	return out
}

func ScenarioByID(id string) (model.Scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return model.Scenario{}, false
}
