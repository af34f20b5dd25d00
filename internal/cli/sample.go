package cli

import "live-quiz-service/internal/domain"

// sampleQuizzes is the built-in catalog served when no other source knows the quiz id.
func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"sample": {
			ID:    "sample",
			Title: "Live Quiz - top 5 after every question",
			Questions: []domain.Question{
				{
					Text:         "1) What is the capital of Vietnam?",
					Choices:      []string{"Ho Chi Minh City", "Hanoi", "Da Nang", "Hue"},
					CorrectIndex: 1,
					TimeLimitSec: 15,
				},
				{
					Text:         "2) 5 x 6 = ?",
					Choices:      []string{"11", "25", "30", "56"},
					CorrectIndex: 2,
					TimeLimitSec: 12,
				},
				{
					Text:         "3) What is Bien Dong called in English?",
					Choices:      []string{"East Sea", "Red Sea", "Black Sea", "Yellow Sea"},
					CorrectIndex: 0,
					TimeLimitSec: 15,
				},
			},
		},
	}
}
