package services

import (
	"fmt"
	"math/rand/v2"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/keisueke/show-discord/internal/models"
)

// CandidateCount is how many questions a questioner chooses from each turn.
const CandidateCount = 4

type QuestionBank struct {
	questions []models.Question
}

func NewQuestionBank(questions []models.Question) (*QuestionBank, error) {
	if len(questions) == 0 {
		return nil, ErrEmptyQuestionBank
	}
	for i, q := range questions {
		if q.Text == "" || q.Category == "" {
			return nil, fmt.Errorf("question %d: %w", i, ErrInvalidQuestion)
		}
	}
	return &QuestionBank{questions: append([]models.Question(nil), questions...)}, nil
}

func DefaultQuestionBank() *QuestionBank {
	return &QuestionBank{
		questions: []models.Question{
			{Category: "life", Text: "How many times a week do you eat at home?"},
			{Category: "life", Text: "How many minutes is your daily commute?"},
			{Category: "life", Text: "How many hours of sleep did you get last night?"},
			{Category: "life", Text: "How many cups of coffee do you drink in a week?"},
			{Category: "money", Text: "How much cash is in your wallet right now?"},
			{Category: "money", Text: "What is the most you would pay for a concert ticket?"},
			{Category: "money", Text: "How much did your last haircut cost?"},
			{Category: "knowledge", Text: "How many stations are on the Yamanote line?"},
			{Category: "knowledge", Text: "In what year was the first video game console sold?"},
			{Category: "knowledge", Text: "How many bones are in the adult human body?"},
			{Category: "knowledge", Text: "How tall is Mount Fuji in meters?"},
			{Category: models.CategoryPersonal, Text: "How many unread messages does {player} have?"},
			{Category: models.CategoryPersonal, Text: "How many countries has {player} visited?"},
			{Category: models.CategoryPersonal, Text: "How many hours a week does {player} spend gaming?"},
			{Category: models.CategoryPersonal, Text: "How many apps are on {player}'s home screen?"},
		},
	}
}

type questionFile struct {
	Questions []models.Question `yaml:"questions"`
}

// LoadQuestionBank reads a YAML file with a top-level questions list.
func LoadQuestionBank(path string) (*QuestionBank, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read question bank: %w", err)
	}
	var file questionFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse question bank: %w", err)
	}
	return NewQuestionBank(file.Questions)
}

func (qb *QuestionBank) Len() int {
	return len(qb.questions)
}

// Candidates picks up to n distinct questions at random.
func (qb *QuestionBank) Candidates(rng *rand.Rand, n int) []models.Question {
	if n > len(qb.questions) {
		n = len(qb.questions)
	}
	out := make([]models.Question, 0, n)
	for _, i := range rng.Perm(len(qb.questions))[:n] {
		out = append(out, qb.questions[i])
	}
	return out
}
