package models

import (
	"time"

	"github.com/google/uuid"
)

// QuestionKind is the presentation type of an activity question.
type QuestionKind string

const (
	QuestionChoice    QuestionKind = "choice"
	QuestionOpen      QuestionKind = "open"
	QuestionWordCloud QuestionKind = "wordcloud"
)

// Activity represents a lab activity (workshop session, live quiz, open house demo).
// Activity IDs are opaque strings on the wire.
type Activity struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Live        bool       `json:"live"`
	CreatedBy   *uuid.UUID `json:"created_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ActivityQuestion is one prepared question in an activity, ordered by position.
type ActivityQuestion struct {
	ID         uuid.UUID    `json:"id"`
	ActivityID string       `json:"activity_id"`
	Position   int          `json:"position"`
	Prompt     string       `json:"prompt"`
	Kind       QuestionKind `json:"kind"`
	Options    []string     `json:"options"`
	CreatedAt  time.Time    `json:"created_at"`
}
