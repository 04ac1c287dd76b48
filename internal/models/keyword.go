package models

import "time"

// Keyword is a reupload title filter, unique by text.
type Keyword struct {
	PK        int64     `json:"pk"`
	Text      string    `json:"keyword"`
	CreatedAt time.Time `json:"created_at"`
}

// AutoliftKeyword pairs a title filter with the worst acceptable search position.
type AutoliftKeyword struct {
	PK        int64     `json:"pk"`
	Text      string    `json:"keyword"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"created_at"`
}

// User is an operator that opened the chat panel.
type User struct {
	PK        int64     `json:"pk"`
	TgID      string    `json:"tg_id"`
	Username  string    `json:"username,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Identity is the marketplace account bound to the stored session.
type Identity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}
