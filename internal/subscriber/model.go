package subscriber

import "time"

// Subscriber is one back-in-stock subscription row. EmailSent is a
// one-shot flag (0 or 1): once a restock email has been confirmed sent
// the row is permanently excluded from future matching.
type Subscriber struct {
	ID               int64     `json:"id"`
	Email            string    `json:"email"`
	ProductID        string    `json:"productId"`
	VariantID        string    `json:"variantId"`
	Shop             string    `json:"shop"`
	AutoEmailEnabled bool      `json:"autoEmailEnabled"`
	EmailSent        int       `json:"emailSent"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Key identifies a subscription row; the store is unique on it.
type Key struct {
	Email     string
	ProductID string
	VariantID string
	Shop      string
}
