package events

import "time"

const EventTypeRestockNotified = "RestockNotified"

// RestockNotifiedPayload reports the outcome of one dispatch cycle for
// downstream consumers (analytics, audit).
type RestockNotifiedPayload struct {
	Shop           string    `json:"shop"`
	Notified       []string  `json:"notified"`
	RestockedItems int       `json:"restockedItems"`
	Timestamp      time.Time `json:"timestamp"`
}
