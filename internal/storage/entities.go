package storage

import "time"

type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Online    bool      `json:"is_online"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is an immutable record of a single message between two users.
// Sender and Receiver are populated by history queries only.
type Message struct {
	ID         int64     `json:"id"`
	SenderID   int64     `json:"sender_id"`
	ReceiverID int64     `json:"receiver_id"`
	Type       string    `json:"message_type"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"timestamp"`
	Sender     User      `json:"sender"`
	Receiver   User      `json:"receiver"`
}
