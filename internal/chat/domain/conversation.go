package domain

import (
	"time"

	"escrow_trade_service/pkg"
)

// Conversation 每筆交易一個對話
type Conversation struct {
	ID            string    `bson:"_id" json:"id"`
	TransactionID string    `bson:"transaction_id" json:"transaction_id"`
	Participants  []string  `bson:"participants" json:"participants"`
	LastMessage   *Message  `bson:"last_message,omitempty" json:"last_message,omitempty"`
	UnreadCount   int       `bson:"-" json:"unread_count"`
	CreatedAt     time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time `bson:"updated_at" json:"updated_at"`
}

// HasParticipant check userID in Participants
func (c *Conversation) HasParticipant(userID string) bool {
	return pkg.Contains(c.Participants, userID)
}

// Others participants except userID
func (c *Conversation) Others(userID string) []string {
	return pkg.Without(c.Participants, userID)
}
