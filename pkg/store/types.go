package store

// Session lifecycle states.
const (
	SessionPending      = "pending"
	SessionConnected    = "connected"
	SessionDisconnected = "disconnected"
)

// Message lifecycle states.
const (
	MessagePending = "pending"
	MessageSent    = "sent"
	MessageFailed  = "failed"
)

// Message directions.
const (
	DirectionOutbound = "outbound"
	DirectionInbound  = "inbound"
)

// Timestamps are epoch milliseconds.
type Session struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Status       string  `json:"status"`
	QRCode       *string `json:"qr_code"`
	PhoneNumber  *string `json:"phone_number"`
	WebhookURL   *string `json:"webhook_url,omitempty"`
	Settings     string  `json:"settings"`
	CreatedAt    int64   `json:"created_at"`
	UpdatedAt    int64   `json:"updated_at"`
	LastActivity int64   `json:"last_activity"`
}

type Message struct {
	ID         string  `json:"id"`
	SessionID  string  `json:"session_id"`
	Direction  string  `json:"direction"`
	FromNumber string  `json:"from_number"`
	ToNumber   string  `json:"to_number"`
	Body       string  `json:"body"`
	MediaType  *string `json:"media_type,omitempty"`
	MediaURL   *string `json:"media_url,omitempty"`
	Status     string  `json:"status"`
	Error      *string `json:"error,omitempty"`
	Metadata   string  `json:"metadata"`
	CreatedAt  int64   `json:"created_at"`
	UpdatedAt  int64   `json:"updated_at"`
}

type APIKey struct {
	KeyHash     string `json:"key_hash"`
	Name        string `json:"name"`
	Permissions string `json:"permissions"`
	CreatedAt   int64  `json:"created_at"`
	ExpiresAt   *int64 `json:"expires_at"`
	LastUsedAt  *int64 `json:"last_used_at"`
}

type MessageStats struct {
	Total    int64 `json:"total"`
	Pending  int64 `json:"pending"`
	Sent     int64 `json:"sent"`
	Failed   int64 `json:"failed"`
	Inbound  int64 `json:"inbound"`
	Outbound int64 `json:"outbound"`
}
