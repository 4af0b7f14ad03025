package dispatch

import (
	"time"

	"chtbtr/internal/domain"
)

// Config controls the delivery pipeline.
type Config struct {
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int // 0 means one attempt
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	SendTimeout     time.Duration
	DedupWindow     time.Duration // 0 disables
	DedupMaxEntries int
}

// Delivery is one accepted notification.
type Delivery struct {
	Trigger  domain.TriggerKind
	Username domain.Username
	To       domain.ProfileID
	Text     string
}

// DeliveryEvent is the payload of dispatch.* bus events.
type DeliveryEvent struct {
	Trigger  domain.TriggerKind `json:"trigger"`
	Username domain.Username    `json:"username"`
	To       string             `json:"to"`
	At       time.Time          `json:"at"`
	Error    string             `json:"error,omitempty"`
}

// Stats are cumulative counters since process start.
type Stats struct {
	Queued  uint64 `json:"queued"`
	Sent    uint64 `json:"sent"`
	Failed  uint64 `json:"failed"`
	Dropped uint64 `json:"dropped"`
	Deduped uint64 `json:"deduped"`
	Pending int    `json:"pending"`
}
