package model

import "time"

// SubscriptionInfo is the read-only listing view of a subscription.
type SubscriptionInfo struct {
	ID               string    `json:"subscription_id"`
	SubscriberID     string    `json:"subscriber_id"`
	Filter           string    `json:"filter"`
	State            string    `json:"state"`
	ConcurrencyLimit int       `json:"concurrency_limit"`
	CreatedAt        time.Time `json:"created_at"`
	Queued           int       `json:"queued"`
	InFlight         int       `json:"in_flight"`
}
