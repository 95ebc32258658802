package models

import "time"

// Tenant is an isolated customer account. Tenants are owned by an
// external provisioning system; PulseStream consumes only the identity
// and the quota fields.
type Tenant struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// RateLimitPerMinute is the tenant's ingestion quota. Zero means
	// the server default applies.
	RateLimitPerMinute int `json:"rate_limit_per_minute"`

	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}
