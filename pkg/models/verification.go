package models

import "time"

// EntityVerification is what the registry knows about a business identifier.
type EntityVerification struct {
	UEN              string    `json:"uen"`
	IsValid          bool      `json:"isValid"`
	Exists           bool      `json:"exists"`
	EntityName       string    `json:"entityName,omitempty"`
	EntityType       string    `json:"entityType,omitempty"`
	Status           string    `json:"status,omitempty"`
	GSTRegistered    bool      `json:"gstRegistered"`
	RegistrationDate string    `json:"registrationDate,omitempty"`
	LastUpdated      time.Time `json:"lastUpdated"`
	Source           string    `json:"source,omitempty"`
	Error            string    `json:"error,omitempty"`
}

// CachedVerification is a verification result held by the verifier cache.
type CachedVerification struct {
	EntityVerification
	CachedAt  time.Time `json:"cachedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the entry is stale at now.
func (c CachedVerification) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
