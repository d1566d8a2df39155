package models

import "time"

// Service is one requestable document type in the office catalog.
type Service struct {
	ServiceID       string    `json:"service_id"`
	Name            string    `json:"name"`
	Price           int64     `json:"price"`
	RequiresPurpose bool      `json:"requires_purpose"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
