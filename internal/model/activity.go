package model

import "time"

// Activity is a funded activity record. ActivityID is the external,
// human-facing identifier (e.g. "Y26-000014"); ID is the store key.
type Activity struct {
	ID           int64     `json:"id"`
	ActivityID   string    `json:"activity_id"`
	Name         string    `json:"name"`
	Year         int       `json:"year"`
	PlannedMonth time.Time `json:"planned_month"`
	Budget       float64   `json:"budget"`
	Disbursed    float64   `json:"disbursed"`
	CurrencyID   *int64    `json:"currency_id,omitempty"`
	StatusID     int64     `json:"status_id"`
	Notes        string    `json:"notes,omitempty"`
	Retired      bool      `json:"retired"`
	TechReport   bool      `json:"technical_report_available"`

	// Associations; activities may be co-funded and implemented by
	// multiple clusters.
	FunderIDs  []int64 `json:"funder_ids,omitempty"`
	ClusterIDs []int64 `json:"cluster_ids,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DuplicateCandidate is an existing activity that resembles an incoming
// row by name, year, and cluster membership.
type DuplicateCandidate struct {
	ActivityID  string `json:"activity_id"`
	Name        string `json:"name"`
	Year        int    `json:"year"`
	ClusterName string `json:"cluster"`
}

// AuditEntry is one immutable record of a create/update performed by
// the pipeline.
type AuditEntry struct {
	ID         int64     `json:"id"`
	Actor      string    `json:"actor"`
	Action     string    `json:"action"`
	Subject    string    `json:"subject"`
	ActivityID *int64    `json:"activity_id,omitempty"`
	At         time.Time `json:"at"`
}

// UploadBatch records one finalized import.
type UploadBatch struct {
	ID         int64     `json:"id"`
	Year       int       `json:"year"`
	UploadedBy string    `json:"uploaded_by"`
	FileName   string    `json:"file_name"`
	UploadedAt time.Time `json:"uploaded_at"`
}
