package model

// Funder is a controlled-vocabulary funding organization.
type Funder struct {
	ID     int64  `json:"id"`
	Code   string `json:"code"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// Cluster is an organizational cluster that implements activities.
type Cluster struct {
	ID        int64  `json:"id"`
	ShortName string `json:"short_name"`
	FullName  string `json:"full_name"`
}

// Status is one entry in the closed implementation-status set.
type Status struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default"`
}

// Currency is a currency activities can be budgeted in.
type Currency struct {
	ID        int64  `json:"id"`
	Code      string `json:"code"`
	Name      string `json:"name"`
	Symbol    string `json:"symbol,omitempty"`
	IsDefault bool   `json:"is_default"`
}
