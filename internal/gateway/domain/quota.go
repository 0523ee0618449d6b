package domain

import "time"

// QuotaDebitRecord is one unit of quota consumed by Username at Timestamp.
// It is given back once it is older than the refresh window.
type QuotaDebitRecord struct {
	Id        string
	Username  string
	Timestamp time.Time
}

type QuotaStatus struct {
	Username          string `json:"username"`
	Allotment         int    `json:"quota"`
	Remaining         int    `json:"currentQuota"`
	OutstandingDebits int    `json:"outstandingDebits"`
}
