package domain

import "time"

type AccessLogKind string

const (
	AccessLogIllegal AccessLogKind = "illegal"
	AccessLogAudit   AccessLogKind = "audit"
)

func (k AccessLogKind) Valid() bool {
	return k == AccessLogIllegal || k == AccessLogAudit
}

// IllegalAccessRecord is written whenever a request is made with a missing or unknown token,
// or by a user lacking the rights for what was asked.
type IllegalAccessRecord struct {
	Username        string              `json:"username"`
	Token           string              `json:"token"`
	Headers         map[string][]string `json:"headers"`
	AccessTimestamp time.Time           `json:"accessTimestamp"`
	Path            string              `json:"path"`
}

// AuditAccessRecord is written whenever an admin reads an audit log.
type AuditAccessRecord struct {
	Headers         map[string][]string `json:"headers"`
	AccessTimestamp time.Time           `json:"accessTimestamp"`
	Path            string              `json:"path"`
}
