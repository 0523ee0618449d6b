package domain

import "time"

const (
	ServiceTypeApi       = "api"
	ServiceTypeCompute   = "compute"
	ServiceTypeScheduler = "scheduler"
	ServiceTypePrivacy   = "privacy"
	ServiceTypeCache     = "cache"
)

const (
	ServiceStatusIdle = "idle"
	ServiceStatusBusy = "busy"
	ServiceStatusDead = "dead"
)

// ServiceStatus is the heartbeat a service instance writes periodically.
type ServiceStatus struct {
	Id         string    `json:"id"`
	Type       string    `json:"type"`
	Hostname   string    `json:"hostname"`
	Port       int       `json:"port"`
	Status     string    `json:"status"`
	LastUpdate time.Time `json:"lastUpdate"`
	Version    string    `json:"version"`
}
