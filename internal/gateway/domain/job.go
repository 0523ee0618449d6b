package domain

import (
	"time"

	"golang.org/x/exp/slices"
)

type JobStatus string

const (
	JobStatusCreated          JobStatus = "CREATED"
	JobStatusQueued           JobStatus = "QUEUED"
	JobStatusScheduled        JobStatus = "SCHEDULED"
	JobStatusTransferringData JobStatus = "TRANSFERRING_DATA"
	JobStatusRunning          JobStatus = "RUNNING"
	JobStatusError            JobStatus = "ERROR"
	JobStatusCancelled        JobStatus = "CANCELLED"
	JobStatusDone             JobStatus = "DONE"
	JobStatusCompleted        JobStatus = "COMPLETED"
	JobStatusDead             JobStatus = "DEAD"
	JobStatusUndefined        JobStatus = "UNDEFINED"
)

const JobTypePython2 = "python2"

var cancellableStatuses = []JobStatus{
	JobStatusTransferringData,
	JobStatusQueued,
	JobStatusScheduled,
	JobStatusRunning,
	JobStatusError,
}

var activeStatuses = []JobStatus{
	JobStatusCreated,
	JobStatusQueued,
	JobStatusScheduled,
	JobStatusTransferringData,
	JobStatusRunning,
}

// CancellableStatuses returns the statuses a job may be cancelled from.
func CancellableStatuses() []JobStatus {
	return slices.Clone(cancellableStatuses)
}

// ActiveStatuses returns the statuses counted towards the queue position of a new job.
func ActiveStatuses() []JobStatus {
	return slices.Clone(activeStatuses)
}

func (s JobStatus) IsCancellable() bool {
	return slices.Contains(cancellableStatuses, s)
}

func (s JobStatus) IsActive() bool {
	return slices.Contains(activeStatuses, s)
}

// JobRequest is a submission as sent by a client. Everything except Params is checked against
// the core schema; Params is checked against the schema of the requested algorithm.
type JobRequest struct {
	AlgorithmName string                 `json:"algorithmName"`
	AccessLevel   AccessLevel            `json:"accessLevel"`
	StartDate     string                 `json:"startDate"`
	EndDate       string                 `json:"endDate"`
	KeySelector   []string               `json:"keySelector,omitempty"`
	Params        map[string]interface{} `json:"params"`
}

type Job struct {
	Id            string                 `json:"jobID"`
	Type          string                 `json:"type"`
	Requester     string                 `json:"requester"`
	AlgorithmName string                 `json:"algorithmName"`
	AccessLevel   AccessLevel            `json:"accessLevel"`
	Params        map[string]interface{} `json:"params"`
	StartDate     string                 `json:"startDate"`
	EndDate       string                 `json:"endDate"`
	KeySelector   []string               `json:"keySelector,omitempty"`
	// Most recent first.
	StatusHistory []JobStatus `json:"status"`
	Created       time.Time   `json:"created"`
}

// NewQueuedJob builds the record persisted for an admitted request.
func NewQueuedJob(id string, requester string, request *JobRequest, created time.Time) *Job {
	return &Job{
		Id:            id,
		Type:          JobTypePython2,
		Requester:     requester,
		AlgorithmName: request.AlgorithmName,
		AccessLevel:   request.AccessLevel,
		Params:        request.Params,
		StartDate:     request.StartDate,
		EndDate:       request.EndDate,
		KeySelector:   request.KeySelector,
		StatusHistory: []JobStatus{JobStatusQueued},
		Created:       created,
	}
}

func (j *Job) CurrentStatus() JobStatus {
	if len(j.StatusHistory) == 0 {
		return JobStatusUndefined
	}
	return j.StatusHistory[0]
}
