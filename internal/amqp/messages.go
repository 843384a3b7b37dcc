package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"budget/internal/core"
)

// Job names accepted in RunJobMessage.
const (
	JobReport     = "report"
	JobDeadLetter = "dead-letter"
)

// RoutingReportCreated is the routing key of ReportCreatedEvent.
const RoutingReportCreated = "report.created"

// RunJobMessage asks the worker to run a batch job.
type RunJobMessage struct {
	Job         string    `json:"job"`
	RequestedBy int64     `json:"requestedBy,omitempty"`
	RequestID   string    `json:"requestId,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewRunJobMessage creates a request stamped with the current time.
func NewRunJobMessage(job string, requestedBy int64, requestID string) *RunJobMessage {
	return &RunJobMessage{
		Job:         job,
		RequestedBy: requestedBy,
		RequestID:   requestID,
		Timestamp:   time.Now().UTC(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *RunJobMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// RunJobMessageFromJSON decodes and validates a request.
func RunJobMessageFromJSON(data []byte) (*RunJobMessage, error) {
	var msg RunJobMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	switch msg.Job {
	case JobReport, JobDeadLetter:
		return &msg, nil
	default:
		return nil, fmt.Errorf("unknown job %q", msg.Job)
	}
}

// ReportCreatedEvent announces a stored monthly report.
type ReportCreatedEvent struct {
	ReportID     int64     `json:"reportId"`
	UserID       int64     `json:"userId"`
	ReportMonth  string    `json:"reportMonth"`
	Notification string    `json:"notificationMessage"`
	Timestamp    time.Time `json:"timestamp"`
}

func NewReportCreatedEvent(r core.Report) *ReportCreatedEvent {
	return &ReportCreatedEvent{
		ReportID:     r.ID,
		UserID:       r.UserID,
		ReportMonth:  core.MonthLabel(r.Month),
		Notification: r.Notification,
		Timestamp:    time.Now().UTC(),
	}
}

func (e *ReportCreatedEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

func ReportCreatedEventFromJSON(data []byte) (*ReportCreatedEvent, error) {
	var e ReportCreatedEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
