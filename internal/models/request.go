package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RequestID is a service request identifier. Snapshots written by older
// clients may carry numeric ids, so decoding accepts both JSON numbers and
// strings and keeps the decimal string form.
type RequestID string

func (id *RequestID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = RequestID(strings.TrimSpace(s))
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("request id must be a string or number: %w", err)
	}
	if i, err := n.Int64(); err == nil {
		*id = RequestID(strconv.FormatInt(i, 10))
		return nil
	}
	f, err := n.Float64()
	if err != nil {
		return fmt.Errorf("request id %s: %w", n, err)
	}
	*id = RequestID(strconv.FormatFloat(f, 'f', -1, 64))
	return nil
}

func (id RequestID) String() string {
	return string(id)
}

// Matches compares ids by their trimmed string form.
func (id RequestID) Matches(other string) bool {
	return strings.TrimSpace(string(id)) == strings.TrimSpace(other)
}

// Status is a lifecycle state of a service request.
type Status string

func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStatus normalizes casing and separators, so "Pending" and
// "in-progress" are accepted.
func ParseStatus(raw string) (Status, error) {
	norm := strings.ToUpper(strings.TrimSpace(raw))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	switch Status(norm) {
	case StatusPending, StatusAccepted, StatusRejected, StatusInProgress, StatusCompleted:
		return Status(norm), nil
	}
	return "", fmt.Errorf("unknown status %q", raw)
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusCompleted
}

// Urgency selects the surcharge tier.
type Urgency string

func (u *Urgency) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*u = Urgency(strings.ToLower(strings.TrimSpace(raw)))
	return nil
}

// ParseUrgency is case-insensitive.
func ParseUrgency(raw string) (Urgency, error) {
	u := Urgency(strings.ToLower(strings.TrimSpace(raw)))
	switch u {
	case UrgencyNormal, UrgencyEmergency:
		return u, nil
	}
	return "", fmt.Errorf("unknown urgency %q", raw)
}

type ServiceRequest struct {
	ID               RequestID `json:"id"`
	CustomerID       string    `json:"customerId"`
	MechanicID       string    `json:"mechanicId,omitempty"`
	MechanicAssigned bool      `json:"mechanicAssigned"`
	Vehicle          string    `json:"vehicle"`
	ServiceType      string    `json:"serviceType"`
	ServiceName      string    `json:"serviceName"`
	Urgency          Urgency   `json:"urgency"`
	Distance         float64   `json:"distance"`
	BasePrice        float64   `json:"basePrice"`
	Price            float64   `json:"price"`
	Status           Status    `json:"status"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
	Version          int64     `json:"version"`
}

// RequestDraft is the customer supplied part of a new request.
type RequestDraft struct {
	CustomerID  string  `json:"customerId"`
	Vehicle     string  `json:"vehicle"`
	ServiceType string  `json:"serviceType"`
	Urgency     string  `json:"urgency"`
	Distance    float64 `json:"distance"`
}

// RequestFilter narrows List results; empty fields match everything.
type RequestFilter struct {
	CustomerID string
	MechanicID string
	Status     Status
}

func (f RequestFilter) Match(r *ServiceRequest) bool {
	if f.CustomerID != "" && r.CustomerID != f.CustomerID {
		return false
	}
	if f.MechanicID != "" && r.MechanicID != f.MechanicID {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	return true
}
