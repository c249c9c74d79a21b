// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package storage defines the persisted research job record and the store
// interface implemented by the SQLite, MySQL and PostgreSQL backends.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a job does not exist.
var ErrNotFound = errors.New("job not found")

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is one requested analysis.
type Job struct {
	ID           string    `json:"id"`
	Query        string    `json:"query"`
	AnalysisType string    `json:"analysis_type"`
	Status       Status    `json:"status"`
	ReportPath   string    `json:"report_path,omitempty"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewJob returns a pending job with a fresh ID.
func NewJob(query, analysisType string) *Job {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &Job{
		ID:           uuid.NewString(),
		Query:        query,
		AnalysisType: analysisType,
		Status:       StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Update is a status transition. ReportPath and Error are stored as given.
type Update struct {
	Status     Status
	ReportPath string
	Error      string
}

// Validate checks the transition target.
func (u Update) Validate() error {
	if !u.Status.Valid() {
		return fmt.Errorf("invalid job status %q", u.Status)
	}
	return nil
}

// JobStore persists jobs.
type JobStore interface {
	// Create inserts a new job.
	Create(ctx context.Context, job *Job) error
	// Get returns ErrNotFound for unknown IDs.
	Get(ctx context.Context, id string) (*Job, error)
	// Update changes the status of a job and returns the stored record.
	Update(ctx context.Context, id string, u Update) (*Job, error)
	// List returns the most recent jobs first, at most limit (all when limit <= 0).
	List(ctx context.Context, limit int) ([]*Job, error)
	// DeleteBefore removes terminal jobs last updated before cutoff and
	// returns their IDs.
	DeleteBefore(ctx context.Context, cutoff time.Time) ([]string, error)
	// FailStale marks in_progress or pending jobs last updated before cutoff
	// as failed with reason, returning how many were changed.
	FailStale(ctx context.Context, cutoff time.Time, reason string) (int, error)
	// Ping checks the connection.
	Ping(ctx context.Context) error
	// Close releases the connection.
	Close() error
}
