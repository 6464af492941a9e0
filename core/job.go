// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package core

import (
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of a SearchJob.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether no further updates may change a job in this state.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobPending, JobProcessing, JobCompleted, JobFailed, JobCancelled:
		return true
	}
	return false
}

// SearchRequest carries the parameters of one answer run.
type SearchRequest struct {
	Query          string
	TopK           int
	SearchMode     SearchMode
	ReasoningMode  ReasoningMode
	PriorityOrder  []KnowledgeSource
	History        []ConversationTurn
	ConversationID string
}

// SearchJob is the durable record of a long-running answer run.
type SearchJob struct {
	ID           string
	Request      SearchRequest
	Status       JobStatus
	Progress     int // 0-100
	CurrentStep  string
	ErrorMessage string
	Result       *AnswerResult
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// JobUpdate describes a change to a job. Zero fields leave the job untouched.
type JobUpdate struct {
	Status       JobStatus
	Progress     int
	CurrentStep  string
	ErrorMessage string
	Result       *AnswerResult
}

// transitions lists the allowed status changes. Staying in a state is always allowed.
var transitions = map[JobStatus][]JobStatus{
	JobPending:    {JobProcessing, JobCancelled},
	JobProcessing: {JobCompleted, JobFailed, JobCancelled},
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to JobStatus) bool {
	if from == to {
		return !from.IsTerminal()
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ApplyJobUpdate applies u to job in place.
//
// Updates to a job in a terminal state are ignored and report changed=false.
// Progress never decreases and stays below 100 until the job completes;
// a completed job always reports 100.
func ApplyJobUpdate(job *SearchJob, u JobUpdate, now time.Time) (bool, error) {
	if job.Status.IsTerminal() {
		return false, nil
	}

	target := job.Status
	if u.Status != "" {
		if !u.Status.Valid() {
			return false, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, u.Status)
		}
		target = u.Status
	}
	if !CanTransition(job.Status, target) {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, target)
	}

	job.Status = target
	if u.Progress > job.Progress {
		job.Progress = u.Progress
	}
	if target == JobCompleted {
		job.Progress = 100
	} else if job.Progress > 99 {
		job.Progress = 99
	}
	if u.CurrentStep != "" {
		job.CurrentStep = u.CurrentStep
	}
	if u.ErrorMessage != "" {
		job.ErrorMessage = u.ErrorMessage
	}
	if u.Result != nil {
		job.Result = u.Result
	}
	job.UpdatedAt = now
	return true, nil
}
