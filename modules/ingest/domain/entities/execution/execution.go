package execution

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	}
	return false
}

func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Step names the position of a layer inside the import pipeline. The
// pipeline is a fixed ordered list; each layer walks it independently.
type Step string

const (
	StepStart          Step = "start_import"
	StepImport         Step = "importer.import_resource"
	StepPublish        Step = "importer.publish_resource"
	StepCreateResource Step = "importer.create_resource"
)

var Pipeline = []Step{StepStart, StepImport, StepPublish, StepCreateResource}

// NextStep returns the step following s, or false when s is the last one
// or unknown.
func NextStep(s Step) (Step, bool) {
	for i, step := range Pipeline {
		if step == s && i+1 < len(Pipeline) {
			return Pipeline[i+1], true
		}
	}
	return "", false
}

// InputParams is the immutable request payload recorded at upload time.
type InputParams struct {
	Files                 map[string]string `json:"files"`
	OverrideExistingLayer bool              `json:"override_existing_layer"`
	SkipExistingLayer     bool              `json:"skip_existing_layer"`
	StoreSpatialFiles     bool              `json:"store_spatial_files"`
	Checksums             map[string]string `json:"checksums,omitempty"`
	Handler               string            `json:"handler,omitempty"`
}

func (p InputParams) BaseFile() string {
	return p.Files["base_file"]
}

type Execution struct {
	id           uuid.UUID
	owner        string
	status       Status
	step         Step
	inputParams  InputParams
	outputParams map[string]interface{}
	log          string
	createdAt    time.Time
	updatedAt    time.Time
}

type Option func(*Execution)

func WithID(id uuid.UUID) Option {
	return func(e *Execution) {
		e.id = id
	}
}

func WithStatus(status Status) Option {
	return func(e *Execution) {
		e.status = status
	}
}

func WithStep(step Step) Option {
	return func(e *Execution) {
		e.step = step
	}
}

func WithOutputParams(params map[string]interface{}) Option {
	return func(e *Execution) {
		e.outputParams = params
	}
}

func WithLog(log string) Option {
	return func(e *Execution) {
		e.log = log
	}
}

func WithCreatedAt(createdAt time.Time) Option {
	return func(e *Execution) {
		e.createdAt = createdAt
	}
}

func WithUpdatedAt(updatedAt time.Time) Option {
	return func(e *Execution) {
		e.updatedAt = updatedAt
	}
}

func New(owner string, params InputParams, opts ...Option) *Execution {
	e := &Execution{
		id:          uuid.New(),
		owner:       owner,
		status:      StatusPending,
		step:        StepStart,
		inputParams: params,
		createdAt:   time.Now(),
		updatedAt:   time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Execution) ID() uuid.UUID {
	return e.id
}

func (e *Execution) Owner() string {
	return e.owner
}

func (e *Execution) Status() Status {
	return e.status
}

func (e *Execution) Step() Step {
	return e.step
}

func (e *Execution) InputParams() InputParams {
	return e.inputParams
}

func (e *Execution) OutputParams() map[string]interface{} {
	return e.outputParams
}

func (e *Execution) Log() string {
	return e.log
}

func (e *Execution) CreatedAt() time.Time {
	return e.createdAt
}

func (e *Execution) UpdatedAt() time.Time {
	return e.updatedAt
}
