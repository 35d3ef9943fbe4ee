package printer

import (
	"encoding/json"
	"io"
	"time"

	"github.com/flowforge/flowforge/internal/model"
)

// JSONPrinter prints workflow job information in JSON format.
type JSONPrinter struct {
	writer io.Writer
}

// NewJSONPrinter creates a new JSON printer.
func NewJSONPrinter(w io.Writer) *JSONPrinter {
	return &JSONPrinter{writer: w}
}

// listItem represents a job in the list output (subset of fields).
type listItem struct {
	ID        string    `json:"id"`
	Task      string    `json:"task"`
	Target    string    `json:"target"`
	Phase     string    `json:"phase"`
	Degraded  bool      `json:"degraded"`
	CreatedAt time.Time `json:"created_at"`
}

// statusOutput represents the full job status output.
type statusOutput struct {
	ID            string     `json:"id"`
	Task          string     `json:"task"`
	TargetName    string     `json:"target_name,omitempty"`
	TargetURL     string     `json:"target_url,omitempty"`
	Phase         string     `json:"phase"`
	Reason        string     `json:"reason,omitempty"`
	Error         string     `json:"error,omitempty"`
	Degraded      bool       `json:"degraded"`
	PlannedSteps  int        `json:"planned_steps"`
	ExecutedSteps int        `json:"executed_steps"`
	AuthMethod    string     `json:"auth_method,omitempty"`
	GuideRef      string     `json:"guide_ref,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at"`
}

// messageOutput represents a simple message output.
type messageOutput struct {
	Message string `json:"message"`
}

// PrintJobList prints jobs in JSON format with a subset of fields.
func (j *JSONPrinter) PrintJobList(jobs []model.Job) error {
	items := make([]listItem, len(jobs))
	for i, job := range jobs {
		items[i] = listItem{
			ID:        job.ID,
			Task:      job.Task,
			Target:    targetLabel(job.Target),
			Phase:     string(job.Phase),
			Degraded:  job.Degraded,
			CreatedAt: job.CreatedAt.UTC(),
		}
	}

	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(items)
}

// PrintJobStatus prints detailed job status in JSON format.
func (j *JSONPrinter) PrintJobStatus(job model.Job) error {
	output := statusOutput{
		ID:            job.ID,
		Task:          job.Task,
		TargetName:    job.Target.Name,
		TargetURL:     job.Target.URL,
		Phase:         string(job.Phase),
		Reason:        string(job.Reason),
		Error:         job.Error,
		Degraded:      job.Degraded,
		ExecutedSteps: len(job.Steps),
		GuideRef:      job.GuideRef,
		CreatedAt:     job.CreatedAt.UTC(),
		CompletedAt:   nil,
	}

	if job.Plan != nil {
		output.PlannedSteps = len(job.Plan.Steps)
	}
	if job.Auth != nil {
		output.AuthMethod = string(job.Auth.Method)
	}
	if job.CompletedAt != nil {
		utcTime := job.CompletedAt.UTC()
		output.CompletedAt = &utcTime
	}

	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(output)
}

// PrintMessage prints a simple message in JSON format.
func (j *JSONPrinter) PrintMessage(msg string) error {
	output := messageOutput{Message: msg}
	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(output)
}
