package printer

import "github.com/flowforge/flowforge/internal/model"

// Printer knows how to print workflow job information in different formats.
type Printer interface {
	PrintJobList(jobs []model.Job) error
	PrintJobStatus(job model.Job) error
	PrintMessage(msg string) error
}
