package printer

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/flowforge/flowforge/internal/model"
)

// TablePrinter prints workflow job information in a table format.
type TablePrinter struct {
	writer io.Writer
}

// NewTablePrinter creates a new table printer.
func NewTablePrinter(w io.Writer) *TablePrinter {
	return &TablePrinter{writer: w}
}

// PrintJobList prints jobs in a table format.
func (t *TablePrinter) PrintJobList(jobs []model.Job) error {
	if len(jobs) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	// Print header
	fmt.Fprintln(tw, "ID\tTASK\tTARGET\tPHASE\tCREATED")

	// Print rows
	for _, j := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", j.ID, truncate(j.Task, 40), targetLabel(j.Target), phaseLabel(j), TimeAgo(j.CreatedAt))
	}

	return nil
}

// PrintJobStatus prints detailed job status.
func (t *TablePrinter) PrintJobStatus(job model.Job) error {
	fmt.Fprintf(t.writer, "ID:         %s\n", job.ID)
	fmt.Fprintf(t.writer, "Task:       %s\n", job.Task)
	fmt.Fprintf(t.writer, "Target:     %s\n", targetLabel(job.Target))
	fmt.Fprintf(t.writer, "Phase:      %s\n", phaseLabel(job))

	if job.Reason != model.FailureReasonNone {
		fmt.Fprintf(t.writer, "Reason:     %s\n", job.Reason)
	}
	if job.Error != "" {
		fmt.Fprintf(t.writer, "Error:      %s\n", job.Error)
	}

	if job.Plan != nil {
		fmt.Fprintf(t.writer, "Steps:      %d planned, %d executed\n", len(job.Plan.Steps), len(job.Steps))
	}
	if job.Auth != nil {
		fmt.Fprintf(t.writer, "Auth:       %s\n", job.Auth.Method)
	}
	if job.GuideRef != "" {
		fmt.Fprintf(t.writer, "Guide:      %s\n", job.GuideRef)
	}

	fmt.Fprintf(t.writer, "Created:    %s\n", FormatTimestamp(job.CreatedAt))
	if job.CompletedAt != nil {
		fmt.Fprintf(t.writer, "Completed:  %s\n", FormatTimestamp(*job.CompletedAt))
	}

	return nil
}

// PrintMessage prints a simple message.
func (t *TablePrinter) PrintMessage(msg string) error {
	_, err := fmt.Fprintln(t.writer, msg)
	return err
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func targetLabel(target model.Target) string {
	switch {
	case target.Name != "":
		return target.Name
	case target.URL != "":
		return target.URL
	default:
		return "-"
	}
}

func phaseLabel(job model.Job) string {
	if job.Degraded && job.Phase == model.JobPhaseCompleted {
		return fmt.Sprintf("%s (degraded)", job.Phase)
	}
	return string(job.Phase)
}
