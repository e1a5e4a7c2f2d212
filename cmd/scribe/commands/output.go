package commands

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/teranos/scribe/identity"
	"github.com/teranos/scribe/pulse/async"
)

// printJSON writes v indented to stdout.
func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func formatPercent(p float64) string {
	return fmt.Sprintf("%3.0f%%", p)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

// phaseLabel colors a phase the way the run summary shows it.
func phaseLabel(p async.Phase) string {
	switch p {
	case async.PhaseCompleted:
		return pterm.FgGreen.Sprint(p)
	case async.PhaseFailed, async.PhaseFailedPermanently:
		return pterm.FgRed.Sprint(p)
	case async.PhaseCancelled:
		return pterm.FgYellow.Sprint(p)
	case async.PhaseQueued:
		return pterm.FgGray.Sprint(p)
	default:
		return pterm.FgCyan.Sprint(p)
	}
}

// metricsLine summarises queue load and host memory after a processing pass.
func metricsLine(m async.SystemMetrics) string {
	line := fmt.Sprintf("%d running, %d queued", m.JobsActive, m.JobsQueued)
	if m.MemoryTotalGB > 0 {
		line += fmt.Sprintf(", memory %.1f/%.1fGB (%.0f%%)", m.MemoryUsedGB, m.MemoryTotalGB, m.MemoryPercent)
	}
	return line
}

// jobTable renders job states as a table with a header row.
func jobTable(jobs []async.JobState) pterm.TableData {
	data := pterm.TableData{{"JOB", "FILE", "PHASE", "PROGRESS", "ATTEMPTS", "CONTENT", "DETAIL"}}
	for _, j := range jobs {
		detail := j.Error
		if j.Phase == async.PhaseCompleted {
			detail = j.OutputFilePath
		}
		data = append(data, []string{
			shortJobID(j.ID),
			j.FileName,
			phaseLabel(j.Phase),
			formatPercent(j.OverallProgress),
			fmt.Sprintf("%d", j.AttemptCount),
			identity.ShortID(j.ContentHash),
			truncate(detail, 60),
		})
	}
	return data
}

// recordTable renders content records as a table with a header row.
func recordTable(records []identity.Record) pterm.TableData {
	data := pterm.TableData{{"ID", "FILE", "STATUS", "VERIFIED", "OUTPUT", "UPDATED"}}
	for _, r := range records {
		verified := "no"
		if r.Verified {
			verified = "yes"
		}
		data = append(data, []string{
			identity.ShortID(r.ContentHash),
			filepath.Base(r.FilePath),
			string(r.Status),
			verified,
			r.OutputPath,
			formatTime(r.UpdatedAt),
		})
	}
	return data
}

// shortJobID keeps the first uuid group, enough to tell jobs apart on screen.
func shortJobID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}

// eventLine is the one-line form of an event, used when a live table is not
// wanted (watch mode, non-terminal output).
func eventLine(ev async.Event) string {
	switch ev.Type {
	case async.EventPhase:
		if ev.PreviousPhase == "" {
			return fmt.Sprintf("%s %s queued", shortJobID(ev.JobID), ev.FileName)
		}
		return fmt.Sprintf("%s %s %s -> %s", shortJobID(ev.JobID), ev.FileName, ev.PreviousPhase, phaseLabel(ev.Phase))
	case async.EventOutcome:
		if ev.Error != "" {
			return fmt.Sprintf("%s %s %s: %s", shortJobID(ev.JobID), ev.FileName, phaseLabel(ev.Phase), ev.Error)
		}
		return fmt.Sprintf("%s %s %s", shortJobID(ev.JobID), ev.FileName, phaseLabel(ev.Phase))
	case async.EventRemoved:
		return fmt.Sprintf("%s %s removed", shortJobID(ev.JobID), ev.FileName)
	default:
		return fmt.Sprintf("%s %s %s %s", shortJobID(ev.JobID), ev.FileName, ev.Stage, formatPercent(ev.StageProgress))
	}
}
