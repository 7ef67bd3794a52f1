package tui

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/aretw0/max/pkg/domain"
	"github.com/aretw0/max/pkg/supervisor"
	"github.com/muesli/termenv"
)

var stateColors = map[domain.LifecycleState]string{
	domain.StateCreated:  "#94a3b8",
	domain.StateStarting: "#facc15",
	domain.StateRunning:  "#4ade80",
	domain.StateStopping: "#facc15",
	domain.StateStopped:  "#94a3b8",
	domain.StateFailed:   "#f87171",
}

var syncColors = map[domain.SyncStatus]string{
	domain.SyncRunning:   "#facc15",
	domain.SyncSucceeded: "#4ade80",
	domain.SyncFailed:    "#f87171",
	domain.SyncCancelled: "#94a3b8",
}

// WriteStatus prints one line per child of st, sorted by id. Colors are
// dropped when w is not a terminal.
func WriteStatus[ID ~string](w io.Writer, title string, st supervisor.Status[ID]) {
	out := termenv.NewOutput(w)
	summary := fmt.Sprintf("%d/%d running", st.Running, st.Total)
	if st.Failed > 0 {
		summary += fmt.Sprintf(", %d failed", st.Failed)
	}
	fmt.Fprintf(w, "%s  %s\n", out.String(title).Bold(), summary)

	for _, id := range slices.Sorted(maps.Keys(st.Children)) {
		h := st.Children[id]
		state := out.String(fmt.Sprintf("%-9s", h.State)).Foreground(out.Color(stateColors[h.State]))
		line := fmt.Sprintf("  %s %s", state, id)
		switch {
		case h.Error != "":
			line += "  " + out.String(h.Error).Faint().String()
		case h.Message != "":
			line += "  " + h.Message
		}
		fmt.Fprintln(w, line)
	}
}

// WriteSync prints a one-line summary of a sync run followed by its tasks.
func WriteSync(w io.Writer, rec *domain.SyncRecord) {
	out := termenv.NewOutput(w)
	status := out.String(string(rec.Status)).Foreground(out.Color(syncColors[rec.Status]))
	loaded := 0
	for _, t := range rec.Tasks {
		loaded += t.Loaded
	}
	elapsed := rec.UpdatedAt.Sub(rec.StartedAt)
	if rec.FinishedAt != nil {
		elapsed = rec.FinishedAt.Sub(rec.StartedAt)
	}
	fmt.Fprintf(w, "%s  %s  %d records  %s\n", rec.ID, status, loaded, elapsed.Round(time.Millisecond))
	for _, t := range rec.Tasks {
		mark := "…"
		if t.Done {
			mark = "✓"
		}
		fmt.Fprintf(w, "  %s %s (%s) %d\n", mark, t.Entity, t.Loader, t.Loaded)
	}
	if rec.Error != "" {
		fmt.Fprintf(w, "  %s\n", out.String(rec.Error).Foreground(out.Color(syncColors[domain.SyncFailed])))
	}
}

// SchemaMarkdown describes schema as markdown, one table per entity.
func SchemaMarkdown(schema domain.Schema) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", schema.Installation)
	if schema.Connector != "" {
		fmt.Fprintf(&b, "Connector: `%s`\n\n", schema.Connector)
	}
	for _, e := range schema.Entities {
		fmt.Fprintf(&b, "## %s\n\n", e.Name)
		if e.Description != "" {
			fmt.Fprintf(&b, "%s\n\n", e.Description)
		}
		if len(e.Fields) == 0 {
			continue
		}
		b.WriteString("| Field | Type | Ref |\n|---|---|---|\n")
		for _, f := range e.Fields {
			fmt.Fprintf(&b, "| %s | %s | %s |\n", f.Name, f.Type, f.Ref)
		}
		b.WriteString("\n")
	}
	return b.String()
}
