package ui

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/gearguard/migrator"
	"github.com/gearguard/migrator/internal/inspect"
)

// Report writes a run report. err is the error Apply returned, if any.
func Report(w io.Writer, r *migrator.RunReport, err error) {
	title := "migrate"
	if r.DryRun {
		title = "migrate (dry run)"
	}
	fmt.Fprintf(w, "%s %s\n", RenderHeader(title), RenderMuted("run "+r.RunID))
	fmt.Fprintln(w, RenderSeparator())

	for _, id := range r.Skipped {
		fmt.Fprintf(w, "%s %s %s\n", RenderMuted(IconSkip), id, RenderMuted("already applied"))
	}
	for _, id := range r.Applied {
		if r.DryRun {
			fmt.Fprintf(w, "%s %s %s\n", RenderAccent(IconPending), IDStyle.Render(id), RenderMuted("would apply"))
			continue
		}
		fmt.Fprintf(w, "%s %s %s\n", RenderPass(IconPass), IDStyle.Render(id), RenderMuted("applied"))
	}
	if r.Failed != "" {
		fmt.Fprintf(w, "%s %s %s\n", RenderFail(IconFail), IDStyle.Render(r.Failed), RenderFail("failed, rolled back"))
	}
	for _, id := range r.Unknown {
		fmt.Fprintf(w, "%s %s %s\n", RenderWarn(IconWarn), id, RenderWarn("in ledger but not defined"))
	}

	fmt.Fprintln(w, RenderSeparator())
	elapsed := r.Duration().Round(time.Millisecond)
	if err != nil {
		fmt.Fprintf(w, "%s %s\n", RenderFail(IconFail), err)
		return
	}
	switch {
	case r.DryRun:
		fmt.Fprintf(w, "%s %d pending, %d applied\n", RenderAccent(IconPending), len(r.Applied), len(r.Skipped))
	case len(r.Applied) == 0:
		fmt.Fprintf(w, "%s up to date (%d applied) %s\n", RenderPass(IconPass), len(r.Skipped), RenderMuted(elapsed.String()))
	default:
		fmt.Fprintf(w, "%s applied %d, skipped %d %s\n", RenderPass(IconPass), len(r.Applied), len(r.Skipped), RenderMuted(elapsed.String()))
	}
}

// Plan writes the status of every migration in a plan.
func Plan(w io.Writer, p *migrator.Plan) {
	fmt.Fprintln(w, RenderHeader("status"))
	fmt.Fprintln(w, RenderSeparator())

	applied := make(map[string]migrator.MigrationRecord, len(p.Ledger))
	for _, rec := range p.Ledger {
		applied[rec.MigrationID] = rec
	}
	for _, mig := range p.Applied {
		at := applied[mig.ID].AppliedAt.Local().Format(time.DateTime)
		fmt.Fprintf(w, "%s %s %s %s\n", RenderPass(IconPass), IDStyle.Render(mig.ID), mig.Name, RenderMuted(at))
	}
	for _, mig := range p.Pending {
		fmt.Fprintf(w, "%s %s %s %s\n", RenderAccent(IconPending), IDStyle.Render(mig.ID), mig.Name, RenderMuted("pending"))
	}
	for _, id := range p.Unknown {
		fmt.Fprintf(w, "%s %s %s\n", RenderWarn(IconWarn), id, RenderWarn("in ledger but not defined"))
	}
	fmt.Fprintln(w, RenderSeparator())
	fmt.Fprintf(w, "%d applied, %d pending\n", len(p.Applied), len(p.Pending))
}

// Tables writes a table listing with row counts. Names in missing are
// reported as absent.
func Tables(w io.Writer, tables []inspect.Table, missing []string) {
	fmt.Fprintln(w, RenderHeader("tables"))
	fmt.Fprintln(w, RenderSeparator())
	for _, t := range tables {
		fmt.Fprintf(w, "%s %s %s\n",
			RenderPass(IconPass), countPadding.Render(strconv.FormatInt(t.Rows, 10)), t.Name)
	}
	for _, name := range missing {
		fmt.Fprintf(w, "%s %s %s\n", RenderFail(IconFail), countPadding.Render("-"), name)
	}
	fmt.Fprintln(w, RenderSeparator())
	if len(missing) > 0 {
		fmt.Fprintf(w, "%s %d tables, %d missing\n", RenderFail(IconFail), len(tables), len(missing))
		return
	}
	fmt.Fprintf(w, "%s %d tables\n", RenderPass(IconPass), len(tables))
}
