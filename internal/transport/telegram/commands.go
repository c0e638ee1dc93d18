package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"surveysched/internal/activation"
	"surveysched/internal/task/scheduler"
)

// TriggerInfo exposes the periodic trigger state for /status.
type TriggerInfo interface {
	Snapshot() scheduler.Snapshot
}

// ActivationCommands builds the owner-only survey commands.
func ActivationCommands(svc *activation.Service, trig TriggerInfo) []Command {
	h := &handlers{svc: svc, trig: trig}
	return []Command{
		{
			Name:        "status",
			Description: "trigger and last pass",
			OwnerOnly:   true,
			Handle:      h.status,
		},
		{
			Name:        "schedule",
			Aliases:     []string{"sched"},
			Description: "show one schedule",
			Usage:       "/schedule <id>",
			OwnerOnly:   true,
			Handle:      h.schedule,
		},
		{
			Name:        "set",
			Description: "set a recurring window",
			Usage:       "/set <id> <HH:MM> <HH:MM> [start-date] [end-date]",
			OwnerOnly:   true,
			Handle:      h.set,
		},
		{
			Name:        "reconcile",
			Description: "run a pass now",
			OwnerOnly:   true,
			Timeout:     2 * time.Minute,
			Handle:      h.reconcile,
		},
	}
}

type handlers struct {
	svc  *activation.Service
	trig TriggerInfo
}

func (h *handlers) status(ctx context.Context, req *Request) (string, error) {
	rec := h.svc.Reconciler()
	var b strings.Builder
	fmt.Fprintf(&b, "Timezone: %s\n", rec.Location())
	if h.trig != nil {
		snap := h.trig.Snapshot()
		if !snap.Enabled {
			b.WriteString("Trigger: disabled\n")
		}
		for _, j := range snap.Jobs {
			fmt.Fprintf(&b, "Job %s (%s): runs=%d failures=%d", j.Name, j.Spec, j.Runs, j.Failures)
			if !j.Next.IsZero() {
				fmt.Fprintf(&b, " next=%s", j.Next.In(rec.Location()).Format(time.DateTime))
			}
			if j.LastError != "" {
				fmt.Fprintf(&b, " last_error=%q", j.LastError)
			}
			b.WriteByte('\n')
		}
	}
	last, ok := rec.Last()
	if !ok {
		b.WriteString("No pass yet")
		return b.String(), nil
	}
	b.WriteString(formatSummary(last, rec.Location()))
	return b.String(), nil
}

func (h *handlers) schedule(ctx context.Context, req *Request) (string, error) {
	if len(req.Args) != 1 {
		return "Usage: /schedule <id>", nil
	}
	sc, res, err := h.svc.Inspect(ctx, req.Args[0])
	if err != nil {
		return replyErr(err)
	}
	return formatSchedule(sc, res, h.svc.Reconciler().Location()), nil
}

func (h *handlers) set(ctx context.Context, req *Request) (string, error) {
	if len(req.Args) < 3 || len(req.Args) > 5 {
		return "Usage: /set <id> <HH:MM> <HH:MM> [start-date] [end-date]", nil
	}
	in := activation.Input{DailyStartTime: req.Args[1], DailyEndTime: req.Args[2]}
	if len(req.Args) > 3 {
		in.StartDate = req.Args[3]
	}
	if len(req.Args) > 4 {
		in.EndDate = req.Args[4]
	}
	sc, err := h.svc.SetSchedule(ctx, req.Args[0], in)
	if err != nil {
		return replyErr(err)
	}
	req.Logger.Info("schedule set from chat")
	res := h.svc.Reconciler().Evaluator().Evaluate(sc, h.svc.Reconciler().Now())
	return formatSchedule(sc, res, h.svc.Reconciler().Location()), nil
}

func (h *handlers) reconcile(ctx context.Context, req *Request) (string, error) {
	sum, err := h.svc.Reconcile(ctx)
	if err != nil {
		return "", err
	}
	return formatSummary(sum, h.svc.Reconciler().Location()), nil
}

// replyErr turns caller mistakes into a reply and passes the rest through.
func replyErr(err error) (string, error) {
	switch {
	case errors.Is(err, activation.ErrValidation):
		return "Invalid: " + err.Error(), nil
	case errors.Is(err, activation.ErrNotFound):
		return "Not found", nil
	}
	return "", err
}

func formatSummary(s activation.Summary, loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Pass %s at %s: evaluated=%d updated=%d failures=%d took=%s",
		s.PassID, s.At.In(loc).Format(time.DateTime), s.Evaluated, s.UpdatedCount, len(s.Failures), s.Took.Round(time.Millisecond))
	for _, u := range s.Updates {
		fmt.Fprintf(&b, "\n%s: %s -> %s", u.ID, activeWord(u.OldStatus), activeWord(u.NewStatus))
	}
	for _, f := range s.Failures {
		fmt.Fprintf(&b, "\n%s: %s failed: %s", f.ID, f.Op, f.Error)
	}
	return b.String()
}

func formatSchedule(sc activation.Schedule, res activation.Result, loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Survey %s\n", sc.ID)
	fmt.Fprintf(&b, "Recurring: %t\n", sc.IsRecurring)
	fmt.Fprintf(&b, "Stored: %s\n", activeWord(sc.IsActive))
	if sc.DailyStartTime != "" || sc.DailyEndTime != "" {
		fmt.Fprintf(&b, "Daily: %s-%s\n", sc.DailyStartTime, sc.DailyEndTime)
	}
	if sc.StartDate != nil {
		fmt.Fprintf(&b, "From: %s\n", sc.StartDate.In(loc).Format(time.DateTime))
	}
	if sc.EndDate != nil {
		fmt.Fprintf(&b, "Until: %s\n", sc.EndDate.In(loc).Format(time.DateTime))
	}
	fmt.Fprintf(&b, "Now: %s (%s)", activeWord(res.Active), res.Message)
	return b.String()
}

func activeWord(v bool) string {
	if v {
		return "active"
	}
	return "inactive"
}
