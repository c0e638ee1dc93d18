package scheduler

import "time"

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	loc := s.loc
	if loc == nil {
		loc = s.loadLocationLocked()
	}
	out := Snapshot{
		Enabled:  s.cfg.Enabled,
		Running:  s.c != nil,
		Timezone: loc.String(),
		Jobs:     make([]JobInfo, 0, len(s.defs)),
	}
	for _, d := range s.defs {
		it := JobInfo{
			Name:    d.name,
			Spec:    d.spec.String(),
			Kind:    d.spec.Kind.String(),
			Timeout: d.opt.Timeout,
		}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			it.Next = e.Next.In(loc)
			if !e.Prev.IsZero() {
				it.Prev = e.Prev.In(loc)
			}
		}
		d.stats.mu.Lock()
		it.Running = d.stats.running
		it.Runs = d.stats.runs
		it.Failures = d.stats.failures
		it.LastStart = d.stats.lastStart
		it.LastTook = d.stats.lastTook
		it.LastError = d.stats.lastErr
		d.stats.mu.Unlock()
		out.Jobs = append(out.Jobs, it)
	}
	return out
}

// Next returns the next trigger time of name, or zero if it is not
// scheduled.
func (s *Service) Next(name string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.findLocked(name)
	if d == nil || s.c == nil || d.entryID == 0 {
		return time.Time{}
	}
	return s.c.Entry(d.entryID).Next
}
