package scheduler

import (
	"context"
	"errors"
	"strings"

	"github.com/robfig/cron/v3"

	"surveysched/pkg/logx"
)

// Add registers job under name, replacing any job with the same name.
//
// spec accepts every form ParseSchedule does. Runs of one job never overlap:
// a tick that lands while it is running is skipped.
func (s *Service) Add(name, spec string, opt Options, job func(ctx context.Context) error) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	ps, err := ParseSchedule(spec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Replacing keeps the existing chain so an in-flight run still blocks
	// ticks of the new definition.
	if d := s.findLocked(name); d != nil {
		if s.c != nil && d.entryID != 0 {
			s.c.Remove(d.entryID)
			d.entryID = 0
		}
		d.spec, d.opt, d.job = ps, opt, job
		if s.c != nil {
			s.registerLocked(d)
		}
		return nil
	}

	d := &jobDef{name: name, spec: ps, opt: opt, job: job, stats: &runStats{}}
	cl := cronLogger{log: s.log}
	d.wrapped = cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)).
		Then(cron.FuncJob(func() { s.run(d) }))
	s.defs = append(s.defs, d)
	if s.c != nil {
		s.registerLocked(d)
	}
	return nil
}

// Remove unregisters name and reports whether it existed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removeLocked(strings.TrimSpace(name)) == nil {
		return false
	}
	s.log.Debug("schedule removed", logx.String("name", name))
	return true
}

func (s *Service) removeLocked(name string) *jobDef {
	for i, d := range s.defs {
		if d.name != name {
			continue
		}
		if s.c != nil && d.entryID != 0 {
			s.c.Remove(d.entryID)
		}
		d.entryID = 0
		s.defs = append(s.defs[:i], s.defs[i+1:]...)
		return d
	}
	return nil
}

func (s *Service) findLocked(name string) *jobDef {
	for _, d := range s.defs {
		if d.name == name {
			return d
		}
	}
	return nil
}
