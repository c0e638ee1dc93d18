package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"surveysched/internal/eventbus"
	"surveysched/pkg/logx"
)

// EventJobFailed is published on the bus when a job returns an error.
const EventJobFailed = "scheduler.job_failed"

// JobFailure is the payload of EventJobFailed.
type JobFailure struct {
	Name  string
	At    time.Time
	Error string
}

// Config controls the trigger service.
type Config struct {
	Enabled  bool
	Timezone string // IANA name, e.g. "Europe/Amsterdam"; empty means UTC
}

// Options tune one job.
type Options struct {
	// Timeout bounds each run; 0 means none.
	Timeout time.Duration
	// RunOnStart runs the job once as soon as the service starts.
	RunOnStart bool
}

type jobDef struct {
	name    string
	spec    ParsedSpec
	opt     Options
	job     func(ctx context.Context) error
	wrapped cron.Job
	entryID cron.EntryID
	stats   *runStats
}

type runStats struct {
	mu        sync.Mutex
	running   bool
	runs      uint64
	failures  uint64
	lastStart time.Time
	lastTook  time.Duration
	lastErr   string
}

func (r *runStats) begin(at time.Time) {
	r.mu.Lock()
	r.running = true
	r.lastStart = at
	r.mu.Unlock()
}

func (r *runStats) end(took time.Duration, err error) {
	r.mu.Lock()
	r.running = false
	r.runs++
	r.lastTook = took
	r.lastErr = ""
	if err != nil {
		r.failures++
		r.lastErr = err.Error()
	}
	r.mu.Unlock()
}

type Service struct {
	mu      sync.Mutex
	log     logx.Logger
	cfg     Config
	loc     *time.Location
	bus     eventbus.Bus
	c       *cron.Cron
	defs    []*jobDef
	started bool

	// ctxMu guards the context handed to job runs.
	ctxMu     sync.RWMutex
	runCtx    context.Context
	runCancel context.CancelFunc

	// eager tracks RunOnStart runs, which cron.Stop does not wait for.
	eager sync.WaitGroup
}

type JobInfo struct {
	Name      string        `json:"name"`
	Spec      string        `json:"spec"`
	Kind      string        `json:"kind"`
	Timeout   time.Duration `json:"timeout"`
	Next      time.Time     `json:"next,omitempty"`
	Prev      time.Time     `json:"prev,omitempty"`
	Running   bool          `json:"running"`
	Runs      uint64        `json:"runs"`
	Failures  uint64        `json:"failures"`
	LastStart time.Time     `json:"lastStart,omitempty"`
	LastTook  time.Duration `json:"lastTook"`
	LastError string        `json:"lastError,omitempty"`
}

type Snapshot struct {
	Enabled  bool      `json:"enabled"`
	Running  bool      `json:"running"`
	Timezone string    `json:"timezone"`
	Jobs     []JobInfo `json:"jobs"`
}
