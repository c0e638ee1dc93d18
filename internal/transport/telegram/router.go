package telegram

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"surveysched/pkg/logx"
)

const DefaultTimeout = 30 * time.Second

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrForbidden      = errors.New("command is owner-only")
)

// Request is one parsed command message.
type Request struct {
	ChatID   int64
	ThreadID int
	FromID   int64
	Command  string
	Args     []string
	Logger   logx.Logger
}

// HandlerFunc returns the reply text; an empty reply sends nothing.
type HandlerFunc func(ctx context.Context, req *Request) (string, error)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	OwnerOnly   bool
	Timeout     time.Duration // 0 uses the router default
	Handle      HandlerFunc
}

// Router maps "/name args" text to commands.
type Router struct {
	log logx.Logger

	mu      sync.RWMutex
	timeout time.Duration
	cmds    map[string]*Command
	alias   map[string]*Command
	owners  map[int64]struct{}
}

func NewRouter(log logx.Logger, owners []int64, timeout time.Duration) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{
		log:   log,
		cmds:  map[string]*Command{},
		alias: map[string]*Command{},
	}
	r.SetOwners(owners)
	r.SetTimeout(timeout)
	r.Register(Command{
		Name:        "help",
		Aliases:     []string{"start"},
		Description: "list commands",
		Handle: func(ctx context.Context, req *Request) (string, error) {
			return r.helpText(req.FromID), nil
		},
	})
	return r
}

// SetOwners replaces the owner list. Safe during hot reload.
func (r *Router) SetOwners(owners []int64) {
	m := make(map[int64]struct{}, len(owners))
	for _, id := range owners {
		m[id] = struct{}{}
	}
	r.mu.Lock()
	r.owners = m
	r.mu.Unlock()
}

// SetTimeout sets the default per-command timeout; d <= 0 means 30s.
func (r *Router) SetTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultTimeout
	}
	r.mu.Lock()
	r.timeout = d
	r.mu.Unlock()
}

func (r *Router) isOwner(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.owners[id]
	return ok
}

// Register adds or replaces commands by name.
func (r *Router) Register(cmds ...Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		cc := c
		cc.Name = name
		r.cmds[name] = &cc
		for _, a := range c.Aliases {
			if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
				r.alias[a] = &cc
			}
		}
	}
}

// Commands lists registered commands sorted by name.
func (r *Router) Commands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Command, 0, len(r.cmds))
	for _, c := range r.cmds {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Parse splits "/name@bot a b" into name and args. ok is false for text
// that is not a command.
func Parse(text string) (name string, args []string, ok bool) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil, false
	}
	name = strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return "", nil, false
	}
	return strings.ToLower(name), fields[1:], true
}

func (r *Router) lookup(name string) (*Command, time.Duration) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.cmds[name]
	if !ok {
		c = r.alias[name]
	}
	return c, r.timeout
}

// Dispatch runs the command named in req.Command.
func (r *Router) Dispatch(ctx context.Context, req *Request) (string, error) {
	c, timeout := r.lookup(req.Command)
	if c == nil {
		return "", fmt.Errorf("%w: /%s", ErrUnknownCommand, req.Command)
	}
	if c.OwnerOnly && !r.isOwner(req.FromID) {
		return "", ErrForbidden
	}
	if req.Logger.IsZero() {
		req.Logger = r.log.With(logx.String("cmd", c.Name), logx.Int64("from_id", req.FromID))
	}
	if c.Timeout > 0 {
		timeout = c.Timeout
	}
	h := Chain(c.Handle, MWPanicRecover(r.log), MWRequestLog(r.log), MWTimeout(timeout))
	return h(ctx, req)
}

func (r *Router) helpText(from int64) string {
	owner := r.isOwner(from)
	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, c := range r.Commands() {
		if c.OwnerOnly && !owner {
			continue
		}
		usage := c.Usage
		if usage == "" {
			usage = "/" + c.Name
		}
		fmt.Fprintf(&b, "%s - %s\n", usage, c.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}
