package pubqueue

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	logx "crosspub/pkg/logx"
)

// RecurringDef describes a content-calendar entry: each schedule fire
// enqueues a fresh item (new id, scheduledTime = fire time) built from the
// template.
type RecurringDef struct {
	Name string

	// Schedule is a cron expression in the engine timezone. Accepted forms:
	// 5-field ("0 9 * * 1"), optional seconds field, descriptors
	// ("@hourly", "@every 2h30m").
	Schedule string

	Template EnqueueRequest
}

// RecurringInfo is the read-only view of a registered definition.
type RecurringInfo struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next"`
}

type recurringDef struct {
	id       string
	name     string
	spec     string
	template EnqueueRequest
	sched    cron.Schedule
	entryID  cron.EntryID
}

// recurring manages the cron runner behind AddRecurring/RemoveRecurring.
// Definitions survive engine restarts; the runner starts and stops with the
// engine.
type recurring struct {
	e      *Engine
	parser cron.Parser

	mu   sync.Mutex
	c    *cron.Cron
	defs map[string]*recurringDef
}

// scheduleParser is the cron dialect shared by every engine instance.
var scheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateSchedule checks a cron expression against the dialect AddRecurring
// accepts, without constructing an engine.
func ValidateSchedule(spec string) error {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return errors.New("pubqueue: empty schedule")
	}
	_, err := scheduleParser.Parse(spec)
	return err
}

func newRecurring(e *Engine) *recurring {
	return &recurring{
		e:      e,
		parser: scheduleParser,
		defs:   make(map[string]*recurringDef),
	}
}

// AddRecurring validates and registers a recurring publication. The returned
// id identifies the definition for RemoveRecurring.
func (e *Engine) AddRecurring(def RecurringDef) (string, error) {
	return e.recur.add(def)
}

// RemoveRecurring unregisters a definition. Already-enqueued items are not
// affected.
func (e *Engine) RemoveRecurring(id string) bool {
	return e.recur.remove(id)
}

// ListRecurring returns the registered definitions with their next fire time.
func (e *Engine) ListRecurring() []RecurringInfo {
	return e.recur.list()
}

func (r *recurring) add(def RecurringDef) (string, error) {
	name := strings.TrimSpace(def.Name)
	if name == "" {
		return "", errors.New("pubqueue: recurring name required")
	}
	spec := strings.TrimSpace(def.Schedule)
	if spec == "" {
		return "", errors.New("pubqueue: recurring schedule required")
	}
	sched, err := r.parser.Parse(spec)
	if err != nil {
		return "", fmt.Errorf("pubqueue: invalid schedule %q: %w", spec, err)
	}
	if len(def.Template.Platforms) == 0 {
		return "", ErrNoPlatforms
	}
	if strings.TrimSpace(def.Template.Body) == "" {
		return "", ErrEmptyContent
	}
	if p := def.Template.Priority; p != "" {
		if _, ok := ParsePriority(string(p)); !ok {
			return "", ErrUnknownPriority
		}
	}

	d := &recurringDef{
		id:       uuid.NewString(),
		name:     name,
		spec:     spec,
		template: def.Template,
	}
	d.sched = sched

	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[d.id] = d
	if r.c != nil {
		r.registerLocked(d)
	}
	r.e.log.Debug("recurring registered",
		logx.String("name", name),
		logx.String("id", d.id),
		logx.String("spec", spec),
	)
	return d.id, nil
}

func (r *recurring) remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.defs[id]
	if !ok {
		return false
	}
	if r.c != nil && d.entryID != 0 {
		r.c.Remove(d.entryID)
	}
	delete(r.defs, id)
	r.e.log.Debug("recurring removed", logx.String("name", d.name), logx.String("id", id))
	return true
}

func (r *recurring) list() []RecurringInfo {
	now := r.e.now().In(r.e.loc)
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]RecurringInfo, 0, len(r.defs))
	for _, d := range r.defs {
		info := RecurringInfo{ID: d.id, Name: d.name, Schedule: d.spec}
		if r.c != nil && d.entryID != 0 {
			info.Next = r.c.Entry(d.entryID).Next
		} else if d.sched != nil {
			info.Next = d.sched.Next(now)
		}
		out = append(out, info)
	}
	return out
}

func (r *recurring) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.defs)
}

func (r *recurring) start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c != nil {
		return
	}
	r.c = cron.New(cron.WithParser(r.parser), cron.WithLocation(r.e.loc))
	for _, d := range r.defs {
		r.registerLocked(d)
	}
	r.c.Start()
}

func (r *recurring) stop() {
	r.mu.Lock()
	c := r.c
	r.c = nil
	for _, d := range r.defs {
		d.entryID = 0
	}
	r.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// registerLocked adds a definition to the running cron. Call with r.mu held.
func (r *recurring) registerLocked(d *recurringDef) {
	def := d
	d.entryID = r.c.Schedule(d.sched, cron.FuncJob(func() {
		req := def.template
		req.ScheduledTime = time.Time{} // fresh item, due now
		id, err := r.e.Enqueue(req)
		if err != nil {
			r.e.log.Warn("recurring enqueue failed",
				logx.String("name", def.name),
				logx.Err(err),
			)
			return
		}
		r.e.log.Debug("recurring fired",
			logx.String("name", def.name),
			logx.String("item", id),
		)
	}))
}
