package agent

import (
	"fmt"
	"sync"
	"time"
)

// State is an agent's mutable runtime state. Enabled, schedule, and the last
// run fields persist across restarts via the storage layer; the registry is
// the in-process authority once loaded.
type State struct {
	Enabled         bool
	Schedule        Schedule
	LastRunAt       time.Time // zero until the startup baseline is set
	LastSuccess     *bool
	LastExecutionMS int64
}

// Status is a read-only snapshot exposed to the control surface.
type Status struct {
	AgentID         string     `json:"agent_id"`
	DisplayName     string     `json:"display_name"`
	Capability      Capability `json:"capability"`
	Enabled         bool       `json:"enabled"`
	Schedule        Schedule   `json:"schedule"`
	LastRunAt       *time.Time `json:"last_run_at,omitempty"`
	LastSuccess     *bool      `json:"last_success,omitempty"`
	LastExecutionMS *int64     `json:"last_execution_ms,omitempty"`
}

type entry struct {
	def   Definition
	task  Task
	state State
}

// Registry holds the fixed agent roster and its runtime state. All methods
// are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]*entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds an agent with its task body, enabled by default.
func (r *Registry) Register(def Definition, task Task) error {
	if err := ValidateID(def.ID); err != nil {
		return err
	}
	if err := def.Schedule.Validate(); err != nil {
		return fmt.Errorf("agent %s: %w", def.ID, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[def.ID]; exists {
		return fmt.Errorf("agent %s already registered", def.ID)
	}
	r.entries[def.ID] = &entry{
		def:   def,
		task:  task,
		state: State{Enabled: true, Schedule: def.Schedule},
	}
	r.order = append(r.order, def.ID)
	return nil
}

// Get returns an agent's definition.
func (r *Registry) Get(id string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return Definition{}, false
	}
	return e.def, true
}

// Task returns an agent's task body.
func (r *Registry) Task(id string) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.task, true
}

// IDs returns all agent IDs in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// StateOf returns a copy of an agent's runtime state.
func (r *Registry) StateOf(id string) (State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return State{}, false
	}
	return e.state, true
}

// SetEnabled flips the enabled flag. Returns (changed, known): setting the
// flag to its current value is a no-op success.
func (r *Registry) SetEnabled(id string, enabled bool) (changed, known bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return false, false
	}
	if e.state.Enabled == enabled {
		return false, true
	}
	e.state.Enabled = enabled
	return true, true
}

// SetSchedule replaces an agent's schedule.
func (r *Registry) SetSchedule(id string, s Schedule) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return false
	}
	e.state.Schedule = s
	return true
}

// SetBaseline sets LastRunAt when unset, so interval agents wait a full
// period after startup instead of all firing on the first tick.
func (r *Registry) SetBaseline(id string, t time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return false
	}
	if e.state.LastRunAt.IsZero() {
		e.state.LastRunAt = t
	}
	return true
}

// Restore loads persisted runtime state for an agent at startup.
func (r *Registry) Restore(id string, st State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return false
	}
	e.state = st
	return true
}

// RecordRun updates the last-run fields after an execution completes.
func (r *Registry) RecordRun(id string, at time.Time, success bool, execMS int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return
	}
	e.state.LastRunAt = at
	s := success
	e.state.LastSuccess = &s
	e.state.LastExecutionMS = execMS
}

// Status returns a snapshot for one agent.
func (r *Registry) Status(id string) (Status, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return Status{}, false
	}
	return statusOf(e), true
}

// StatusAll returns snapshots for every agent in registration order.
func (r *Registry) StatusAll() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Status, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, statusOf(r.entries[id]))
	}
	return out
}

func statusOf(e *entry) Status {
	st := Status{
		AgentID:     e.def.ID,
		DisplayName: e.def.DisplayName,
		Capability:  e.def.Capability,
		Enabled:     e.state.Enabled,
		Schedule:    e.state.Schedule,
	}
	if !e.state.LastRunAt.IsZero() {
		t := e.state.LastRunAt
		st.LastRunAt = &t
	}
	if e.state.LastSuccess != nil {
		s := *e.state.LastSuccess
		st.LastSuccess = &s
		ms := e.state.LastExecutionMS
		st.LastExecutionMS = &ms
	}
	return st
}
