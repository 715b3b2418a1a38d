package engine

import (
	"sort"
	"sync"
	"time"

	"foreman/internal/events"
	"foreman/internal/log"
	"foreman/internal/poller"
)

// statusApproved is the only frontmatter status that triggers planner work.
const statusApproved = "approved"

// Dispatch turns spec-poll batches into planner invocations. Approved paths
// seen while the planner is busy accumulate in a deferred set and are
// dispatched on a later cycle; a path whose status flips away from approved
// before dispatch is dropped.
type Dispatch struct {
	plannerRunning  func() bool
	dispatchPlanner func(paths []string)
	enqueue         func(events.Event)

	mu           sync.Mutex
	latestStatus map[string]string
	deferred     map[string]bool
}

// NewDispatch creates a Dispatch with its collaborators injected.
func NewDispatch(plannerRunning func() bool, dispatchPlanner func([]string), enqueue func(events.Event)) *Dispatch {
	return &Dispatch{
		plannerRunning:  plannerRunning,
		dispatchPlanner: dispatchPlanner,
		enqueue:         enqueue,
		latestStatus:    make(map[string]string),
		deferred:        make(map[string]bool),
	}
}

// HandleBatch processes one spec-poll result. Every change is recorded and
// surfaced as a specChanged event; approved paths join the deferred set; the
// deferred set is dispatched when the planner is idle.
func (d *Dispatch) HandleBatch(batch poller.SpecBatch) {
	d.mu.Lock()
	for _, change := range batch.Changes {
		d.latestStatus[change.Path] = change.Status
	}
	d.mu.Unlock()

	for _, change := range batch.Changes {
		d.enqueue(events.Event{
			Type:           events.SpecChanged,
			Timestamp:      time.Now(),
			SpecPath:       change.Path,
			SpecStatus:     change.Status,
			SpecChangeType: change.ChangeType,
		})
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, change := range batch.Changes {
		if change.Status == statusApproved {
			d.deferred[change.Path] = true
		}
	}
	if len(d.deferred) == 0 {
		return
	}

	var paths []string
	for path := range d.deferred {
		if d.latestStatus[path] == statusApproved {
			paths = append(paths, path)
		}
	}
	if len(paths) == 0 {
		d.deferred = make(map[string]bool)
		return
	}
	if d.plannerRunning() {
		// Leave the deferred set intact; a later cycle retries.
		log.Debug(log.CatEngine, "Planner busy, deferring approved specs", "count", len(paths))
		return
	}

	sort.Strings(paths)
	d.deferred = make(map[string]bool)
	d.dispatchPlanner(paths)
}

// HandlePlannerFailed re-queues the failed run's paths so the next cycle
// retries them.
func (d *Dispatch) HandlePlannerFailed(specPaths []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, path := range specPaths {
		d.deferred[path] = true
	}
	log.Info(log.CatEngine, "Planner failed, re-queuing specs", "count", len(specPaths))
}

// DeferredCount returns the size of the deferred set.
func (d *Dispatch) DeferredCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.deferred)
}
