package poller

import (
	"context"
	"sort"
	"sync"

	"foreman/internal/log"
	"foreman/internal/tracker"
)

// PipelineStatus is the derived CI state of a revision. Empty means unknown
// (first sight, or CI not yet derivable).
type PipelineStatus string

const (
	PipelineUnknown PipelineStatus = ""
	PipelinePending PipelineStatus = "pending"
	PipelineSuccess PipelineStatus = "success"
	PipelineFailure PipelineStatus = "failure"
)

// Revision is the poller's snapshot entry for one open revision.
type Revision struct {
	Number         int
	Title          string
	URL            string
	HeadDigest     string
	HeadRef        string
	Author         string
	Body           string
	IsDraft        bool
	PipelineStatus PipelineStatus
}

// RevisionCallbacks receive revision lifecycle notifications. Nil callbacks
// are skipped.
type RevisionCallbacks struct {
	OnDetected      func(number int)
	OnRemoved       func(number int)
	OnStatusChanged func(number int, old, new PipelineStatus)
}

// RevisionPoller tracks open revisions and their derived CI state.
type RevisionPoller struct {
	client    tracker.Client
	callbacks RevisionCallbacks

	mu        sync.RWMutex
	revisions map[int]Revision
}

// NewRevisionPoller creates a RevisionPoller with the given callbacks.
func NewRevisionPoller(client tracker.Client, callbacks RevisionCallbacks) *RevisionPoller {
	return &RevisionPoller{
		client:    client,
		callbacks: callbacks,
		revisions: make(map[int]Revision),
	}
}

// Get returns the snapshot entry for a revision.
func (p *RevisionPoller) Get(number int) (Revision, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	rev, ok := p.revisions[number]
	return rev, ok
}

// List returns all tracked revisions ordered by number.
func (p *RevisionPoller) List() []Revision {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Revision, 0, len(p.revisions))
	for _, rev := range p.revisions {
		out = append(out, rev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

type ciResult struct {
	number   int
	combined *tracker.CombinedStatus
	checks   []tracker.CheckRun
	err      error
}

// Poll fetches all open revisions, diffs them against the snapshot, and
// re-derives CI state where needed. A revision with an unchanged head digest
// and a stored success status skips its CI fetch entirely. CI fetch failures
// keep the previous state for that revision and retry next cycle.
func (p *RevisionPoller) Poll(ctx context.Context) error {
	prs, err := p.client.ListOpenPullRequests(ctx)
	if err != nil {
		log.ErrorErr(log.CatPoller, "Revision poll failed, skipping cycle", err)
		return err
	}

	p.mu.Lock()
	seen := make(map[int]bool, len(prs))
	var detected []int
	type pending struct {
		pr  tracker.PullRequest
		old Revision
	}
	var needCI []pending
	for _, pr := range prs {
		seen[pr.Number] = true
		old, exists := p.revisions[pr.Number]
		if !exists {
			p.revisions[pr.Number] = revisionFromPR(pr, PipelineUnknown)
			detected = append(detected, pr.Number)
			needCI = append(needCI, pending{pr: pr})
			continue
		}
		if pr.HeadSHA == old.HeadDigest && old.PipelineStatus == PipelineSuccess {
			// Nothing can have regressed; refresh metadata only.
			p.revisions[pr.Number] = revisionFromPR(pr, old.PipelineStatus)
			continue
		}
		needCI = append(needCI, pending{pr: pr, old: old})
	}

	var removed []int
	for number := range p.revisions {
		if !seen[number] {
			removed = append(removed, number)
			delete(p.revisions, number)
		}
	}
	sort.Ints(removed)
	p.mu.Unlock()

	for _, number := range detected {
		if p.callbacks.OnDetected != nil {
			p.callbacks.OnDetected(number)
		}
	}
	for _, number := range removed {
		if p.callbacks.OnRemoved != nil {
			p.callbacks.OnRemoved(number)
		}
	}

	// CI fetches run concurrently with join-all semantics.
	results := make([]ciResult, len(needCI))
	var wg sync.WaitGroup
	for i, item := range needCI {
		wg.Add(1)
		go func(i int, pr tracker.PullRequest) {
			defer wg.Done()
			res := ciResult{number: pr.Number}
			res.combined, res.err = p.client.GetCombinedStatus(ctx, pr.HeadSHA)
			if res.err == nil {
				res.checks, res.err = p.client.ListCheckRuns(ctx, pr.HeadSHA)
			}
			results[i] = res
		}(i, item.pr)
	}
	wg.Wait()

	type transition struct {
		number   int
		old, new PipelineStatus
	}
	var transitions []transition

	p.mu.Lock()
	for i, item := range needCI {
		res := results[i]
		current, ok := p.revisions[res.number]
		if !ok {
			continue
		}
		if res.err != nil {
			log.ErrorErr(log.CatPoller, "CI fetch failed, keeping previous state", res.err,
				"revision", res.number)
			// Keep the old head digest so the next cycle re-derives.
			current.HeadDigest = item.old.HeadDigest
			p.revisions[res.number] = current
			continue
		}
		derived := DerivePipelineStatus(res.combined, res.checks)
		updated := revisionFromPR(item.pr, derived)
		p.revisions[res.number] = updated
		if derived != item.old.PipelineStatus {
			transitions = append(transitions, transition{number: res.number, old: item.old.PipelineStatus, new: derived})
		}
	}
	p.mu.Unlock()

	for _, t := range transitions {
		log.Info(log.CatPoller, "Revision pipeline transition",
			"revision", t.number, "from", string(t.old), "to", string(t.new))
		if p.callbacks.OnStatusChanged != nil {
			p.callbacks.OnStatusChanged(t.number, t.old, t.new)
		}
	}

	return nil
}

func revisionFromPR(pr tracker.PullRequest, status PipelineStatus) Revision {
	return Revision{
		Number:         pr.Number,
		Title:          pr.Title,
		URL:            pr.URL,
		HeadDigest:     pr.HeadSHA,
		HeadRef:        pr.HeadRef,
		Author:         pr.Author,
		Body:           pr.Body,
		IsDraft:        pr.IsDraft,
		PipelineStatus: status,
	}
}

// DerivePipelineStatus folds the combined commit status and the check runs
// into a single pipeline state.
func DerivePipelineStatus(combined *tracker.CombinedStatus, checks []tracker.CheckRun) PipelineStatus {
	if combined != nil && combined.State == "failure" {
		return PipelineFailure
	}
	for _, check := range checks {
		switch check.Conclusion {
		case "failure", "cancelled", "timed_out":
			return PipelineFailure
		}
	}

	for _, check := range checks {
		if check.Status != "completed" {
			return PipelinePending
		}
	}
	statusCount := 0
	combinedState := ""
	if combined != nil {
		statusCount = combined.TotalCount
		combinedState = combined.State
	}
	if combinedState == "pending" && statusCount > 0 {
		return PipelinePending
	}
	if statusCount == 0 && len(checks) == 0 {
		// No CI configured yet; treat as still pending.
		return PipelinePending
	}

	allChecksGreen := true
	for _, check := range checks {
		if check.Conclusion != "success" {
			allChecksGreen = false
			break
		}
	}
	if (combinedState == "success" || statusCount == 0) && allChecksGreen {
		return PipelineSuccess
	}

	return PipelinePending
}
