package run

import (
	"time"

	"github.com/gantryci/gantry/internal/gantry/domain"
	"github.com/gantryci/gantry/internal/gantry/rules"
)

// sweep re-evaluates every waiting job in topological order, then rolls
// the run state up. Called with the run lock held after each mutation, so
// a dependent can never observe a predecessor's transition late.
func (r *Run) sweep(now time.Time, ch *Changes) {
	for _, name := range r.graph.Order() {
		jr := r.pr.Jobs[name]
		if jr.State != domain.JobPending && jr.State != domain.JobBlocked {
			continue
		}

		if !r.predecessorsTerminal(name) {
			jr.State = domain.JobBlocked
			continue
		}

		r.activate(jr, now, ch)
	}

	r.rollup(now, ch)
}

// activate decides what happens to a job whose predecessors have all
// finished: eligible (possibly held for manual play or a delay), skipped
// by its own rules, or skipped by the failure cascade.
func (r *Run) activate(jr *domain.JobRun, now time.Time, ch *Changes) {
	def := r.pr.Pipeline.Job(jr.Name)

	when := def.EffectiveWhen()
	allowFailure := def.AllowFailure
	var startIn time.Duration

	if len(def.Rules) > 0 {
		rule, err := rules.FirstMatch(def.Rules, r.pr.VariablesFor(def))
		if err != nil {
			// Expressions are syntax-checked at ingestion; an evaluation
			// failure here means no rule applies.
			jr.FailureReason = err.Error()
			r.markSkipped(jr, domain.SkipByRules, now, ch)
			return
		}
		if rule == nil {
			r.markSkipped(jr, domain.SkipByRules, now, ch)
			return
		}
		when = rule.When
		startIn = rule.StartIn
		if rule.AllowFailure != nil {
			allowFailure = *rule.AllowFailure
		}
	}

	switch when {
	case domain.WhenNever:
		r.markSkipped(jr, domain.SkipByRules, now, ch)
		return
	case domain.WhenAlways:
		// Waits for predecessors to finish but ignores their outcome
	case domain.WhenOnFailure:
		if !r.upstreamFailed(jr.Name) {
			r.markSkipped(jr, domain.SkipByRules, now, ch)
			return
		}
	default:
		if !r.predecessorsSatisfied(jr.Name) {
			r.markSkipped(jr, domain.SkipByDependency, now, ch)
			return
		}
	}

	jr.State = domain.JobEligible
	jr.AllowFailure = allowFailure
	jr.QueuedAt = now

	switch when {
	case domain.WhenManual:
		jr.ManualHold = true
		ch.Manual = append(ch.Manual, jr.Name)
	case domain.WhenDelayed:
		until := now.Add(startIn)
		jr.DelayedUntil = &until
		ch.Delayed = append(ch.Delayed, DelayedJob{Name: jr.Name, Until: until})
	default:
		ch.Ready = append(ch.Ready, jr.Name)
	}
}

func (r *Run) markSkipped(jr *domain.JobRun, origin domain.SkipOrigin, now time.Time, ch *Changes) {
	jr.State = domain.JobSkipped
	jr.SkipOrigin = origin
	finishedAt := now
	jr.FinishedAt = &finishedAt
	ch.Skipped = append(ch.Skipped, jr.Name)
}

func (r *Run) predecessorsTerminal(name string) bool {
	for _, pred := range r.graph.Predecessors(name) {
		if !r.pr.Jobs[pred].IsTerminal() {
			return false
		}
	}
	return true
}

func (r *Run) predecessorsSatisfied(name string) bool {
	for _, pred := range r.graph.Predecessors(name) {
		if !r.pr.Jobs[pred].Satisfied() {
			return false
		}
	}
	return true
}

// upstreamFailed reports whether any direct or transitive predecessor
// failed without allow_failure. Cascade skips in between do not hide the
// originating failure from on_failure jobs.
func (r *Run) upstreamFailed(name string) bool {
	seen := make(map[string]bool)

	var walk func(string) bool
	walk = func(n string) bool {
		for _, pred := range r.graph.Predecessors(n) {
			if seen[pred] {
				continue
			}
			seen[pred] = true
			jr := r.pr.Jobs[pred]
			if jr.State == domain.JobFailed && !jr.AllowFailure {
				return true
			}
			if walk(pred) {
				return true
			}
		}
		return false
	}

	return walk(name)
}

// rollup recomputes the run-level state. The run finishes only when every
// job is terminal; a held manual job keeps it running. A failure without
// allow_failure makes the run failed, cancellation takes precedence.
func (r *Run) rollup(now time.Time, ch *Changes) {
	ch.RunState = r.pr.State
	if r.pr.IsTerminal() {
		return
	}

	for _, jr := range r.pr.Jobs {
		if !jr.IsTerminal() {
			return
		}
	}

	state := domain.RunSuccess
	for _, jr := range r.pr.Jobs {
		if jr.State == domain.JobCanceled {
			state = domain.RunCanceled
			break
		}
		if jr.State == domain.JobFailed && !jr.AllowFailure {
			state = domain.RunFailed
		}
	}

	r.pr.State = state
	finishedAt := now
	r.pr.FinishedAt = &finishedAt
	ch.RunState = state
	ch.RunFinished = true
}
