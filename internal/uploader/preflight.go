package uploader

import (
	"context"
	"fmt"
	"sync"

	"github.com/parnexcodes/droppush/internal/logging"
	"github.com/parnexcodes/droppush/internal/portal"
)

// PreflightChecker keeps the latest conflict set reported by the portal.
// A successful check replaces the set; a failed one leaves it untouched.
type PreflightChecker struct {
	session *portal.Session

	mu        sync.RWMutex
	conflicts []portal.Conflict
}

func NewPreflightChecker(session *portal.Session) *PreflightChecker {
	return &PreflightChecker{session: session}
}

// Check sends every item to the portal. Without a claim or items it clears
// the conflict set and makes no request.
func (p *PreflightChecker) Check(ctx context.Context, items []QueueItem) error {
	if !p.session.Claimed() {
		logging.PreflightSkipped("portal not claimed")
		p.Clear()
		return nil
	}
	if len(items) == 0 {
		logging.PreflightSkipped("no queued items")
		p.Clear()
		return nil
	}

	request := make([]portal.PreflightItem, 0, len(items))
	for _, item := range items {
		request = append(request, portal.PreflightItem{Relpath: item.Relpath, Size: item.Size})
	}

	conflicts, err := p.session.Preflight(ctx, request)
	logging.PreflightResult(len(request), len(conflicts), err)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.conflicts = conflicts
	p.mu.Unlock()
	return nil
}

// Clear empties the conflict set
func (p *PreflightChecker) Clear() {
	p.mu.Lock()
	p.conflicts = nil
	p.mu.Unlock()
}

// Conflicts returns a copy of the current conflict set
func (p *PreflightChecker) Conflicts() []portal.Conflict {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]portal.Conflict, len(p.conflicts))
	copy(out, p.conflicts)
	return out
}

// Summary describes the conflict set in one line, or returns "" when empty
func (p *PreflightChecker) Summary(policy portal.Policy) string {
	count := len(p.Conflicts())
	switch count {
	case 0:
		return ""
	case 1:
		return fmt.Sprintf("1 file already exists and will be %s.", policy.ConflictVerb())
	default:
		return fmt.Sprintf("%d files already exist and will be %s.", count, policy.ConflictVerb())
	}
}
