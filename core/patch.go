package core

import "time"

// ContextPatch is the additive set of changes one turn produces: new
// messages, fact updates, conversation tags and an optional status change.
// Patches are applied atomically at commit; they never remove history.
type ContextPatch struct {
	Messages []Message       `json:"messages,omitempty"`
	Facts    map[string]Fact `json:"facts,omitempty"`
	Tags     []string        `json:"tags,omitempty"`
	Status   *SessionStatus  `json:"status,omitempty"`
	// Touch marks the patch as conversation activity so the session's
	// LastActivityAt advances. Sweeper-issued status patches leave it false.
	Touch bool `json:"touch,omitempty"`
}

// SetFact records a fact update in the patch, last-writer-wins.
func (p *ContextPatch) SetFact(key, value string, pinned bool) {
	if p.Facts == nil {
		p.Facts = map[string]Fact{}
	}
	p.Facts[key] = Fact{Value: value, Pinned: pinned, UpdatedAt: time.Now().UTC()}
}

// AddMessage appends a message to the patch.
func (p *ContextPatch) AddMessage(m Message) { p.Messages = append(p.Messages, m) }

// AddTags appends conversation tags; duplicates are dropped at apply time.
func (p *ContextPatch) AddTags(tags ...string) { p.Tags = append(p.Tags, tags...) }

// Merge folds other into p. Messages and tags append in order; facts are
// last-writer-wins, so the caller controls precedence by merge order. A
// status change in other wins over one in p.
func (p *ContextPatch) Merge(other ContextPatch) {
	p.Messages = append(p.Messages, other.Messages...)
	for k, f := range other.Facts {
		if p.Facts == nil {
			p.Facts = map[string]Fact{}
		}
		p.Facts[k] = f
	}
	p.Tags = append(p.Tags, other.Tags...)
	if other.Status != nil {
		p.Status = other.Status
	}
	p.Touch = p.Touch || other.Touch
}

// IsEmpty reports whether the patch carries no changes at all.
func (p ContextPatch) IsEmpty() bool {
	return len(p.Messages) == 0 && len(p.Facts) == 0 && len(p.Tags) == 0 &&
		p.Status == nil && !p.Touch
}

// StatusPatch builds a patch that only requests a status transition.
func StatusPatch(next SessionStatus) ContextPatch {
	return ContextPatch{Status: &next}
}
