package presence

import "sync"

// InterestIndex maps subjects (book IDs, topics) to the set of users who
// asked to hear about them. Empty subject sets are pruned so the index never
// grows past the live interest surface.
type InterestIndex struct {
	mu       sync.RWMutex
	subjects map[string]map[string]struct{}
}

func NewInterestIndex() *InterestIndex {
	return &InterestIndex{subjects: make(map[string]map[string]struct{})}
}

// Subscribe records the user's interest in a subject. Idempotent.
func (i *InterestIndex) Subscribe(subject, userID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	set, ok := i.subjects[subject]
	if !ok {
		set = make(map[string]struct{})
		i.subjects[subject] = set
	}
	set[userID] = struct{}{}
}

// Unsubscribe drops the user's interest in a subject, pruning the subject
// when its set empties. Unknown subjects and users are no-ops.
func (i *InterestIndex) Unsubscribe(subject, userID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	set, ok := i.subjects[subject]
	if !ok {
		return
	}
	delete(set, userID)
	if len(set) == 0 {
		delete(i.subjects, subject)
	}
}

// UnsubscribeAll drops the user from every subject. Called when the user
// goes offline.
func (i *InterestIndex) UnsubscribeAll(userID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for subject, set := range i.subjects {
		delete(set, userID)
		if len(set) == 0 {
			delete(i.subjects, subject)
		}
	}
}

// Subscribers returns a snapshot of the users interested in a subject.
func (i *InterestIndex) Subscribers(subject string) []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	set, ok := i.subjects[subject]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// SubjectCount reports the number of subjects with at least one subscriber.
func (i *InterestIndex) SubjectCount() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.subjects)
}
