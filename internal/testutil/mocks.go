package testutil

import (
	"sort"
	"sync"
)

// RecordingNotifier captures every dirty-key batch it is handed.
type RecordingNotifier struct {
	mu      sync.Mutex
	batches [][]string
}

// Notify records a batch
func (n *RecordingNotifier) Notify(keys []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.batches = append(n.batches, append([]string(nil), keys...))
}

// Batches returns a copy of all recorded batches
func (n *RecordingNotifier) Batches() [][]string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([][]string, len(n.batches))
	copy(out, n.batches)
	return out
}

// Keys returns the sorted union of every recorded key
func (n *RecordingNotifier) Keys() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, b := range n.batches {
		for _, k := range b {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Reset forgets recorded batches
func (n *RecordingNotifier) Reset() {
	n.mu.Lock()
	n.batches = nil
	n.mu.Unlock()
}
