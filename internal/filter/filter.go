// Package filter decides whether an inbound message is a command, is
// keyword-blocked, or should be synchronized.
package filter

import (
	"sort"
	"strings"
	"sync"
)

// KeywordFilter blocks messages whose body contains any configured keyword.
// Matching is raw case-sensitive substring, so behavior is deterministic
// across platforms and locales.
type KeywordFilter struct {
	mu       sync.RWMutex
	keywords map[string]struct{}
}

func NewKeywordFilter(initial []string) *KeywordFilter {
	f := &KeywordFilter{keywords: make(map[string]struct{}, len(initial))}
	for _, kw := range initial {
		if kw != "" {
			f.keywords[kw] = struct{}{}
		}
	}
	return f
}

// Matches reports whether body contains any blocked keyword.
func (f *KeywordFilter) Matches(body string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for kw := range f.keywords {
		if strings.Contains(body, kw) {
			return true
		}
	}
	return false
}

// Add registers a keyword. Returns false if it was already present.
func (f *KeywordFilter) Add(keyword string) bool {
	if keyword == "" {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.keywords[keyword]; exists {
		return false
	}
	f.keywords[keyword] = struct{}{}
	return true
}

// Remove unregisters a keyword. Returns false if it was not present.
func (f *KeywordFilter) Remove(keyword string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.keywords[keyword]; !exists {
		return false
	}
	delete(f.keywords, keyword)
	return true
}

// List returns the keywords in sorted order.
func (f *KeywordFilter) List() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]string, 0, len(f.keywords))
	for kw := range f.keywords {
		out = append(out, kw)
	}
	sort.Strings(out)
	return out
}

// Replace swaps the whole keyword set, used by config reload.
func (f *KeywordFilter) Replace(keywords []string) {
	next := make(map[string]struct{}, len(keywords))
	for _, kw := range keywords {
		if kw != "" {
			next[kw] = struct{}{}
		}
	}

	f.mu.Lock()
	f.keywords = next
	f.mu.Unlock()
}
