package sweep

import (
	"sort"
	"sync"

	"github.com/SebStoll/stocks-backtesting/pkg/engine"
)

// Store keeps finished sweep results in memory for the API.
type Store struct {
	mu   sync.RWMutex
	runs map[string]map[string]*engine.Result
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{runs: make(map[string]map[string]*engine.Result)}
}

// Add records one strategy's result of a run.
func (s *Store) Add(runID, key string, res *engine.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runs[runID] == nil {
		s.runs[runID] = make(map[string]*engine.Result)
	}
	s.runs[runID][key] = res
}

// Results returns a copy of the results of a run.
func (s *Store) Results(runID string) (map[string]*engine.Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.runs[runID]
	if !ok {
		return nil, false
	}
	cp := make(map[string]*engine.Result, len(res))
	for k, v := range res {
		cp[k] = v
	}
	return cp, true
}

// Get returns one strategy's result of a run.
func (s *Store) Get(runID, key string) (*engine.Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.runs[runID][key]
	return res, ok
}

// Keys returns the sorted strategy keys of a run.
func (s *Store) Keys(runID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.runs[runID]))
	for k := range s.runs[runID] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
