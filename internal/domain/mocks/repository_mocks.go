package mocks

import (
	"bytes"
	"context"
	"strings"
	"sync"

	"github.com/jsanchez-sales-hub/sht-4502/internal/domain"
)

// MockExternalQuery is a mock implementation of domain.ExternalQuery for testing.
// With no Results configured it filters Log line by line, like a text search.
type MockExternalQuery struct {
	mu      sync.Mutex
	Log     []byte
	Results map[string][]byte
	Errs    map[string]error
	Err     error
	Calls   [][]string
}

func (m *MockExternalQuery) Query(ctx context.Context, terms ...string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, append([]string(nil), terms...))

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.Err != nil {
		return nil, m.Err
	}
	key := strings.Join(terms, "|")
	if err, ok := m.Errs[key]; ok {
		return nil, err
	}
	if out, ok := m.Results[key]; ok {
		return out, nil
	}

	var out bytes.Buffer
	for _, line := range bytes.Split(m.Log, []byte("\n")) {
		for _, t := range terms {
			if t != "" && bytes.Contains(line, []byte(t)) {
				out.Write(line)
				out.WriteByte('\n')
				break
			}
		}
	}
	return out.Bytes(), nil
}

// CallCount returns the number of queries made so far.
func (m *MockExternalQuery) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// MockCheckpointStore is a mock implementation of domain.CheckpointStore for testing.
type MockCheckpointStore struct {
	mu        sync.Mutex
	State     domain.Checkpoint
	Commits   []domain.CheckpointDelta
	LoadErr   error
	CommitErr error
	ResetErr  error
}

func (m *MockCheckpointStore) Load(ctx context.Context) (domain.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadErr != nil {
		return domain.Checkpoint{}, m.LoadErr
	}
	cp := domain.NewCheckpoint()
	cp.ProcessedUpTo = m.State.ProcessedUpTo
	for k := range m.State.Excluded {
		cp.Excluded[k] = struct{}{}
	}
	return cp, nil
}

func (m *MockCheckpointStore) Commit(ctx context.Context, delta domain.CheckpointDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CommitErr != nil {
		return m.CommitErr
	}
	m.Commits = append(m.Commits, delta)
	m.State.Merge(delta)
	return nil
}

func (m *MockCheckpointStore) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ResetErr != nil {
		return m.ResetErr
	}
	m.State = domain.NewCheckpoint()
	m.Commits = nil
	return nil
}

// MockSink is a mock implementation of domain.CandidateSink for testing.
// The first FailTimes writes fail with WriteErr.
type MockSink struct {
	mu        sync.Mutex
	RunID     string
	Written   []domain.Candidate
	Attempts  int
	FailTimes int
	WriteErr  error
}

func (m *MockSink) WriteCandidates(ctx context.Context, runID string, candidates []domain.Candidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Attempts++
	if m.WriteErr != nil && (m.FailTimes == 0 || m.Attempts <= m.FailTimes) {
		return m.WriteErr
	}
	m.RunID = runID
	m.Written = append(m.Written, candidates...)
	return nil
}
