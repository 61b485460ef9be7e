package usage

import (
	"context"
	"sync"
)

// Memory is an in-process store for local development and tests. Err, when
// set, is returned from every read.
type Memory struct {
	mu         sync.Mutex
	webhooks   map[string]int64
	triggers   map[string]int64
	executions map[string]int64
	credits    map[string]float64
	profiles   map[string]Profile
	Err        error
}

func NewMemory() *Memory {
	return &Memory{
		webhooks:   map[string]int64{},
		triggers:   map[string]int64{},
		executions: map[string]int64{},
		credits:    map[string]float64{},
		profiles:   map[string]Profile{},
	}
}

// Seed sets the live counts for one subject.
func (m *Memory) Seed(subjectID string, webhooks, triggers, executions int64, credits float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.webhooks[subjectID] = webhooks
	m.triggers[subjectID] = triggers
	m.executions[subjectID] = executions
	m.credits[subjectID] = credits
}

func (m *Memory) CountActiveWebhooks(_ context.Context, subjectID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	return m.webhooks[subjectID], nil
}

func (m *Memory) CountActiveScheduledTriggers(_ context.Context, subjectID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	return m.triggers[subjectID], nil
}

func (m *Memory) MonthlyExecutionCount(_ context.Context, subjectID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	return m.executions[subjectID], nil
}

func (m *Memory) TotalCreditCost(_ context.Context, subjectID string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	return m.credits[subjectID], nil
}

func (m *Memory) IncrementExecutions(_ context.Context, subjectID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions[subjectID]++
	return m.executions[subjectID], nil
}

func (m *Memory) UpsertProfile(_ context.Context, p Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.SubjectID] = p
	return nil
}

// Profile returns the stored profile for subjectID.
func (m *Memory) Profile(subjectID string) (Profile, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[subjectID]
	return p, ok
}
