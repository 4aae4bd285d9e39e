package main

import (
	"context"
	"sync"

	"github.com/sigprobe/sigprobe/internal/scenario"
)

type mockAuditor struct {
	mu        sync.Mutex
	countFunc func(tid, sig int) (uint64, error)
	closed    bool
}

func (m *mockAuditor) Count(tid, sig int) (uint64, error) {
	if m.countFunc != nil {
		return m.countFunc(tid, sig)
	}
	return 1, nil
}

func (m *mockAuditor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockAuditor) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

type mockScenario struct {
	name    string
	runFunc func(ctx context.Context) (*scenario.Report, error)
}

func (m *mockScenario) Name() string {
	return m.name
}

func (m *mockScenario) Run(ctx context.Context) (*scenario.Report, error) {
	if m.runFunc != nil {
		return m.runFunc(ctx)
	}
	return &scenario.Report{
		Scenario: m.name,
		Results:  []scenario.Result{{Worker: "worker", State: "completed"}},
		Lines:    []string{m.name + " done"},
	}, nil
}

var _ Auditor = (*mockAuditor)(nil)
var _ scenario.Scenario = (*mockScenario)(nil)
