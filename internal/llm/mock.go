package llm

import (
	"context"
	"errors"
	"sync"
)

// MockClient replays a scripted sequence of responses and records every
// request it sees. Used when no provider is configured and throughout tests.
type MockClient struct {
	mu        sync.Mutex
	script    []scripted
	Requests  []Request
	Reasoning bool
}

type scripted struct {
	resp *Response
	err  error
}

func NewMock() *MockClient { return &MockClient{} }

// Enqueue appends one scripted response.
func (m *MockClient) Enqueue(resp Response) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, scripted{resp: &resp})
	return m
}

// EnqueueErr appends one scripted failure.
func (m *MockClient) EnqueueErr(err error) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, scripted{err: err})
	return m
}

func (m *MockClient) NativeReasoning() bool { return m.Reasoning }

func (m *MockClient) Call(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, req)
	if len(m.script) == 0 {
		return nil, errors.New("mock llm: script exhausted")
	}
	next := m.script[0]
	m.script = m.script[1:]
	if next.err != nil {
		return nil, next.err
	}
	return next.resp, nil
}

func (m *MockClient) Stream(ctx context.Context, req Request, onDelta func(Delta)) (*Response, error) {
	resp, err := m.Call(ctx, req)
	if err != nil {
		return nil, err
	}
	if onDelta != nil && resp.Text != "" {
		onDelta(Delta{Kind: DeltaText, Text: resp.Text})
	}
	return resp, nil
}
