package llm

import (
	"context"
	"sync"
)

// MockClient is a scripted Client for tests and offline runs.
// Replies cycle once exhausted.
type MockClient struct {
	mu      sync.Mutex
	replies []CompletionResponse
	err     error
	calls   []CompletionRequest
	index   int
}

// NewMockClient returns a client that always answers with content.
func NewMockClient(content string) *MockClient {
	return &MockClient{
		replies: []CompletionResponse{{Content: content, FinishReason: "stop"}},
	}
}

// WithResponses replaces the script with plain text replies.
func (m *MockClient) WithResponses(contents ...string) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = make([]CompletionResponse, len(contents))
	for i, c := range contents {
		m.replies[i] = CompletionResponse{Content: c, FinishReason: "stop"}
	}
	m.index = 0
	return m
}

// WithReplies replaces the script with full responses, including tool calls.
func (m *MockClient) WithReplies(replies ...CompletionResponse) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append([]CompletionResponse(nil), replies...)
	m.index = 0
	return m
}

// WithError makes every call fail with err.
func (m *MockClient) WithError(err error) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// Complete implements Client.
func (m *MockClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, req)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.err != nil {
		return nil, m.err
	}
	if len(m.replies) == 0 {
		return &CompletionResponse{FinishReason: "stop"}, nil
	}

	resp := m.replies[m.index%len(m.replies)]
	m.index++
	if resp.Model == "" {
		resp.Model = req.Model
	}
	return &resp, nil
}

// CallCount returns how many times Complete was called.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Calls returns every request received, in order.
func (m *MockClient) Calls() []CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CompletionRequest(nil), m.calls...)
}

// LastCall returns the most recent request, or the zero request.
func (m *MockClient) LastCall() CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return CompletionRequest{}
	}
	return m.calls[len(m.calls)-1]
}
