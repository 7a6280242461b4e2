package llm

import "context"

// MockClient is a test double for the Client interface.
type MockClient struct {
	Response *Response
	Err      error
	Calls    []string // records prompts sent (Chat records the message)
	Systems  []string // system prompts seen by Chat
}

// Chat records the call and returns the mock response.
func (m *MockClient) Chat(ctx context.Context, system string, history []Message, message string) (*Response, error) {
	m.Calls = append(m.Calls, message)
	m.Systems = append(m.Systems, system)
	return m.Response, m.Err
}

// Complete records the call and returns the mock response.
func (m *MockClient) Complete(ctx context.Context, prompt string) (*Response, error) {
	m.Calls = append(m.Calls, prompt)
	return m.Response, m.Err
}
