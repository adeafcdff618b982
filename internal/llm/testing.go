package llm

import (
	"context"
	"sync"
)

// StubClient answers requests with a function. It is safe for concurrent use.
type StubClient struct {
	Fn func(ctx context.Context, req Request) (string, error)

	mu       sync.Mutex
	requests []Request
}

// Generate records the request and delegates to Fn.
func (s *StubClient) Generate(ctx context.Context, req Request) (string, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.Fn(ctx, req)
}

// Requests returns a copy of every request seen so far.
func (s *StubClient) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Reply is one scripted outcome.
type Reply struct {
	Text string
	Err  error
}

// Script returns a StubClient that plays replies in order and repeats the last one.
func Script(replies ...Reply) *StubClient {
	var (
		mu sync.Mutex
		i  int
	)
	return &StubClient{Fn: func(context.Context, Request) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		r := replies[i]
		if i < len(replies)-1 {
			i++
		}
		return r.Text, r.Err
	}}
}

// LastUserMessage returns the content of the final user turn.
func (r Request) LastUserMessage() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			return r.Messages[i].Content
		}
	}
	return ""
}
