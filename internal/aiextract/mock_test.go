package aiextract

import (
	"context"
	"errors"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/contract-payments/internal/model"
	"github.com/sells-group/contract-payments/pkg/anthropic"
)

type mockAnthropicClient struct {
	mock.Mock
}

func (m *mockAnthropicClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
		Usage:   anthropic.TokenUsage{InputTokens: 2500, OutputTokens: 600},
	}
}

type memSink struct {
	mu      sync.Mutex
	saved   []model.Clarification
	failFor string
}

func (s *memSink) CreateClarification(_ context.Context, c *model.Clarification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFor != "" && c.FieldName == s.failFor {
		return errors.New("insert failed")
	}
	s.saved = append(s.saved, *c)
	return nil
}
