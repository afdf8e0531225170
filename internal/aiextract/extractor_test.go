package aiextract

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/contract-payments/internal/config"
	"github.com/sells-group/contract-payments/internal/cost"
	"github.com/sells-group/contract-payments/internal/resilience"
	"github.com/sells-group/contract-payments/pkg/anthropic"
)

func testConfig() config.AnthropicConfig {
	return config.AnthropicConfig{
		Key:            "sk-test",
		Model:          "claude-sonnet-4-5-20250929",
		MaxTokens:      2000,
		Temperature:    0.1,
		TimeoutSecs:    5,
		MaxPromptChars: 8000,
	}
}

func fixedClock() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

func TestExtract_SavesClarifications(t *testing.T) {
	client := new(mockAnthropicClient)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.Model == "claude-sonnet-4-5-20250929" &&
			req.MaxTokens == 2000 &&
			req.Temperature != nil && *req.Temperature == 0.1 &&
			len(req.System) == 1 && req.System[0].Text == SystemInstruction &&
			len(req.Messages) == 1
	})).Return(textResponse(`{
		"extracted_data": {"client_name": "Acme", "total_value": 50000, "start_date": null},
		"clarifications_needed": [{"field": "start_date", "question": "What is the start date?", "context": "upon signature", "page": 1}]
	}`), nil)

	sink := &memSink{}
	ex := New(client, testConfig(), sink, cost.NewCalculator(config.PricingConfig{}), WithClock(fixedClock))

	res, err := ex.Extract(context.Background(), "contract-1", "acme.pdf", "--- Page 1 ---\nAcme agrees to pay $50,000.")
	require.NoError(t, err)

	assert.Equal(t, "Acme", res.Response.Data.ClientName)
	require.Len(t, res.Clarifications, 1)
	require.Len(t, sink.saved, 1)
	saved := sink.saved[0]
	assert.Equal(t, "contract-1", saved.ContractID)
	assert.Equal(t, "start_date", saved.FieldName)
	assert.Equal(t, "What is the start date?", saved.AIQuestion)
	assert.Equal(t, 1, *saved.PageNumber)
	assert.False(t, saved.Answered)
	assert.Equal(t, fixedClock(), saved.CreatedAt)
	assert.NotEmpty(t, saved.ID)

	assert.InDelta(t, 0.0165, res.CostUSD, 0.00001)
	audit := res.Audit()
	assert.Equal(t, true, audit["has_clarifications"])
	assert.Equal(t, "claude-sonnet-4-5-20250929", audit["ai_model"])
	client.AssertExpectations(t)
}

func TestExtract_SinkFailureIsWarning(t *testing.T) {
	client := new(mockAnthropicClient)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse(`{
		"extracted_data": {"client_name": "Acme"},
		"clarifications_needed": [
			{"field": "end_date", "question": "Is there an end date?"},
			{"field": "currency", "question": "Which currency?"}
		]
	}`), nil)

	sink := &memSink{failFor: "end_date"}
	res, err := New(client, testConfig(), sink, nil).Extract(context.Background(), "c", "f.pdf", "text")
	require.NoError(t, err)

	require.Len(t, res.Clarifications, 1)
	assert.Equal(t, "currency", res.Clarifications[0].FieldName)
	assert.Len(t, res.Warnings, 1)
	assert.Zero(t, res.CostUSD)
}

func TestExtract_ErrorsAreClassified(t *testing.T) {
	tests := []struct {
		name    string
		resp    *anthropic.MessageResponse
		callErr error
		want    error
	}{
		{"auth", nil, &anthropic.APIError{StatusCode: 401, Message: "invalid x-api-key"}, ErrAuthentication},
		{"rate limit", nil, &anthropic.APIError{StatusCode: 429, Message: "slow down"}, ErrRateLimited},
		{"gateway timeout", nil, &anthropic.APIError{StatusCode: 504, Message: "timeout"}, ErrTimeout},
		{"deadline", nil, context.DeadlineExceeded, ErrTimeout},
		{"server", nil, &anthropic.APIError{StatusCode: 500, Message: "internal"}, ErrModelUnavailable},
		{"malformed", textResponse("sorry, no JSON today"), nil, ErrMalformedResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := new(mockAnthropicClient)
			if tt.callErr != nil {
				client.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, tt.callErr)
			} else {
				client.On("CreateMessage", mock.Anything, mock.Anything).Return(tt.resp, nil)
			}
			sink := &memSink{}
			_, err := New(client, testConfig(), sink, nil).Extract(context.Background(), "c", "f.pdf", "text")
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.Empty(t, sink.saved)
			client.AssertNumberOfCalls(t, "CreateMessage", 1)
		})
	}
}

func TestExtract_RetryPolicyRetriesTransient(t *testing.T) {
	client := new(mockAnthropicClient)
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, &anthropic.APIError{StatusCode: 529, Message: "overloaded"}).Once()
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"client_name": "Initech"}`), nil).Once()

	retry := resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
	res, err := New(client, testConfig(), nil, nil, WithRetry(retry)).Extract(context.Background(), "c", "f.pdf", "text")
	require.NoError(t, err)
	assert.Equal(t, "Initech", res.Response.Data.ClientName)
	client.AssertNumberOfCalls(t, "CreateMessage", 2)
}

func TestExtract_RetryPolicySkipsAuthentication(t *testing.T) {
	client := new(mockAnthropicClient)
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, &anthropic.APIError{StatusCode: 403, Message: "forbidden"})

	retry := resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond}
	_, err := New(client, testConfig(), nil, nil, WithRetry(retry)).Extract(context.Background(), "c", "f.pdf", "text")
	require.ErrorIs(t, err, ErrAuthentication)
	client.AssertNumberOfCalls(t, "CreateMessage", 1)
}

func TestClassify(t *testing.T) {
	assert.Nil(t, Classify(nil))

	already := &ClassifiedError{Class: ErrTimeout, Err: errors.New("x")}
	assert.Same(t, already, Classify(already).(*ClassifiedError))

	assert.ErrorIs(t, Classify(errors.New("Quota exhausted for project")), ErrRateLimited)
	assert.ErrorIs(t, Classify(errors.New("invalid API key provided")), ErrAuthentication)
	assert.ErrorIs(t, Classify(errors.New("something odd")), ErrModelUnavailable)

	assert.True(t, IsRetryable(Classify(&anthropic.APIError{StatusCode: 429})))
	assert.True(t, IsRetryable(Classify(&anthropic.APIError{StatusCode: 503})))
	assert.False(t, IsRetryable(Classify(&anthropic.APIError{StatusCode: 400})))
	assert.False(t, IsRetryable(Classify(context.Canceled)))

	msg := Classify(&anthropic.APIError{StatusCode: 401, Message: "bad key"}).Error()
	assert.Contains(t, msg, "anthropic.key")
}
