package biz

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"InsightRelay/pkg/providers"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// mockClient is a testify mock of providers.Client.
type mockClient struct {
	mock.Mock
	name string
}

func newMockClient(name string) *mockClient { return &mockClient{name: name} }

func (m *mockClient) Name() string { return m.name }
func (m *mockClient) Configure(string) {}
func (m *mockClient) Generate(ctx context.Context, req *providers.Request) (*providers.Response, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*providers.Response)
	return resp, args.Error(1)
}

// fakeProviderRepo serves a fixed set of clients.
type fakeProviderRepo struct {
	clients map[string]providers.Client
}

func newFakeProviderRepo(clients ...*mockClient) *fakeProviderRepo {
	repo := &fakeProviderRepo{clients: make(map[string]providers.Client)}
	for _, c := range clients {
		repo.clients[c.name] = c
	}
	return repo
}

func (r *fakeProviderRepo) Client(provider string) (providers.Client, bool) {
	c, ok := r.clients[provider]
	return c, ok
}

func (r *fakeProviderRepo) Names() []string {
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	return names
}

// adapterFixture wires an adapter with an unpaced tier, zero jitter and recorded sleeps.
type adapterFixture struct {
	adapter  *ProviderAdapter
	breakers *BreakerRegistry
	clock    *fakeClock

	mu     sync.Mutex
	sleeps []time.Duration
	// onSleep runs inside the adapter's backoff sleep.
	onSleep func(ctx context.Context) error
}

const testTier = "test"

func newAdapterFixture(t *testing.T, repo ProviderRepo, retry RetryConfig, breaker BreakerConfig) *adapterFixture {
	t.Helper()
	logger := log.NewStdLogger(os.Stdout)
	clock := newFakeClock()

	breakers := NewBreakerRegistry(breaker, nil, logger)
	breakers.now = clock.Now
	limiter := NewRateLimiter([]TierConfig{{Name: testTier, MaxParallel: 4}}, testTier, nil, logger)
	policy := NewRetryPolicy(retry)
	policy.jitter = func(time.Duration) time.Duration { return 0 }

	f := &adapterFixture{breakers: breakers, clock: clock}
	f.adapter = NewProviderAdapter(repo, breakers, limiter, policy, AdapterConfig{CallTimeout: time.Second}, nil, logger)
	f.adapter.sleep = func(ctx context.Context, d time.Duration) error {
		f.mu.Lock()
		f.sleeps = append(f.sleeps, d)
		f.mu.Unlock()
		if f.onSleep != nil {
			return f.onSleep(ctx)
		}
		return ctx.Err()
	}
	f.adapter.newID = func() string { return "result-id" }
	return f
}

func defaultTestRetry() RetryConfig {
	return RetryConfig{MaxRetries: 2, BaseDelay: 10 * time.Millisecond, MaxDelay: time.Second}
}

func defaultTestBreaker() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, ResetTimeout: time.Minute}
}

func textRequest() *GenerationRequest {
	return &GenerationRequest{Kind: providers.KindText, Prompt: "Summarize the transcript"}
}

func serverError(provider string) error {
	return &providers.TransientError{Provider: provider, StatusCode: 503, Message: "overloaded"}
}

func TestProviderAdapter_SuccessFirstAttempt(t *testing.T) {
	client := newMockClient(providers.Gemini)
	client.On("Generate", mock.Anything, mock.MatchedBy(func(r *providers.Request) bool {
		return r.Model == "gemini-1.5-flash" && r.Prompt == "Summarize the transcript" && r.Kind == providers.KindText
	})).Return(&providers.Response{Payload: "insight", Model: "gemini-1.5-flash-002"}, nil).Once()

	f := newAdapterFixture(t, newFakeProviderRepo(client), defaultTestRetry(), defaultTestBreaker())
	cand := CandidateDescriptor{Provider: providers.Gemini, Model: "gemini-1.5-flash"}

	result, err := f.adapter.Call(context.Background(), textRequest(), cand, testTier)
	require.NoError(t, err)
	assert.Equal(t, "result-id", result.ID)
	assert.Equal(t, "insight", result.Payload)
	assert.Equal(t, providers.Gemini, result.ProviderUsed)
	assert.Equal(t, "gemini-1.5-flash", result.ModelUsed)
	assert.Equal(t, 1, result.AttemptCount)
	assert.False(t, result.Cached)
	assert.Empty(t, f.sleeps)
	client.AssertExpectations(t)
}

func TestProviderAdapter_RetriesTransientThenSucceeds(t *testing.T) {
	client := newMockClient(providers.OpenAI)
	client.On("Generate", mock.Anything, mock.Anything).Return(nil, serverError(providers.OpenAI)).Once()
	client.On("Generate", mock.Anything, mock.Anything).Return(&providers.Response{Payload: "ok"}, nil).Once()

	f := newAdapterFixture(t, newFakeProviderRepo(client), defaultTestRetry(), defaultTestBreaker())

	result, err := f.adapter.Call(context.Background(), textRequest(), CandidateDescriptor{Provider: providers.OpenAI, Model: "gpt-4o-mini"}, testTier)
	require.NoError(t, err)
	assert.Equal(t, 2, result.AttemptCount)
	assert.Equal(t, []time.Duration{10 * time.Millisecond}, f.sleeps)
	assert.Equal(t, 0, f.breakers.Get(providers.OpenAI).Snapshot().ConsecutiveFailures)
	client.AssertNumberOfCalls(t, "Generate", 2)
}

func TestProviderAdapter_ExhaustedRetriesCountOnce(t *testing.T) {
	client := newMockClient(providers.OpenAI)
	client.On("Generate", mock.Anything, mock.Anything).Return(nil, serverError(providers.OpenAI))

	f := newAdapterFixture(t, newFakeProviderRepo(client), defaultTestRetry(), defaultTestBreaker())

	_, err := f.adapter.Call(context.Background(), textRequest(), CandidateDescriptor{Provider: providers.OpenAI, Model: "gpt-4o-mini"}, testTier)
	require.Error(t, err)
	assert.True(t, providers.IsTransient(err))
	client.AssertNumberOfCalls(t, "Generate", 3)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, f.sleeps)
	assert.Equal(t, 1, f.breakers.Get(providers.OpenAI).Snapshot().ConsecutiveFailures,
		"one call records one breaker failure regardless of retries")
}

func TestProviderAdapter_FatalErrors(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantFailures int
	}{
		{
			name:         "malformed request does not count against provider",
			err:          &providers.FatalError{Provider: providers.Anthropic, StatusCode: 400, Reason: providers.ReasonMalformedRequest},
			wantFailures: 0,
		},
		{
			name:         "invalid credentials count",
			err:          &providers.FatalError{Provider: providers.Anthropic, StatusCode: 401, Reason: providers.ReasonInvalidCredentials},
			wantFailures: 1,
		},
		{
			name:         "unclassified error is fatal",
			err:          errors.New("boom"),
			wantFailures: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newMockClient(providers.Anthropic)
			client.On("Generate", mock.Anything, mock.Anything).Return(nil, tt.err).Once()

			f := newAdapterFixture(t, newFakeProviderRepo(client), defaultTestRetry(), defaultTestBreaker())

			_, err := f.adapter.Call(context.Background(), textRequest(), CandidateDescriptor{Provider: providers.Anthropic, Model: "claude-3-5-haiku-latest"}, testTier)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.err)
			assert.Empty(t, f.sleeps, "fatal errors are not retried")
			client.AssertNumberOfCalls(t, "Generate", 1)
			assert.Equal(t, tt.wantFailures, f.breakers.Get(providers.Anthropic).Snapshot().ConsecutiveFailures)
		})
	}
}

func TestProviderAdapter_OpenBreakerSkipsCall(t *testing.T) {
	client := newMockClient(providers.OpenAI)
	f := newAdapterFixture(t, newFakeProviderRepo(client), defaultTestRetry(), BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})
	f.breakers.Get(providers.OpenAI).RecordFailure()

	_, err := f.adapter.Call(context.Background(), textRequest(), CandidateDescriptor{Provider: providers.OpenAI, Model: "gpt-4o-mini"}, testTier)

	var circuitErr *CircuitOpenError
	require.ErrorAs(t, err, &circuitErr)
	assert.Equal(t, providers.OpenAI, circuitErr.Provider)
	client.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestProviderAdapter_HalfOpenTrialCloses(t *testing.T) {
	client := newMockClient(providers.OpenAI)
	client.On("Generate", mock.Anything, mock.Anything).Return(&providers.Response{Payload: "ok"}, nil)

	f := newAdapterFixture(t, newFakeProviderRepo(client), defaultTestRetry(), BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})
	cb := f.breakers.Get(providers.OpenAI)
	cb.RecordFailure()
	f.clock.Advance(time.Minute)

	cand := CandidateDescriptor{Provider: providers.OpenAI, Model: "gpt-4o-mini"}
	_, err := f.adapter.Call(context.Background(), textRequest(), cand, testTier)
	require.NoError(t, err)
	assert.Equal(t, BreakerHalfOpen, cb.Snapshot().State)

	_, err = f.adapter.Call(context.Background(), textRequest(), cand, testTier)
	require.NoError(t, err)
	assert.Equal(t, BreakerClosed, cb.Snapshot().State)
}

func TestProviderAdapter_BreakerOpensMidRetry(t *testing.T) {
	client := newMockClient(providers.OpenAI)
	client.On("Generate", mock.Anything, mock.Anything).Return(nil, serverError(providers.OpenAI))

	f := newAdapterFixture(t, newFakeProviderRepo(client), defaultTestRetry(), BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})
	// a concurrent request trips the breaker while this one backs off
	f.onSleep = func(context.Context) error {
		f.breakers.Get(providers.OpenAI).RecordFailure()
		return nil
	}

	_, err := f.adapter.Call(context.Background(), textRequest(), CandidateDescriptor{Provider: providers.OpenAI, Model: "gpt-4o-mini"}, testTier)

	var circuitErr *CircuitOpenError
	require.ErrorAs(t, err, &circuitErr)
	client.AssertNumberOfCalls(t, "Generate", 1)
}

func TestProviderAdapter_HonoursRetryAfter(t *testing.T) {
	client := newMockClient(providers.Gemini)
	client.On("Generate", mock.Anything, mock.Anything).
		Return(nil, &providers.TransientError{Provider: providers.Gemini, StatusCode: 429, RetryAfter: 700 * time.Millisecond}).Once()
	client.On("Generate", mock.Anything, mock.Anything).
		Return(nil, &providers.TransientError{Provider: providers.Gemini, StatusCode: 429, RetryAfter: time.Hour}).Once()
	client.On("Generate", mock.Anything, mock.Anything).Return(&providers.Response{Payload: "ok"}, nil).Once()

	f := newAdapterFixture(t, newFakeProviderRepo(client), defaultTestRetry(), defaultTestBreaker())

	result, err := f.adapter.Call(context.Background(), textRequest(), CandidateDescriptor{Provider: providers.Gemini, Model: "gemini-1.5-flash"}, testTier)
	require.NoError(t, err)
	assert.Equal(t, 3, result.AttemptCount)
	assert.Equal(t, []time.Duration{700 * time.Millisecond, time.Second}, f.sleeps, "retry-after capped at max delay")
}

func TestProviderAdapter_UnknownProvider(t *testing.T) {
	f := newAdapterFixture(t, newFakeProviderRepo(), defaultTestRetry(), defaultTestBreaker())

	_, err := f.adapter.Call(context.Background(), textRequest(), CandidateDescriptor{Provider: "mistral", Model: "large"}, testTier)

	var fatal *providers.FatalError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, providers.ReasonUnknownProvider, fatal.Reason)
}

func TestProviderAdapter_ContextCancelledDuringBackoff(t *testing.T) {
	client := newMockClient(providers.OpenAI)
	client.On("Generate", mock.Anything, mock.Anything).Return(nil, serverError(providers.OpenAI))

	ctx, cancel := context.WithCancel(context.Background())
	f := newAdapterFixture(t, newFakeProviderRepo(client), defaultTestRetry(), defaultTestBreaker())
	f.onSleep = func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	}

	_, err := f.adapter.Call(ctx, textRequest(), CandidateDescriptor{Provider: providers.OpenAI, Model: "gpt-4o-mini"}, testTier)
	assert.ErrorIs(t, err, context.Canceled)
	client.AssertNumberOfCalls(t, "Generate", 1)
	assert.Equal(t, 0, f.breakers.Get(providers.OpenAI).Snapshot().ConsecutiveFailures, "cancellation is not a provider failure")
}

func TestProviderAdapter_UnknownTier(t *testing.T) {
	client := newMockClient(providers.OpenAI)
	f := newAdapterFixture(t, newFakeProviderRepo(client), defaultTestRetry(), defaultTestBreaker())

	_, err := f.adapter.Call(context.Background(), textRequest(), CandidateDescriptor{Provider: providers.OpenAI, Model: "gpt-4o-mini"}, "platinum")
	assert.ErrorIs(t, err, ErrUnknownTier)
	client.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestNewAdapterConfig(t *testing.T) {
	assert.Equal(t, DefaultCallTimeout, NewAdapterConfig(nil).CallTimeout)
}
