package biz

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"InsightRelay/internal/conf"
	"InsightRelay/pkg/metrics"
	"InsightRelay/pkg/providers"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	geminiFlash = CandidateDescriptor{Provider: providers.Gemini, Model: "gemini-1.5-flash", Order: 0}
	gptMini     = CandidateDescriptor{Provider: providers.OpenAI, Model: "gpt-4o-mini", Order: 1}
	claudeHaiku = CandidateDescriptor{Provider: providers.Anthropic, Model: "claude-3-5-haiku-latest", Order: 2}
)

type orchestratorFixture struct {
	*adapterFixture
	orchestrator *FallbackOrchestrator
	cache        *ResultCache
	metrics      *metrics.Metrics
}

func newOrchestratorFixture(t *testing.T, cfg OrchestratorConfig, clients ...*mockClient) *orchestratorFixture {
	t.Helper()
	af := newAdapterFixture(t, newFakeProviderRepo(clients...), RetryConfig{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Second}, BreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})
	m := metrics.NewMetrics(prometheus.NewRegistry())
	cache, err := NewResultCache(16, time.Minute, m)
	require.NoError(t, err)
	cache.now = af.clock.Now

	return &orchestratorFixture{
		adapterFixture: af,
		orchestrator:   NewFallbackOrchestrator(af.adapter, cache, cfg, m, log.NewStdLogger(os.Stdout)),
		cache:          cache,
		metrics:        m,
	}
}

func succeeding(name, payload string) *mockClient {
	c := newMockClient(name)
	c.On("Generate", mock.Anything, mock.Anything).Return(&providers.Response{Payload: payload}, nil)
	return c
}

func failing(name string, err error) *mockClient {
	c := newMockClient(name)
	c.On("Generate", mock.Anything, mock.Anything).Return(nil, err)
	return c
}

func TestFallbackOrchestrator_PrimarySucceeds(t *testing.T) {
	gemini := succeeding(providers.Gemini, "from gemini")
	openai := succeeding(providers.OpenAI, "from openai")
	f := newOrchestratorFixture(t, OrchestratorConfig{}, gemini, openai)

	result, err := f.orchestrator.Generate(context.Background(), textRequest(), []CandidateDescriptor{geminiFlash, gptMini}, testTier)
	require.NoError(t, err)
	assert.Equal(t, "from gemini", result.Payload)
	assert.Equal(t, providers.Gemini, result.ProviderUsed)
	assert.Equal(t, 1, result.AttemptCount)
	openai.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.FallbackOutcomes.WithLabelValues("text", "primary")))
}

func TestFallbackOrchestrator_FallsBackInOrder(t *testing.T) {
	gemini := failing(providers.Gemini, serverError(providers.Gemini))
	openai := failing(providers.OpenAI, &providers.FatalError{Provider: providers.OpenAI, StatusCode: 401, Reason: providers.ReasonInvalidCredentials})
	anthropic := succeeding(providers.Anthropic, "from claude")
	f := newOrchestratorFixture(t, OrchestratorConfig{}, gemini, openai, anthropic)

	result, err := f.orchestrator.Generate(context.Background(), textRequest(), []CandidateDescriptor{geminiFlash, gptMini, claudeHaiku}, testTier)
	require.NoError(t, err)
	assert.Equal(t, providers.Anthropic, result.ProviderUsed)
	assert.Equal(t, "claude-3-5-haiku-latest", result.ModelUsed)
	gemini.AssertNumberOfCalls(t, "Generate", 2)
	openai.AssertNumberOfCalls(t, "Generate", 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.FallbackOutcomes.WithLabelValues("text", "fallback")))
}

func TestFallbackOrchestrator_TwoFatalThenSuccess(t *testing.T) {
	gemini := failing(providers.Gemini, &providers.FatalError{Provider: providers.Gemini, StatusCode: 400, Reason: providers.ReasonMalformedRequest})
	openai := failing(providers.OpenAI, &providers.FatalError{Provider: providers.OpenAI, StatusCode: 401, Reason: providers.ReasonInvalidCredentials})
	anthropic := succeeding(providers.Anthropic, "from claude")
	f := newOrchestratorFixture(t, OrchestratorConfig{}, gemini, openai, anthropic)

	result, err := f.orchestrator.Generate(context.Background(), textRequest(), []CandidateDescriptor{geminiFlash, gptMini, claudeHaiku}, testTier)
	require.NoError(t, err)
	assert.Equal(t, providers.Anthropic, result.ProviderUsed)
	assert.Equal(t, 1, result.AttemptCount)

	// fatal errors are not retried
	gemini.AssertNumberOfCalls(t, "Generate", 1)
	openai.AssertNumberOfCalls(t, "Generate", 1)

	winner := f.breakers.Get(providers.Anthropic).Snapshot()
	assert.Equal(t, BreakerClosed, winner.State)
	assert.Equal(t, 0, winner.ConsecutiveFailures)
	assert.True(t, winner.LastFailureAt.IsZero())

	assert.Equal(t, 0, f.breakers.Get(providers.Gemini).Snapshot().ConsecutiveFailures, "malformed request does not count")
	assert.Equal(t, 1, f.breakers.Get(providers.OpenAI).Snapshot().ConsecutiveFailures, "credential failure counts")
}

func TestFallbackOrchestrator_ExhaustedReportsEveryCandidate(t *testing.T) {
	gemini := failing(providers.Gemini, serverError(providers.Gemini))
	openai := newMockClient(providers.OpenAI)
	anthropic := failing(providers.Anthropic, &providers.FatalError{Provider: providers.Anthropic, StatusCode: 400, Reason: providers.ReasonMalformedRequest})
	f := newOrchestratorFixture(t, OrchestratorConfig{}, gemini, openai, anthropic)

	// openai is skipped by its open breaker
	for i := 0; i < 3; i++ {
		f.breakers.Get(providers.OpenAI).RecordFailure()
	}

	_, err := f.orchestrator.Generate(context.Background(), textRequest(), []CandidateDescriptor{claudeHaiku, gptMini, geminiFlash}, testTier)

	var exhausted *ExhaustedFallbackError
	require.ErrorAs(t, err, &exhausted)
	require.Len(t, exhausted.Errors, 3)
	assert.Equal(t, geminiFlash, exhausted.Errors[0].Candidate, "sorted by order")
	assert.Equal(t, gptMini, exhausted.Errors[1].Candidate)
	assert.Equal(t, claudeHaiku, exhausted.Errors[2].Candidate)

	assert.True(t, providers.IsTransient(exhausted.Errors[0].Err))
	var circuitErr *CircuitOpenError
	assert.ErrorAs(t, exhausted.Errors[1].Err, &circuitErr)
	assert.True(t, providers.IsFatal(exhausted.Errors[2].Err))

	assert.ErrorAs(t, err, &circuitErr, "candidate errors are reachable through the aggregate")
	openai.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.FallbackOutcomes.WithLabelValues("text", "exhausted")))
}

func TestFallbackOrchestrator_StableOrderForTies(t *testing.T) {
	openai := failing(providers.OpenAI, serverError(providers.OpenAI))
	anthropic := failing(providers.Anthropic, serverError(providers.Anthropic))
	f := newOrchestratorFixture(t, OrchestratorConfig{}, openai, anthropic)

	first := CandidateDescriptor{Provider: providers.Anthropic, Model: "claude-3-5-haiku-latest", Order: 1}
	second := CandidateDescriptor{Provider: providers.OpenAI, Model: "gpt-4o-mini", Order: 1}
	_, err := f.orchestrator.Generate(context.Background(), textRequest(), []CandidateDescriptor{first, second}, testTier)

	var exhausted *ExhaustedFallbackError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, first, exhausted.Errors[0].Candidate)
	assert.Equal(t, second, exhausted.Errors[1].Candidate)
}

func TestFallbackOrchestrator_CacheHit(t *testing.T) {
	gemini := succeeding(providers.Gemini, "cached insight")
	f := newOrchestratorFixture(t, OrchestratorConfig{}, gemini)
	cands := []CandidateDescriptor{geminiFlash}

	first, err := f.orchestrator.Generate(context.Background(), textRequest(), cands, testTier)
	require.NoError(t, err)

	req := textRequest()
	req.APIKeys = map[string]string{providers.Gemini: "user-key"}
	second, err := f.orchestrator.Generate(context.Background(), req, cands, testTier)
	require.NoError(t, err)

	assert.True(t, second.Cached)
	assert.Equal(t, 0, second.AttemptCount)
	assert.Equal(t, first.Payload, second.Payload)
	assert.Equal(t, first.ID, second.ID)
	gemini.AssertNumberOfCalls(t, "Generate", 1)

	f.clock.Advance(time.Minute)
	third, err := f.orchestrator.Generate(context.Background(), textRequest(), cands, testTier)
	require.NoError(t, err)
	assert.False(t, third.Cached, "expired entries are regenerated")
	gemini.AssertNumberOfCalls(t, "Generate", 2)
}

func TestFallbackOrchestrator_FailuresNotCached(t *testing.T) {
	gemini := newMockClient(providers.Gemini)
	gemini.On("Generate", mock.Anything, mock.Anything).Return(nil, errors.New("boom")).Once()
	gemini.On("Generate", mock.Anything, mock.Anything).Return(&providers.Response{Payload: "ok"}, nil).Once()
	f := newOrchestratorFixture(t, OrchestratorConfig{}, gemini)

	_, err := f.orchestrator.Generate(context.Background(), textRequest(), []CandidateDescriptor{geminiFlash}, testTier)
	require.Error(t, err)
	assert.Equal(t, 0, f.cache.Len())

	result, err := f.orchestrator.Generate(context.Background(), textRequest(), []CandidateDescriptor{geminiFlash}, testTier)
	require.NoError(t, err)
	assert.False(t, result.Cached)
}

func TestFallbackOrchestrator_UnknownProviderFallsThrough(t *testing.T) {
	openai := succeeding(providers.OpenAI, "ok")
	f := newOrchestratorFixture(t, OrchestratorConfig{}, openai)

	result, err := f.orchestrator.Generate(context.Background(), textRequest(), []CandidateDescriptor{
		{Provider: "mistral", Model: "large", Order: 0},
		gptMini,
	}, testTier)
	require.NoError(t, err)
	assert.Equal(t, providers.OpenAI, result.ProviderUsed)
}

func TestFallbackOrchestrator_ConfiguredChains(t *testing.T) {
	openai := succeeding(providers.OpenAI, "https://images.example/1.png")
	cfg := NewOrchestratorConfig(&conf.Resilience{Fallback: &conf.Fallback{Chains: map[string][]*conf.Candidate{
		"Image": {{Provider: providers.OpenAI, Model: "dall-e-3", Order: 0}},
	}}})
	f := newOrchestratorFixture(t, cfg, openai)

	req := &GenerationRequest{Kind: providers.KindImage, Prompt: "A thumbnail of a mountain"}
	result, err := f.orchestrator.Generate(context.Background(), req, nil, testTier)
	require.NoError(t, err)
	assert.Equal(t, "dall-e-3", result.ModelUsed)

	_, err = f.orchestrator.Generate(context.Background(), textRequest(), nil, testTier)
	assert.ErrorIs(t, err, ErrNoCandidates)
}

func TestFallbackOrchestrator_RejectsInvalidRequests(t *testing.T) {
	f := newOrchestratorFixture(t, OrchestratorConfig{})
	cands := []CandidateDescriptor{geminiFlash}

	_, err := f.orchestrator.Generate(context.Background(), &GenerationRequest{Prompt: "  "}, cands, testTier)
	assert.ErrorIs(t, err, ErrEmptyPrompt)

	_, err = f.orchestrator.Generate(context.Background(), &GenerationRequest{Kind: "audio", Prompt: "x"}, cands, testTier)
	assert.ErrorIs(t, err, ErrInvalidKind)

	_, err = f.orchestrator.Generate(context.Background(), textRequest(), cands, "platinum")
	assert.ErrorIs(t, err, ErrUnknownTier)
}

func TestFallbackOrchestrator_ContextCancelled(t *testing.T) {
	gemini := newMockClient(providers.Gemini)
	f := newOrchestratorFixture(t, OrchestratorConfig{}, gemini)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.orchestrator.Generate(ctx, textRequest(), []CandidateDescriptor{geminiFlash}, testTier)
	assert.ErrorIs(t, err, context.Canceled)
	var exhausted *ExhaustedFallbackError
	assert.False(t, errors.As(err, &exhausted))
	gemini.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestFallbackOrchestrator_SingleFlight(t *testing.T) {
	release := make(chan struct{})
	gemini := newMockClient(providers.Gemini)
	gemini.On("Generate", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { <-release }).
		Return(&providers.Response{Payload: "shared"}, nil)
	f := newOrchestratorFixture(t, OrchestratorConfig{SingleFlight: true}, gemini)

	const callers = 5
	var wg sync.WaitGroup
	results := make([]GenerationResult, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.orchestrator.Generate(context.Background(), textRequest(), []CandidateDescriptor{geminiFlash}, testTier)
		}(i)
	}

	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared", results[i].Payload)
	}
	gemini.AssertNumberOfCalls(t, "Generate", 1)
}

func TestFallbackOrchestrator_CacheKeyedByChain(t *testing.T) {
	openai := succeeding(providers.OpenAI, "from openai")
	anthropic := succeeding(providers.Anthropic, "from claude")
	f := newOrchestratorFixture(t, OrchestratorConfig{}, openai, anthropic)

	_, err := f.orchestrator.Generate(context.Background(), textRequest(), []CandidateDescriptor{gptMini, claudeHaiku}, testTier)
	require.NoError(t, err)

	result, err := f.orchestrator.Generate(context.Background(), textRequest(), []CandidateDescriptor{claudeHaiku}, testTier)
	require.NoError(t, err)
	assert.False(t, result.Cached)
	assert.Equal(t, providers.Anthropic, result.ProviderUsed)
	anthropic.AssertNumberOfCalls(t, "Generate", 1)

	result, err = f.orchestrator.Generate(context.Background(), textRequest(), []CandidateDescriptor{gptMini, claudeHaiku}, testTier)
	require.NoError(t, err)
	assert.True(t, result.Cached)
	assert.Equal(t, providers.OpenAI, result.ProviderUsed)
	openai.AssertNumberOfCalls(t, "Generate", 1)
}

func TestFallbackOrchestrator_SingleFlightLeaderCancelled(t *testing.T) {
	started := make(chan struct{})
	gemini := newMockClient(providers.Gemini)
	gemini.On("Generate", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			close(started)
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.Canceled).Once()
	gemini.On("Generate", mock.Anything, mock.Anything).
		Return(&providers.Response{Payload: "second run"}, nil).Once()
	f := newOrchestratorFixture(t, OrchestratorConfig{SingleFlight: true}, gemini)

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	defer cancelLeader()

	var (
		wg                     sync.WaitGroup
		leaderErr, followerErr error
		followerResult         GenerationResult
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, leaderErr = f.orchestrator.Generate(leaderCtx, textRequest(), []CandidateDescriptor{geminiFlash}, testTier)
	}()
	<-started

	wg.Add(1)
	go func() {
		defer wg.Done()
		followerResult, followerErr = f.orchestrator.Generate(context.Background(), textRequest(), []CandidateDescriptor{geminiFlash}, testTier)
	}()
	time.Sleep(50 * time.Millisecond)
	cancelLeader()
	wg.Wait()

	assert.ErrorIs(t, leaderErr, context.Canceled)
	require.NoError(t, followerErr)
	assert.Equal(t, "second run", followerResult.Payload)
	gemini.AssertNumberOfCalls(t, "Generate", 2)

	// the cancelled run says nothing about the provider
	snap := f.breakers.Get(providers.Gemini).Snapshot()
	assert.Equal(t, BreakerClosed, snap.State)
	assert.Equal(t, 0, snap.ConsecutiveFailures)
}

func TestNewOrchestratorConfig(t *testing.T) {
	cfg := NewOrchestratorConfig(nil)
	assert.Empty(t, cfg.Chains)
	assert.False(t, cfg.SingleFlight)

	cfg = NewOrchestratorConfig(&conf.Resilience{
		Cache: &conf.Cache{SingleFlight: true},
		Fallback: &conf.Fallback{Chains: map[string][]*conf.Candidate{
			"text": {{Provider: providers.Gemini, Model: "gemini-1.5-flash"}, nil, {Provider: providers.OpenAI, Model: "gpt-4o-mini", Order: 1}},
		}},
	})
	assert.True(t, cfg.SingleFlight)
	assert.Equal(t, []CandidateDescriptor{geminiFlash, gptMini}, cfg.Chains[providers.KindText])
}
