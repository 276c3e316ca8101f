package llmrouter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kerrors "github.com/kira-host/kira/infrastructure/errors"
)

type fakeProvider struct {
	name     string
	calls    int
	fail     int // number of leading calls that fail
	failWith error
	resp     *Response
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Complete(_ context.Context, _ Request) (*Response, error) {
	f.calls++
	if f.calls <= f.fail {
		return nil, f.failWith
	}
	if f.resp != nil {
		return f.resp, nil
	}
	return &Response{Content: "ok", FinishReason: "stop"}, nil
}

func newTestRouter(t *testing.T, primary, local Provider, maxRetries int) *Router {
	t.Helper()
	r := New(Config{
		PlanningProvider:    "primary",
		StructuringProvider: "primary",
		DefaultProvider:     "primary",
		EnableLocalFallback: local != nil,
		LocalFallback:       local,
		MaxRetries:          maxRetries,
	})
	r.Register(primary)
	if local != nil {
		r.Register(local)
	}
	return r
}

func TestCompleteRoutesByTaskType(t *testing.T) {
	primary := &fakeProvider{name: "primary", resp: &Response{Content: "planned"}}
	r := newTestRouter(t, primary, nil, 3)

	resp, err := r.Complete(context.Background(), Request{TaskType: TaskPlanning})
	require.NoError(t, err)
	assert.Equal(t, "planned", resp.Content)
}

func TestCompleteUnknownProviderIsNotFound(t *testing.T) {
	r := New(Config{DefaultProvider: "missing"})

	_, err := r.Complete(context.Background(), Request{TaskType: TaskDefault})
	require.Error(t, err)
	assert.Equal(t, kerrors.ErrCodeNotFound, kerrors.GetServiceError(err).Code)
}

func TestCompleteRetriesRetryableErrorThenSucceeds(t *testing.T) {
	primary := &fakeProvider{name: "primary", fail: 2, failWith: kerrors.Timeout("complete")}
	r := newTestRouter(t, primary, nil, 5)

	resp, err := r.Complete(context.Background(), Request{TaskType: TaskDefault})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 3, primary.calls)
}

func TestCompleteNonRetryableErrorSurfacesImmediatelyWithoutFallback(t *testing.T) {
	primary := &fakeProvider{name: "primary", fail: 99, failWith: kerrors.InvalidInput("prompt", "too long")}
	local := &fakeProvider{name: "local", resp: &Response{Content: "local"}}
	r := newTestRouter(t, primary, local, 3)

	_, err := r.Complete(context.Background(), Request{TaskType: TaskDefault})
	require.Error(t, err)
	assert.Equal(t, kerrors.ErrCodeInvalidInput, kerrors.GetServiceError(err).Code)
	assert.Equal(t, 1, primary.calls, "a non-retryable error must not be retried")
	assert.Equal(t, 0, local.calls, "a non-retryable error must not fall back either")
}

func TestCompleteFallsBackToLocalAfterPrimaryExhausted(t *testing.T) {
	primary := &fakeProvider{name: "primary", fail: 99, failWith: kerrors.Timeout("complete")}
	local := &fakeProvider{name: "local", resp: &Response{Content: "local-said-hi"}}
	r := newTestRouter(t, primary, local, 2)

	resp, err := r.Complete(context.Background(), Request{TaskType: TaskDefault})
	require.NoError(t, err)
	assert.Equal(t, "local-said-hi", resp.Content)
	assert.Equal(t, 2, primary.calls)
	assert.Equal(t, 1, local.calls)
}

func TestCompleteNoFallbackConfiguredReturnsError(t *testing.T) {
	primary := &fakeProvider{name: "primary", fail: 99, failWith: kerrors.Timeout("complete")}
	r := newTestRouter(t, primary, nil, 2)

	_, err := r.Complete(context.Background(), Request{TaskType: TaskDefault})
	require.Error(t, err)
	assert.Equal(t, kerrors.ErrCodeExternalAPI, kerrors.GetServiceError(err).Code)
}

func TestCompleteServesStaleCacheAfterSubsequentFailureWithNoFallback(t *testing.T) {
	primary := &fakeProvider{name: "primary", resp: &Response{Content: "first-answer"}}
	r := newTestRouter(t, primary, nil, 2)

	resp, err := r.Complete(context.Background(), Request{TaskType: TaskDefault})
	require.NoError(t, err)
	assert.Equal(t, "first-answer", resp.Content)

	primary.fail = 99
	primary.failWith = kerrors.Timeout("complete")
	primary.calls = 0

	resp, err = r.Complete(context.Background(), Request{TaskType: TaskDefault})
	require.NoError(t, err, "a prior successful response should be served stale rather than erroring")
	assert.Equal(t, "first-answer", resp.Content)
}

func TestIsRetryableClassifiesKnownErrorCodes(t *testing.T) {
	assert.True(t, isRetryable(kerrors.Timeout("x")))
	assert.True(t, isRetryable(kerrors.RateLimitExceeded(10, "1m")))
	assert.False(t, isRetryable(kerrors.InvalidInput("x", "y")))
	assert.False(t, isRetryable(assertAnyError{}))
}

type assertAnyError struct{}

func (assertAnyError) Error() string { return "unclassified" }
