package model

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{context.DeadlineExceeded, KindTimeout},
		{context.Canceled, KindTimeout},
		{errors.New("request timeout after 30s"), KindTimeout},
		{errors.New("429 Too Many Requests"), KindRateLimited},
		{errors.New("rate limit exceeded"), KindRateLimited},
		{errors.New("503 Service Unavailable"), KindUnavailable},
		{errors.New("connection refused"), KindUnavailable},
		{errors.New("overloaded_error"), KindUnavailable},
		{errors.New("unexpected end of JSON input"), KindInvalidResponse},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.err), "%v", tt.err)
	}
}

func TestErrorKind_Transient(t *testing.T) {
	assert.True(t, KindTimeout.Transient())
	assert.True(t, KindRateLimited.Transient())
	assert.True(t, KindUnavailable.Transient())
	assert.False(t, KindInvalidResponse.Transient())
}

func TestError_Unwrap(t *testing.T) {
	inner := errors.New("boom")
	err := NewError(KindUnavailable, inner)
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "unavailable")
}

func TestMockModel_CannedAndEchoResponses(t *testing.T) {
	m := NewMockModel("test-model")
	m.AddResponse("where is my refund", "It is on its way.")

	resp, err := m.Complete(context.Background(), Request{Messages: []ChatMessage{
		{Role: "user", Text: "where is my refund"},
	}})
	require.NoError(t, err)
	assert.Equal(t, "It is on its way.", resp.Text)
	assert.Equal(t, "test-model", resp.Model)

	resp, err = m.Complete(context.Background(), Request{Messages: []ChatMessage{
		{Role: "user", Text: "something unscripted"},
		{Role: "assistant", Text: "earlier reply"},
	}})
	require.NoError(t, err)
	assert.Equal(t, "Mock response to: something unscripted", resp.Text)
	assert.Equal(t, 2, m.Calls())
}

func TestMockModel_ScriptedFailures(t *testing.T) {
	m := NewMockModel("test-model")
	m.AddResponse("hello", "hi there")
	m.FailNext(NewError(KindUnavailable, errors.New("backend down")))

	req := Request{Messages: []ChatMessage{{Role: "user", Text: "hello"}}}

	_, err := m.Complete(context.Background(), req)
	var modelErr *Error
	require.ErrorAs(t, err, &modelErr)
	assert.Equal(t, KindUnavailable, modelErr.Kind)

	// Scripted errors are consumed; the next call succeeds.
	resp, err := m.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "hi there", resp.Text)
}

func TestMockModel_RespectsCancelledContext(t *testing.T) {
	m := NewMockModel("test-model")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Complete(ctx, Request{})
	var modelErr *Error
	require.ErrorAs(t, err, &modelErr)
	assert.Equal(t, KindTimeout, modelErr.Kind)
	assert.Zero(t, m.Calls(), "cancelled calls are not counted")
}
