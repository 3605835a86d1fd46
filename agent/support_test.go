package agent

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadline-ai/threadline/core"
	"github.com/threadline-ai/threadline/model"
)

func sessionWithHistory(bodies ...string) *core.Session {
	sess := core.NewSession("sess-1", "thread-1")
	now := time.Now()
	for i, body := range bodies {
		dir := core.DirectionInbound
		if i%2 == 1 {
			dir = core.DirectionOutbound
		}
		sess.Messages = append(sess.Messages, core.Message{
			ID:         core.NewID(),
			Body:       body,
			Direction:  dir,
			ReceivedAt: now.Add(time.Duration(i) * time.Second),
		})
	}
	return sess
}

func TestSupportAgent_GeneratesReply(t *testing.T) {
	backend := model.NewMockModel("test-model")
	backend.AddResponse("how do I reset my password?", "Open Settings > Security and choose Reset Password.")

	a := NewSupportAgent(backend)
	out, err := a.Invoke(newTurnContext(t, nil, "how do I reset my password?"))
	require.NoError(t, err)
	assert.Equal(t, "Open Settings > Security and choose Reset Password.", out.ReplyFragment)
	assert.Equal(t, core.SignalNone, out.Signal)
	assert.True(t, out.Patch.IsEmpty())
}

func TestSupportAgent_PropagatesBackendError(t *testing.T) {
	backend := model.NewMockModel("test-model")
	backend.FailNext(model.NewError(model.KindRateLimited, errors.New("429")))

	a := NewSupportAgent(backend)
	_, err := a.Invoke(newTurnContext(t, nil, "hello"))
	require.Error(t, err)

	// The classified kind must survive wrapping so the executor can retry.
	var merr *model.Error
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, model.KindRateLimited, merr.Kind)
}

func TestSupportAgent_HistoryWindow(t *testing.T) {
	sess := sessionWithHistory(
		"first question", "first answer",
		"second question", "second answer",
		"third question", "third answer",
	)
	backend := model.NewMockModel("test-model")
	a := NewSupportAgent(backend, func(o *SupportAgentOptions) { o.HistoryWindow = 4 })

	tc := newTurnContext(t, sess, "fourth question")
	msgs := a.buildMessages(tc)

	// Four history turns plus the in-flight inbound message.
	require.Len(t, msgs, 5)
	assert.Equal(t, "second question", msgs[0].Text)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "second answer", msgs[1].Text)
	assert.Equal(t, "assistant", msgs[1].Role)
	assert.Equal(t, "fourth question", msgs[4].Text)
	assert.Equal(t, "user", msgs[4].Role)
}

func TestSupportAgent_SystemPromptCarriesStagedFacts(t *testing.T) {
	backend := model.NewMockModel("test-model")
	a := NewSupportAgent(backend)

	tc := newTurnContext(t, nil, "this broken app makes me so frustrated")
	classifier := NewIntentAgent()
	out, err := classifier.Invoke(tc)
	require.NoError(t, err)
	tc.Absorb(out)

	system := a.buildSystem(tc)
	assert.Contains(t, system, "technical")
	assert.Contains(t, system, "frustrat")
}
