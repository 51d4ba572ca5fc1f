package chat

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSession_Initial(t *testing.T) {
	s := NewSession()
	assert.Empty(t, s.ID)
	assert.Empty(t, s.History)
	assert.False(t, s.Busy)
	assert.Equal(t, ViewChat, s.ActiveView)
}

func TestAppendUserMessage_RejectsBlank(t *testing.T) {
	for _, text := range []string{"", " ", "\t\n", "   \r\n  "} {
		s := NewSession()
		s.SetPendingInput(text)
		assert.False(t, s.AppendUserMessage(text), "text %q", text)
		assert.Empty(t, s.History, "text %q", text)
		assert.False(t, s.Busy)
		assert.Equal(t, text, s.PendingInput, "rejected input stays in the buffer")
	}
}

func TestAppendUserMessage_Accepts(t *testing.T) {
	s := NewSession()
	s.SetPendingInput("Analyze spending")

	require.True(t, s.AppendUserMessage("Analyze spending"))
	require.Len(t, s.History, 1)
	assert.Equal(t, Message{Text: "Analyze spending", Sender: SenderUser}, s.History[0])
	assert.Empty(t, s.PendingInput)
	assert.True(t, s.Busy)
}

func TestAppendUserMessage_RejectsWhileBusy(t *testing.T) {
	s := NewSession()
	require.True(t, s.AppendUserMessage("first"))
	assert.False(t, s.AppendUserMessage("second"))
	assert.Len(t, s.History, 1)
}

func TestApplyAssistantResult_AdoptsSessionIDOnce(t *testing.T) {
	s := NewSession()
	s.AppendUserMessage("one")
	s.ApplyAssistantResult(Result{Answer: "a1", SessionID: "abc123"})
	assert.Equal(t, "abc123", s.ID)
	assert.False(t, s.Busy)

	s.AppendUserMessage("two")
	s.ApplyAssistantResult(Result{Answer: "a2", SessionID: "zzz999"})
	assert.Equal(t, "abc123", s.ID, "adopted id must never be overwritten")
	require.Len(t, s.History, 4)
	assert.Equal(t, SenderAssistant, s.History[3].Sender)
}

func TestApplyAssistantResult_EmptySessionIDKeepsNull(t *testing.T) {
	s := NewSession()
	s.AppendUserMessage("q")
	s.ApplyAssistantResult(Result{Answer: "a"})
	assert.Empty(t, s.ID)
}

func TestApplyAssistantResult_ProjectsCitations(t *testing.T) {
	s := NewSession()
	s.AppendUserMessage("q")
	s.ApplyAssistantResult(Result{
		Answer: "a",
		Citations: []CitationGroup{{RetrievedReferences: []Reference{
			{Metadata: &Metadata{Title: "Pricing"}, Location: &Location{S3Location: &S3Location{URI: "s3://b/p.csv"}}},
		}}},
	})
	require.Len(t, s.History, 2)
	assert.Equal(t, []Citation{{Title: "Pricing", URI: "s3://b/p.csv"}}, s.History[1].Citations)
}

func TestApplyAssistantFailure(t *testing.T) {
	s := NewSession()
	s.AppendUserMessage("q")
	s.ApplyAssistantFailure()

	require.Len(t, s.History, 2)
	assert.Equal(t, Message{Text: FailureText, Sender: SenderAssistant}, s.History[1])
	assert.False(t, s.Busy)
	assert.Empty(t, s.ID)
}

func TestSetActiveView_DoesNotTouchBusyOrHistory(t *testing.T) {
	s := NewSession()
	s.AppendUserMessage("q")
	s.ApplyDashboardData(json.RawMessage(`{"x":1}`))

	for _, v := range Views {
		eff := s.SetActiveView(v)
		assert.Equal(t, EffectNone, eff.Kind)
		assert.Equal(t, v, s.ActiveView)
		assert.True(t, s.Busy)
		assert.Len(t, s.History, 1)
	}
}

func TestSetActiveView_LoadsDashboardOnce(t *testing.T) {
	s := NewSession()
	assert.Equal(t, EffectNone, s.SetActiveView(ViewChat).Kind)

	eff := s.SetActiveView(ViewCost)
	assert.Equal(t, EffectLoadDashboard, eff.Kind)
	assert.True(t, s.Dashboard.Loading)

	// A second switch while loading does not start another load.
	assert.Equal(t, EffectNone, s.SetActiveView(ViewRegions).Kind)

	s.ApplyDashboardData(json.RawMessage(`[]`))
	assert.True(t, s.Dashboard.Available())
	assert.Equal(t, EffectNone, s.SetActiveView(ViewInstances).Kind)
}

func TestSetActiveView_RetriesAfterFailure(t *testing.T) {
	s := NewSession()
	s.SetActiveView(ViewCost)
	s.ApplyDashboardFailure()
	assert.True(t, s.Dashboard.Unavailable)
	assert.False(t, s.Dashboard.Loading)

	assert.Equal(t, EffectLoadDashboard, s.SetActiveView(ViewResources).Kind)
}

func TestSubmit(t *testing.T) {
	s := NewSession()
	assert.Equal(t, EffectNone, s.Submit().Kind, "empty input")

	s.SetPendingInput("How much did we spend?")
	eff := s.Submit()
	assert.Equal(t, Effect{Kind: EffectDispatch, Query: "How much did we spend?"}, eff)

	s.SetPendingInput("again")
	assert.Equal(t, EffectNone, s.Submit().Kind, "busy")
}

func TestSubmit_CarriesAdoptedSessionID(t *testing.T) {
	s := NewSession()
	s.SetPendingInput("one")
	s.Submit()
	s.ApplyAssistantResult(Result{Answer: "a", SessionID: "abc123"})

	s.SetPendingInput("two")
	eff := s.Submit()
	assert.Equal(t, "abc123", eff.SessionID)
}

func TestReset(t *testing.T) {
	s := NewSession()
	s.SetActiveView(ViewCost)
	s.ApplyDashboardData(json.RawMessage(`{}`))
	s.AppendUserMessage("q")
	s.ApplyAssistantResult(Result{Answer: "a", SessionID: "abc"})
	s.SetPendingInput("draft")

	s.Reset()
	assert.Equal(t, *NewSession(), *s)
}

func TestClone_Independent(t *testing.T) {
	s := NewSession()
	s.AppendUserMessage("q")
	c := s.Clone()
	s.ApplyAssistantFailure()
	assert.Len(t, c.History, 1)
	assert.Len(t, s.History, 2)
}

func TestParseView(t *testing.T) {
	v, err := ParseView(" Regions ")
	require.NoError(t, err)
	assert.Equal(t, ViewRegions, v)

	_, err = ParseView("billing")
	assert.ErrorContains(t, err, "unknown view")
}

func TestAskFromCard_Idle(t *testing.T) {
	s := NewSession()
	s.SetActiveView(ViewInstances)

	eff := AskFromCard(s, "Identify underutilized instances")
	assert.Equal(t, ViewChat, s.ActiveView)
	assert.Equal(t, EffectDispatch, eff.Kind)
	assert.Equal(t, "Identify underutilized instances", eff.Query)
	require.Len(t, s.History, 1)
	assert.Equal(t, "Identify underutilized instances", s.History[0].Text)
}

func TestAskFromCard_RejectedWhileBusy(t *testing.T) {
	s := NewSession()
	s.SetPendingInput("typed")
	require.Equal(t, EffectDispatch, s.Submit().Kind)
	s.SetActiveView(ViewCost)

	eff := AskFromCard(s, "Track cost trends over time to forecast future spending")
	assert.Equal(t, EffectNone, eff.Kind)
	assert.Equal(t, ViewChat, s.ActiveView)
	assert.Equal(t, "Track cost trends over time to forecast future spending", s.PendingInput)
	assert.Len(t, s.History, 1)
}
