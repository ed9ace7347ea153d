package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/docsage/docsage/internal/model"
)

type memMessageStore struct {
	mu   sync.Mutex
	msgs []model.Message
	err  error
}

func (m *memMessageStore) AddMessage(_ context.Context, documentID, userID, role, content string) (model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return model.Message{}, m.err
	}
	msg := model.Message{
		DocumentID: documentID,
		UserID:     userID,
		Role:       role,
		Content:    content,
		CreatedAt:  time.Now(),
	}
	m.msgs = append(m.msgs, msg)
	return msg, nil
}

func (m *memMessageStore) byRole(role string) []model.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Message
	for _, msg := range m.msgs {
		if msg.Role == role {
			out = append(out, msg)
		}
	}
	return out
}

type stubGenerator struct {
	mu      sync.Mutex
	tokens  []string
	err     error
	prompts []string
	systems []string
}

func (g *stubGenerator) record(system, prompt string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.systems = append(g.systems, system)
	g.prompts = append(g.prompts, prompt)
}

func (g *stubGenerator) Answer(_ context.Context, system, prompt string) (string, error) {
	g.record(system, prompt)
	if g.err != nil {
		return "", g.err
	}
	return strings.TrimSpace(strings.Join(g.tokens, "")), nil
}

func (g *stubGenerator) AnswerStream(_ context.Context, system, prompt string) (<-chan StreamDelta, error) {
	g.record(system, prompt)
	if g.err != nil {
		return nil, g.err
	}
	out := make(chan StreamDelta, len(g.tokens)+1)
	for _, tok := range g.tokens {
		out <- StreamDelta{Content: tok}
	}
	out <- StreamDelta{Done: true}
	close(out)
	return out, nil
}

func (g *stubGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

func (g *stubGenerator) lastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.prompts) == 0 {
		return ""
	}
	return g.prompts[len(g.prompts)-1]
}

type pipelineFixture struct {
	pipeline *Pipeline
	msgs     *memMessageStore
	usage    *memUsageStore
	gen      *stubGenerator
}

func newFixture(decide func(chunk string) (bool, error), gen *stubGenerator, limit int) *pipelineFixture {
	msgs := &memMessageStore{}
	usage := newMemUsageStore()
	filter := NewRelevanceFilter(&stubClassifier{decide: decide}, time.Second, testLogger())
	gate := NewQuotaGate(usage, limit)
	return &pipelineFixture{
		pipeline: NewPipeline(msgs, filter, gen, gate, 2000, 200, testLogger()),
		msgs:     msgs,
		usage:    usage,
		gen:      gen,
	}
}

func askInput(text, query string) AskInput {
	return AskInput{
		DocumentID:   "doc-1",
		DocumentText: text,
		UserID:       "u1",
		Tier:         model.TierFree,
		Query:        query,
	}
}

func TestAskEmptyDocumentShortCircuits(t *testing.T) {
	gen := &stubGenerator{tokens: []string{"must not run"}}
	fx := newFixture(func(string) (bool, error) { return true, nil }, gen, 50)

	out, err := fx.pipeline.Ask(context.Background(), askInput("", "anything?"))
	require.NoError(t, err)
	require.Equal(t, NoRelevantInfoAnswer, out.Answer)
	require.Zero(t, out.ChunksTotal)
	require.Zero(t, gen.callCount(), "empty document must not reach the generator")

	require.Len(t, fx.msgs.byRole(model.RoleUser), 1)
	assistant := fx.msgs.byRole(model.RoleAssistant)
	require.Len(t, assistant, 1)
	require.Equal(t, NoRelevantInfoAnswer, assistant[0].Content)
}

func TestAskNoRelevantChunksShortCircuits(t *testing.T) {
	gen := &stubGenerator{tokens: []string{"must not run"}}
	fx := newFixture(func(string) (bool, error) { return false, nil }, gen, 50)

	out, err := fx.pipeline.Ask(context.Background(), askInput(strings.Repeat("plain text ", 300), "anything?"))
	require.NoError(t, err)
	require.Equal(t, NoRelevantInfoAnswer, out.Answer)
	require.NotZero(t, out.ChunksTotal)
	require.Zero(t, out.ChunksRelevant)
	require.Zero(t, gen.callCount())
}

func TestAskEmptyQuery(t *testing.T) {
	gen := &stubGenerator{}
	fx := newFixture(func(string) (bool, error) { return true, nil }, gen, 50)

	_, err := fx.pipeline.Ask(context.Background(), askInput("text", "   "))
	require.ErrorIs(t, err, ErrEmptyQuery)
	require.Empty(t, fx.msgs.msgs, "nothing may be persisted for an empty query")
}

// A 3000-char document where "refund" appears only past the first window:
// the generator must see the second chunk's text and none of the first
// chunk's exclusive region.
func TestAskContextContainsOnlyRelevantChunks(t *testing.T) {
	head := ("HEADMARKER " + strings.Repeat("filler. ", 230))[:1800]
	// Keep "refund" past offset 2000 so it lands outside the first window
	// (0..2000) and inside the second (1800..end) only.
	neutral := strings.Repeat("pad text ", 28)[:250]
	text := head + neutral + "The refund policy allows returns within 30 days. " + strings.Repeat("more text. ", 90)
	require.GreaterOrEqual(t, len(text), 3000)

	gen := &stubGenerator{tokens: []string{"Refunds are allowed within 30 days."}}
	fx := newFixture(func(chunk string) (bool, error) {
		return strings.Contains(chunk, "refund"), nil
	}, gen, 50)

	out, err := fx.pipeline.Ask(context.Background(), askInput(text, "what is the refund policy?"))
	require.NoError(t, err)
	require.Equal(t, "Refunds are allowed within 30 days.", out.Answer)
	require.Equal(t, 1, out.ChunksRelevant)

	prompt := gen.lastPrompt()
	require.Contains(t, prompt, "refund policy allows returns")
	require.NotContains(t, prompt, "HEADMARKER", "irrelevant chunk text must not reach the generator")
	require.Contains(t, prompt, "User Question: what is the refund policy?")
}

func TestAskFallbackOnEmptyCompletion(t *testing.T) {
	gen := &stubGenerator{tokens: nil} // model returns nothing
	fx := newFixture(func(string) (bool, error) { return true, nil }, gen, 50)

	out, err := fx.pipeline.Ask(context.Background(), askInput("some document text", "q?"))
	require.NoError(t, err)
	require.Equal(t, FallbackAnswer, out.Answer)
}

func TestAskGeneratorFailurePropagatesButKeepsUserTurn(t *testing.T) {
	gen := &stubGenerator{err: errors.New("model unreachable")}
	fx := newFixture(func(string) (bool, error) { return true, nil }, gen, 50)

	_, err := fx.pipeline.Ask(context.Background(), askInput("some document text", "q?"))
	require.Error(t, err)
	require.Len(t, fx.msgs.byRole(model.RoleUser), 1, "user turn persists even when the pipeline fails")
	require.Empty(t, fx.msgs.byRole(model.RoleAssistant))
}

func TestAskQuotaRejection(t *testing.T) {
	gen := &stubGenerator{tokens: []string{"nope"}}
	fx := newFixture(func(string) (bool, error) { return true, nil }, gen, 1)
	fx.usage.usage["u1"] = model.Usage{UserID: "u1", Count: 1, LastReset: time.Now()}

	_, err := fx.pipeline.Ask(context.Background(), askInput("text", "q?"))
	require.ErrorIs(t, err, ErrQuotaExceeded)
	require.Zero(t, gen.callCount(), "rejected requests must not reach the model")
	require.Len(t, fx.msgs.byRole(model.RoleUser), 1, "the user turn is recorded before the gate")
	require.Empty(t, fx.msgs.byRole(model.RoleAssistant))
	require.Equal(t, 1, fx.usage.usage["u1"].Count, "a rejected request is not charged")
}

func TestAskChargesQuotaAfterSuccess(t *testing.T) {
	gen := &stubGenerator{tokens: []string{"answer"}}
	fx := newFixture(func(string) (bool, error) { return true, nil }, gen, 50)
	fx.usage.usage["u1"] = model.Usage{UserID: "u1", Count: 2, LastReset: time.Now().Add(-time.Hour)}

	_, err := fx.pipeline.Ask(context.Background(), askInput("text", "q?"))
	require.NoError(t, err)
	require.Equal(t, 3, fx.usage.usage["u1"].Count)
}

func TestAskPaidTierSkipsCounter(t *testing.T) {
	gen := &stubGenerator{tokens: []string{"answer"}}
	fx := newFixture(func(string) (bool, error) { return true, nil }, gen, 1)

	in := askInput("text", "q?")
	in.Tier = "pro"
	for i := 0; i < 3; i++ {
		_, err := fx.pipeline.Ask(context.Background(), in)
		require.NoError(t, err)
	}
	_, tracked := fx.usage.usage["u1"]
	require.False(t, tracked, "paid tiers must not touch the counter")
}

func collectStream(t *testing.T, deltas <-chan StreamDelta) string {
	t.Helper()
	var b strings.Builder
	for d := range deltas {
		require.NoError(t, d.Err)
		b.WriteString(d.Content)
	}
	return b.String()
}

func TestAskStreamMatchesSingleShot(t *testing.T) {
	decide := func(string) (bool, error) { return true, nil }
	text := "the document body"
	query := "q?"

	genA := &stubGenerator{tokens: []string{"The ", "answer ", "is ", "42."}}
	fxA := newFixture(decide, genA, 50)
	single, err := fxA.pipeline.Ask(context.Background(), askInput(text, query))
	require.NoError(t, err)

	genB := &stubGenerator{tokens: []string{"The ", "answer ", "is ", "42."}}
	fxB := newFixture(decide, genB, 50)
	deltas, err := fxB.pipeline.AskStream(context.Background(), askInput(text, query))
	require.NoError(t, err)
	streamed := collectStream(t, deltas)

	require.Equal(t, single.Answer, strings.TrimSpace(streamed))
	require.Equal(t, genA.lastPrompt(), genB.lastPrompt(), "both modes must build the same prompt")
}

func TestAskStreamPersistsTurnAndChargesQuota(t *testing.T) {
	gen := &stubGenerator{tokens: []string{"streamed ", "answer"}}
	fx := newFixture(func(string) (bool, error) { return true, nil }, gen, 50)

	deltas, err := fx.pipeline.AskStream(context.Background(), askInput("text", "q?"))
	require.NoError(t, err)
	streamed := collectStream(t, deltas)
	require.Equal(t, "streamed answer", streamed)

	// Persistence is detached from the stream; wait for it.
	require.Eventually(t, func() bool {
		return len(fx.msgs.byRole(model.RoleAssistant)) == 1
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, "streamed answer", fx.msgs.byRole(model.RoleAssistant)[0].Content)

	require.Eventually(t, func() bool {
		return fx.usage.count("u1") == 1
	}, time.Second, 10*time.Millisecond)
}

func TestAskStreamEmptyDocumentShortCircuits(t *testing.T) {
	gen := &stubGenerator{tokens: []string{"must not run"}}
	fx := newFixture(func(string) (bool, error) { return true, nil }, gen, 50)

	deltas, err := fx.pipeline.AskStream(context.Background(), askInput("", "q?"))
	require.NoError(t, err)
	require.Equal(t, NoRelevantInfoAnswer, collectStream(t, deltas))
	require.Zero(t, gen.callCount())

	require.Eventually(t, func() bool {
		return len(fx.msgs.byRole(model.RoleAssistant)) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestAskStreamQuotaRejection(t *testing.T) {
	gen := &stubGenerator{tokens: []string{"nope"}}
	fx := newFixture(func(string) (bool, error) { return true, nil }, gen, 1)
	fx.usage.usage["u1"] = model.Usage{UserID: "u1", Count: 1, LastReset: time.Now()}

	_, err := fx.pipeline.AskStream(context.Background(), askInput("text", "q?"))
	require.ErrorIs(t, err, ErrQuotaExceeded)
	require.Len(t, fx.msgs.byRole(model.RoleUser), 1)
	require.Empty(t, fx.msgs.byRole(model.RoleAssistant))
}
