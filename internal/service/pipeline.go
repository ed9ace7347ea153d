package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/docsage/docsage/internal/model"
)

// FallbackAnswer covers the model returning an empty completion: the user
// always gets some text back.
const FallbackAnswer = "I was unable to generate an answer for this question. Please try again."

// ErrEmptyQuery is returned before anything is persisted or called.
var ErrEmptyQuery = errors.New("query must not be empty")

// Generator produces answers from an assembled context.
type Generator interface {
	Answer(ctx context.Context, system, prompt string) (string, error)
	AnswerStream(ctx context.Context, system, prompt string) (<-chan StreamDelta, error)
}

// MessageStore records conversation turns.
type MessageStore interface {
	AddMessage(ctx context.Context, documentID, userID, role, content string) (model.Message, error)
}

// Pipeline wires chunking, relevance filtering, context assembly, answer
// generation, persistence and the quota gate into one request cycle.
type Pipeline struct {
	messages MessageStore
	filter   *RelevanceFilter
	gen      Generator
	gate     *QuotaGate

	chunkSize    int
	chunkOverlap int
	logger       *log.Logger
}

func NewPipeline(messages MessageStore, filter *RelevanceFilter, gen Generator, gate *QuotaGate, chunkSize, chunkOverlap int, logger *log.Logger) *Pipeline {
	if logger == nil {
		logger = log.Default()
	}
	if chunkSize <= 0 {
		chunkSize = 2000
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 10
	}
	return &Pipeline{
		messages:     messages,
		filter:       filter,
		gen:          gen,
		gate:         gate,
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		logger:       logger,
	}
}

type AskInput struct {
	DocumentID   string
	DocumentText string
	UserID       string
	Tier         string
	Query        string
	Persona      Persona
}

type AskOutput struct {
	Answer         string
	Persona        Persona
	ChunksTotal    int
	ChunksRelevant int
}

// Ask runs the full cycle synchronously. The user's turn is persisted before
// any model work so it survives a pipeline failure; quota rejection happens
// after that persist and before any model call.
func (p *Pipeline) Ask(ctx context.Context, in AskInput) (AskOutput, error) {
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return AskOutput{}, ErrEmptyQuery
	}

	if _, err := p.messages.AddMessage(ctx, in.DocumentID, in.UserID, model.RoleUser, query); err != nil {
		return AskOutput{}, fmt.Errorf("persist user turn: %w", err)
	}

	decision, err := p.gate.Check(ctx, in.UserID, in.Tier)
	if err != nil {
		return AskOutput{}, err
	}

	answer, total, relevant, err := p.generate(ctx, in.DocumentText, query, in.Persona)
	if err != nil {
		return AskOutput{}, err
	}

	if _, err := p.messages.AddMessage(ctx, in.DocumentID, in.UserID, model.RoleAssistant, answer); err != nil {
		// Availability over durability: the user still gets the answer.
		p.logger.Printf("pipeline: persist assistant turn failed: %v", err)
	} else if err := p.gate.Commit(ctx, decision); err != nil {
		p.logger.Printf("pipeline: quota commit failed: %v", err)
	}

	return AskOutput{
		Answer:         answer,
		Persona:        in.Persona,
		ChunksTotal:    total,
		ChunksRelevant: relevant,
	}, nil
}

// AskStream runs the same cycle but forwards answer tokens as they arrive.
// The caller must drain the returned channel to its close; after the Done
// delta the assistant turn and quota commit complete on a detached context,
// so a client disconnect stops delivery but not persistence.
func (p *Pipeline) AskStream(ctx context.Context, in AskInput) (<-chan StreamDelta, error) {
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	if _, err := p.messages.AddMessage(ctx, in.DocumentID, in.UserID, model.RoleUser, query); err != nil {
		return nil, fmt.Errorf("persist user turn: %w", err)
	}

	decision, err := p.gate.Check(ctx, in.UserID, in.Tier)
	if err != nil {
		return nil, err
	}

	chunks := ChunkText(in.DocumentText, p.chunkSize, p.chunkOverlap)
	relevant := Relevant(p.filter.Filter(ctx, chunks, query))

	// Generation and its side effects outlive the request context: a client
	// that disconnects mid-stream still gets its turn recorded.
	genCtx := context.WithoutCancel(ctx)

	if len(relevant) == 0 {
		out := make(chan StreamDelta, 2)
		out <- StreamDelta{Content: NoRelevantInfoAnswer}
		out <- StreamDelta{Done: true}
		close(out)
		p.finishTurn(genCtx, in, decision, NoRelevantInfoAnswer)
		return out, nil
	}

	prompt := BuildAnswerPrompt(AssembleContext(relevant), query)
	deltas, err := p.gen.AnswerStream(genCtx, in.Persona.SystemPrompt(), prompt)
	if err != nil {
		return nil, fmt.Errorf("open answer stream: %w", err)
	}

	out := make(chan StreamDelta)
	go func() {
		defer close(out)
		var full strings.Builder
		for d := range deltas {
			full.WriteString(d.Content)
			if d.Done {
				answer := strings.TrimSpace(full.String())
				if d.Err != nil {
					p.logger.Printf("pipeline: answer stream failed: %v", d.Err)
					if answer == "" {
						// Nothing was shown, nothing to record.
						out <- d
						return
					}
					// A partial answer was already shown; record what the
					// user saw.
				} else if answer == "" {
					answer = FallbackAnswer
					out <- StreamDelta{Content: FallbackAnswer}
				}
				p.finishTurn(genCtx, in, decision, answer)
				out <- StreamDelta{Err: d.Err, Done: true}
				return
			}
			out <- d
		}
	}()
	return out, nil
}

// finishTurn persists the assistant turn and commits quota on a goroutine of
// its own. Fire-and-forget relative to the response: failures are logged,
// never surfaced.
func (p *Pipeline) finishTurn(ctx context.Context, in AskInput, decision Decision, answer string) {
	go func() {
		if _, err := p.messages.AddMessage(ctx, in.DocumentID, in.UserID, model.RoleAssistant, answer); err != nil {
			p.logger.Printf("pipeline: persist assistant turn failed: %v", err)
			return
		}
		if err := p.gate.Commit(ctx, decision); err != nil {
			p.logger.Printf("pipeline: quota commit failed: %v", err)
		}
	}()
}

// generate runs chunk → filter → assemble → answer and returns the final
// text plus chunk counts.
func (p *Pipeline) generate(ctx context.Context, documentText, query string, persona Persona) (answer string, total, relevantCount int, err error) {
	chunks := ChunkText(documentText, p.chunkSize, p.chunkOverlap)
	relevant := Relevant(p.filter.Filter(ctx, chunks, query))
	if len(relevant) == 0 {
		return NoRelevantInfoAnswer, len(chunks), 0, nil
	}

	prompt := BuildAnswerPrompt(AssembleContext(relevant), query)
	answer, err = p.gen.Answer(ctx, persona.SystemPrompt(), prompt)
	if err != nil {
		return "", 0, 0, fmt.Errorf("generate answer: %w", err)
	}
	if answer == "" {
		answer = FallbackAnswer
	}
	return answer, len(chunks), len(relevant), nil
}
