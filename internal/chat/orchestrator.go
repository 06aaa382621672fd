package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"kinechat/internal/logger"
	"kinechat/internal/models"
	"kinechat/internal/retrieval"
)

// ApologyText is returned to the user whenever a turn fails.
const ApologyText = "Lo siento, hubo un error al procesar tu mensaje. Por favor, intenta nuevamente."

const persistTimeout = 5 * time.Second

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Searcher interface {
	Search(ctx context.Context, vector []float32, threshold float64, topK int) []models.RetrievalResult
	Threshold() float64
	TopK() int
}

type Generator interface {
	Generate(ctx context.Context, prompt models.PromptContext) (string, error)
}

type HistoryStore interface {
	Append(ctx context.Context, sessionID string, msg models.Message) error
	Recent(ctx context.Context, sessionID string, limit int) ([]models.Message, error)
}

// Deliverer pushes an answer to the session's open stream, if any.
type Deliverer interface {
	Deliver(ctx context.Context, sessionID string, payload any) (bool, error)
}

type Options struct {
	HistoryWindow   int
	PersistFailures bool
	// Echo, when set, also pushes every answer to the session's stream.
	Echo Deliverer
}

// Orchestrator runs one chat turn end to end.
type Orchestrator struct {
	embedder  Embedder
	retriever Searcher
	assembler *Assembler
	generator Generator
	history   HistoryStore
	opts      Options
}

func NewOrchestrator(embedder Embedder, retriever Searcher, assembler *Assembler, generator Generator, history HistoryStore, opts Options) *Orchestrator {
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = DefaultHistoryWindow
	}
	return &Orchestrator{
		embedder:  embedder,
		retriever: retriever,
		assembler: assembler,
		generator: generator,
		history:   history,
		opts:      opts,
	}
}

type Request struct {
	SessionID string
	Message   string
	Timestamp time.Time
}

// Result describes a finished turn. Answer is ApologyText when Err is set.
type Result struct {
	SessionID string
	Answer    string
	Documents int
	Trace     []State
	Err       error
	Timestamp time.Time
}

// Final returns the terminal state of the turn.
func (r *Result) Final() State {
	if len(r.Trace) == 0 {
		return StateReceived
	}
	return r.Trace[len(r.Trace)-1]
}

// Handle runs the pipeline. Embedding, retrieval and history failures are
// logged and absorbed; only empty input and generation failures set
// Result.Err, which is also returned.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (*Result, error) {
	res := &Result{SessionID: req.SessionID, Timestamp: time.Now().UTC()}
	res.Trace = append(res.Trace, StateReceived)

	ctx = logger.WithStr(ctx, "session_id", req.SessionID)
	log := logger.FromCtx(ctx)

	query := strings.TrimSpace(req.Message)
	if query == "" {
		return o.fail(res, fmt.Errorf("chat: %w: empty message", models.ErrInvalidInput))
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = res.Timestamp
	}

	history, err := o.history.Recent(ctx, req.SessionID, o.opts.HistoryWindow)
	if err != nil {
		log.Warn().Err(err).Msg("history read failed, continuing without history")
		history = nil
	}

	res.Trace = append(res.Trace, StateEmbedding)
	vector, err := o.embedder.Embed(ctx, retrieval.RewriteQuery(query))
	if err != nil {
		log.Warn().Err(err).Msg("embedding failed, continuing without documents")
		vector = nil
	}

	res.Trace = append(res.Trace, StateRetrieving)
	var docs []models.RetrievalResult
	if vector != nil {
		docs = o.retriever.Search(ctx, vector, o.retriever.Threshold(), o.retriever.TopK())
	}
	res.Documents = len(docs)
	log.Debug().Int("documents", len(docs)).Msg("retrieval finished")

	res.Trace = append(res.Trace, StateAssembling)
	prompt := o.assembler.Build(history, docs, query)

	res.Trace = append(res.Trace, StateGenerating)
	answer, genErr := o.generator.Generate(ctx, prompt)
	if genErr != nil {
		log.Error().Err(genErr).Str("kind", models.ErrorCode(genErr)).Msg("generation failed")
		answer = ApologyText
	}

	if genErr == nil || o.opts.PersistFailures {
		res.Trace = append(res.Trace, StatePersisting)
		o.persist(ctx, req.SessionID,
			models.NewMessage(req.SessionID, models.RoleUser, query, req.Timestamp),
			models.NewMessage(req.SessionID, models.RoleAssistant, answer, time.Now().UTC()),
		)
	}

	if genErr != nil {
		return o.fail(res, genErr)
	}

	res.Answer = answer
	res.Trace = append(res.Trace, StateDelivered)
	o.echo(ctx, req.SessionID, answer)
	return res, nil
}

func (o *Orchestrator) fail(res *Result, err error) (*Result, error) {
	res.Answer = ApologyText
	res.Err = err
	res.Trace = append(res.Trace, StateFailed)
	return res, err
}

// persist writes turns on a context detached from the request so a client
// abort after generation does not drop history.
func (o *Orchestrator) persist(ctx context.Context, sessionID string, turns ...models.Message) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	for _, turn := range turns {
		if err := o.history.Append(pctx, sessionID, turn); err != nil {
			logger.FromCtx(ctx).Warn().
				Err(fmt.Errorf("%w: %w", models.ErrPersistenceFailed, err)).
				Str("role", string(turn.Role)).
				Msg("history append failed")
		}
	}
}

func (o *Orchestrator) echo(ctx context.Context, sessionID, answer string) {
	if o.opts.Echo == nil {
		return
	}
	payload := models.RelayPayload{Text: answer, MessageType: "chat"}
	if _, err := o.opts.Echo.Deliver(ctx, sessionID, payload); err != nil {
		logger.FromCtx(ctx).Warn().Err(err).Msg("echo to stream failed")
	}
}
