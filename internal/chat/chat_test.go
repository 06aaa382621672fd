package chat

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"kinechat/internal/models"
	"kinechat/internal/retrieval"
	"kinechat/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	vector []float32
	err    error
	texts  []string
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.texts = append(f.texts, text)
	return f.vector, f.err
}

type fakeGenerator struct {
	answer  string
	err     error
	prompts []models.PromptContext
}

func (f *fakeGenerator) Generate(_ context.Context, p models.PromptContext) (string, error) {
	f.prompts = append(f.prompts, p)
	return f.answer, f.err
}

type failingHistory struct{}

func (failingHistory) Append(context.Context, string, models.Message) error {
	return errors.New("disk full")
}

func (failingHistory) Recent(context.Context, string, int) ([]models.Message, error) {
	return nil, errors.New("disk full")
}

type recordingDeliverer struct {
	mu       sync.Mutex
	payloads []any
}

func (d *recordingDeliverer) Deliver(_ context.Context, _ string, payload any) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.payloads = append(d.payloads, payload)
	return true, nil
}

func doc(id, content string, sim float64) models.RetrievalResult {
	return models.RetrievalResult{Document: models.Document{ID: id, Content: content}, Similarity: sim}
}

func TestBuildIsDeterministic(t *testing.T) {
	a := NewAssembler("", 5)
	history := []models.Message{
		models.NewMessage("s", models.RoleUser, "hola", time.Unix(1, 0)),
		models.NewMessage("s", models.RoleAssistant, "¡hola!", time.Unix(2, 0)),
	}
	docs := []models.RetrievalResult{doc("1", "uno", 0.7), doc("2", "dos", 0.9)}

	first := a.Build(history, docs, "¿malla?")
	second := a.Build(history, docs, "¿malla?")
	assert.Equal(t, first, second)
	assert.Equal(t, "¿malla?", first.Query)
}

func TestBuildOrdersSections(t *testing.T) {
	a := NewAssembler("PREAMBLE", 5)
	docs := []models.RetrievalResult{doc("low", "contenido bajo", 0.55), doc("high", "contenido alto", 0.624)}
	history := []models.Message{models.NewMessage("s", models.RoleUser, "pregunta previa", time.Unix(1, 0))}

	p := a.Build(history, docs, "pregunta actual").Prompt

	assert.True(t, strings.HasPrefix(p, "PREAMBLE\n\n"))
	assert.Contains(t, p, "[Documento 1 (relevancia: 62%)]\ncontenido alto")
	assert.Contains(t, p, "[Documento 2 (relevancia: 55%)]\ncontenido bajo")
	assert.NotContains(t, p, NoDocumentsNotice)

	iDocs := strings.Index(p, "[Documento 1")
	iHist := strings.Index(p, "Usuario: pregunta previa")
	iQuery := strings.Index(p, "Pregunta del usuario: pregunta actual")
	require.True(t, iDocs > 0 && iHist > 0 && iQuery > 0)
	assert.Less(t, iDocs, iHist)
	assert.Less(t, iHist, iQuery)
	assert.True(t, strings.HasSuffix(p, "Respuesta:"))
}

func TestBuildWithoutDocumentsAddsNotice(t *testing.T) {
	p := NewAssembler("", 5).Build(nil, nil, "What is kinesiology?").Prompt
	assert.Contains(t, p, NoDocumentsNotice)
	assert.NotContains(t, p, "[Documento")
	assert.NotContains(t, p, "Historial de conversación")
}

func TestBuildKeepsLastFiveTurnsOldestFirst(t *testing.T) {
	var history []models.Message
	for i := 0; i < 7; i++ {
		history = append(history, models.NewMessage("s", models.RoleUser, fmt.Sprintf("m%d", i), time.Unix(int64(i), 0)))
	}
	p := NewAssembler("", 5).Build(history, nil, "q").Prompt

	assert.NotContains(t, p, "Usuario: m0\n")
	assert.NotContains(t, p, "Usuario: m1\n")
	last := -1
	for i := 2; i < 7; i++ {
		idx := strings.Index(p, fmt.Sprintf("Usuario: m%d\n", i))
		require.GreaterOrEqual(t, idx, 0)
		assert.Greater(t, idx, last)
		last = idx
	}
}

func TestBuildNeverTruncatesDocuments(t *testing.T) {
	long := strings.Repeat("kinesiología ", 5000)
	p := NewAssembler("", 5).Build(nil, []models.RetrievalResult{doc("1", long, 0.8)}, "q").Prompt
	assert.Contains(t, p, long)
}

func newOrchestrator(emb Embedder, store retrieval.Store, gen Generator, hist HistoryStore, opts Options) *Orchestrator {
	return NewOrchestrator(emb, retrieval.New(store, 2, 0.5, 10), NewAssembler("", 5), gen, hist, opts)
}

func TestHandleEmptyStoreAnswersFromGeneralKnowledge(t *testing.T) {
	gen := &fakeGenerator{answer: "La kinesiología es la ciencia del movimiento."}
	hist := storage.NewMemoryHistory(0)
	o := newOrchestrator(&fakeEmbedder{vector: []float32{1, 0}}, retrieval.NewMemoryStore(nil), gen, hist, Options{PersistFailures: true})

	res, err := o.Handle(context.Background(), Request{SessionID: "s1", Message: "What is kinesiology?"})
	require.NoError(t, err)
	assert.Equal(t, StateDelivered, res.Final())
	assert.Equal(t, gen.answer, res.Answer)
	assert.Zero(t, res.Documents)
	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0].Prompt, NoDocumentsNotice)
	assert.Equal(t, []State{StateReceived, StateEmbedding, StateRetrieving, StateAssembling, StateGenerating, StatePersisting, StateDelivered}, res.Trace)

	turns, err := hist.Recent(context.Background(), "s1", 10)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, models.RoleUser, turns[0].Role)
	assert.Equal(t, "What is kinesiology?", turns[0].Content)
	assert.Equal(t, models.RoleAssistant, turns[1].Role)
}

func TestHandleIdentityQueryFindsStaffDocument(t *testing.T) {
	// unit vector at cosine 0.62 from the query vector (1, 0)
	docVec := []float32{0.62, float32(math.Sqrt(1 - 0.62*0.62))}
	store := retrieval.NewMemoryStore([]models.Document{
		{ID: "staff-1", Content: "Rodrigo es director de la carrera de Kinesiología.", Embedding: docVec},
		{ID: "noise", Content: "Horario de biblioteca.", Embedding: []float32{0, 1}},
	})
	emb := &fakeEmbedder{vector: []float32{1, 0}}
	gen := &fakeGenerator{answer: "Rodrigo Carrasco es director de carrera."}
	o := newOrchestrator(emb, store, gen, storage.NewMemoryHistory(0), Options{})

	res, err := o.Handle(context.Background(), Request{SessionID: "s2", Message: "Quien es Rodrigo Carrasco"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Documents)

	require.Len(t, emb.texts, 1)
	assert.Contains(t, emb.texts[0], "Información sobre Rodrigo Carrasco")

	prompt := gen.prompts[0].Prompt
	assert.Contains(t, prompt, "[Documento 1 (relevancia: 62%)]")
	assert.Contains(t, prompt, "Rodrigo es director")
	assert.NotContains(t, prompt, "Horario de biblioteca")
	assert.Contains(t, prompt, "Pregunta del usuario: Quien es Rodrigo Carrasco")
}

func TestHandleGenerationTimeoutFails(t *testing.T) {
	gen := &fakeGenerator{err: fmt.Errorf("generate: %w: %w", models.ErrGenerationTimeout, context.DeadlineExceeded)}
	hist := storage.NewMemoryHistory(0)
	o := newOrchestrator(&fakeEmbedder{vector: []float32{1, 0}}, nil, gen, hist, Options{PersistFailures: true})

	res, err := o.Handle(context.Background(), Request{SessionID: "s3", Message: "hola"})
	require.ErrorIs(t, err, models.ErrGenerationTimeout)
	assert.Equal(t, StateFailed, res.Final())
	assert.Equal(t, ApologyText, res.Answer)
	assert.ErrorIs(t, res.Err, models.ErrGenerationTimeout)

	turns, _ := hist.Recent(context.Background(), "s3", 10)
	require.Len(t, turns, 2)
	assert.Equal(t, ApologyText, turns[1].Content)
}

func TestHandleGenerationFailureWithoutPersisting(t *testing.T) {
	gen := &fakeGenerator{err: models.ErrGenerationUnavailable}
	hist := storage.NewMemoryHistory(0)
	o := newOrchestrator(&fakeEmbedder{vector: []float32{1, 0}}, nil, gen, hist, Options{PersistFailures: false})

	res, err := o.Handle(context.Background(), Request{SessionID: "s4", Message: "hola"})
	require.ErrorIs(t, err, models.ErrGenerationUnavailable)
	assert.NotContains(t, res.Trace, StatePersisting)
	turns, _ := hist.Recent(context.Background(), "s4", 10)
	assert.Empty(t, turns)
}

func TestHandleRejectsEmptyMessage(t *testing.T) {
	emb := &fakeEmbedder{vector: []float32{1, 0}}
	gen := &fakeGenerator{answer: "x"}
	o := newOrchestrator(emb, nil, gen, storage.NewMemoryHistory(0), Options{})

	res, err := o.Handle(context.Background(), Request{SessionID: "s", Message: "   "})
	require.ErrorIs(t, err, models.ErrInvalidInput)
	assert.Equal(t, []State{StateReceived, StateFailed}, res.Trace)
	assert.Empty(t, emb.texts)
	assert.Empty(t, gen.prompts)
}

func TestHandleDegradesOnEnrichmentFailures(t *testing.T) {
	emb := &fakeEmbedder{err: models.ErrEmbeddingUnavailable}
	gen := &fakeGenerator{answer: "respuesta"}
	o := newOrchestrator(emb, retrieval.NewMemoryStore(nil), gen, failingHistory{}, Options{PersistFailures: true})

	res, err := o.Handle(context.Background(), Request{SessionID: "s", Message: "hola"})
	require.NoError(t, err)
	assert.Equal(t, "respuesta", res.Answer)
	assert.Equal(t, StateDelivered, res.Final())
	assert.Contains(t, gen.prompts[0].Prompt, NoDocumentsNotice)
}

func TestHandleUsesPriorTurns(t *testing.T) {
	gen := &fakeGenerator{answer: "segunda"}
	hist := storage.NewMemoryHistory(0)
	o := newOrchestrator(&fakeEmbedder{vector: []float32{1, 0}}, nil, gen, hist, Options{})

	_, err := o.Handle(context.Background(), Request{SessionID: "s", Message: "primera pregunta"})
	require.NoError(t, err)
	_, err = o.Handle(context.Background(), Request{SessionID: "s", Message: "segunda pregunta"})
	require.NoError(t, err)

	require.Len(t, gen.prompts, 2)
	assert.NotContains(t, gen.prompts[0].Prompt, "Historial de conversación")
	assert.Contains(t, gen.prompts[1].Prompt, "Usuario: primera pregunta")
	assert.Contains(t, gen.prompts[1].Prompt, "Asistente: segunda")
}

func TestHandleEchoesAnswer(t *testing.T) {
	echo := &recordingDeliverer{}
	gen := &fakeGenerator{answer: "eco"}
	o := newOrchestrator(&fakeEmbedder{vector: []float32{1, 0}}, nil, gen, storage.NewMemoryHistory(0), Options{Echo: echo})

	_, err := o.Handle(context.Background(), Request{SessionID: "s", Message: "hola"})
	require.NoError(t, err)
	require.Len(t, echo.payloads, 1)
	assert.Equal(t, models.RelayPayload{Text: "eco", MessageType: "chat"}, echo.payloads[0])
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "generating", StateGenerating.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "unknown", State(42).String())
}
