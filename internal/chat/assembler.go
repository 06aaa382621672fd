package chat

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"kinechat/internal/models"
)

// DefaultPreamble is the instruction block placed at the top of every prompt.
const DefaultPreamble = `Eres un asistente virtual especializado en Kinesiología de la Universidad San Sebastián (USS).

Tu función es ayudar a estudiantes y personas interesadas con información sobre:
- Programas académicos de Kinesiología
- Requisitos de admisión
- Malla curricular y docentes
- Perfil del egresado
- Áreas de especialización
- Personal académico y administrativo
- Información general sobre kinesiología como disciplina

Metodología de respuesta:
1. Responde de manera clara, concisa y profesional
2. Si tienes información específica en los documentos proporcionados, úsala siempre
3. Si la pregunta es sobre una persona, busca ese nombre o nombres similares en los documentos
4. Si encuentras información parcial (por ejemplo "Rodrigo" cuando preguntan por "Rodrigo Carrasco"), úsala
5. Si no tienes información específica en los documentos, indícalo claramente
6. Mantén un tono amigable y educativo

Antes de decir que no tienes información, revisa todos los documentos proporcionados.`

const (
	documentsHeader = "INFORMACIÓN DISPONIBLE EN LA BASE DE DATOS:\n\n" +
		"Usa esta información para responder. Si la pregunta está relacionada con algo mencionado aquí, úsalo.\n\n"
	documentsFooter = "---\n\n"

	// NoDocumentsNotice replaces the document section when retrieval found nothing.
	NoDocumentsNotice = "Nota: No se encontraron documentos específicos para esta consulta. " +
		"Responde basándote en tu conocimiento general sobre kinesiología y la USS, " +
		"pero indica claramente que no tienes información específica en la base de datos.\n\n"

	historyHeader = "Historial de conversación:\n\n"
)

// DefaultHistoryWindow is the number of prior turns included in a prompt.
const DefaultHistoryWindow = 5

// Assembler builds prompts. It holds no mutable state.
type Assembler struct {
	preamble string
	window   int
}

func NewAssembler(preamble string, window int) *Assembler {
	if strings.TrimSpace(preamble) == "" {
		preamble = DefaultPreamble
	}
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	return &Assembler{preamble: preamble, window: window}
}

// Build renders preamble, ranked documents (or the no-documents notice),
// the most recent history turns oldest-first, and the query. Identical
// inputs always produce identical output. Document text is never cut.
func (a *Assembler) Build(history []models.Message, retrieved []models.RetrievalResult, query string) models.PromptContext {
	var b strings.Builder
	b.WriteString(strings.TrimRight(a.preamble, "\n"))
	b.WriteString("\n\n")

	if len(retrieved) > 0 {
		ranked := make([]models.RetrievalResult, len(retrieved))
		copy(ranked, retrieved)
		sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Similarity > ranked[j].Similarity })

		b.WriteString(documentsHeader)
		for i, r := range ranked {
			fmt.Fprintf(&b, "[Documento %d%s]\n%s\n\n", i+1, relevance(r.Similarity), r.Document.Content)
		}
		b.WriteString(documentsFooter)
	} else {
		b.WriteString(NoDocumentsNotice)
	}

	if turns := lastTurns(history, a.window); len(turns) > 0 {
		b.WriteString(historyHeader)
		for _, m := range turns {
			fmt.Fprintf(&b, "%s: %s\n", roleLabel(m.Role), m.Content)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "\nPregunta del usuario: %s\n\nRespuesta:", query)
	return models.PromptContext{Prompt: b.String(), Query: query}
}

func relevance(sim float64) string {
	if sim <= 0 {
		return ""
	}
	return fmt.Sprintf(" (relevancia: %d%%)", int(math.Round(sim*100)))
}

func lastTurns(history []models.Message, n int) []models.Message {
	if len(history) > n {
		return history[len(history)-n:]
	}
	return history
}

func roleLabel(r models.Role) string {
	switch r {
	case models.RoleUser:
		return "Usuario"
	case models.RoleAssistant:
		return "Asistente"
	default:
		return string(r)
	}
}
