package service

// Persona selects the system-prompt variant for answer generation. It is a
// closed set: adding a persona means extending SystemPrompt's switch, which
// the exhaustiveness of the default branch makes hard to forget.
type Persona int

const (
	PersonaGeneral Persona = iota
	PersonaLegal
	PersonaAcademic
	PersonaBusiness
	PersonaSummarizer
)

// ParsePersona maps a wire string to a Persona. Unknown or empty strings fall
// back to the general persona instead of erroring.
func ParsePersona(s string) Persona {
	switch s {
	case "legal":
		return PersonaLegal
	case "academic":
		return PersonaAcademic
	case "business":
		return PersonaBusiness
	case "summarizer":
		return PersonaSummarizer
	default:
		return PersonaGeneral
	}
}

func (p Persona) String() string {
	switch p {
	case PersonaLegal:
		return "legal"
	case PersonaAcademic:
		return "academic"
	case PersonaBusiness:
		return "business"
	case PersonaSummarizer:
		return "summarizer"
	default:
		return "general"
	}
}

const groundingRule = " Answer strictly from the provided context. If the context does not contain enough information to answer, say so explicitly instead of guessing."

// SystemPrompt returns the persona's system instruction. Every variant
// carries the same grounding rule; only the interpretive stance differs.
func (p Persona) SystemPrompt() string {
	switch p {
	case PersonaLegal:
		return "You are a legal document assistant. Explain clauses, obligations and terms precisely, quoting the relevant passages, and note that you do not provide legal advice." + groundingRule
	case PersonaAcademic:
		return "You are an academic reading assistant. Explain concepts rigorously, keep terminology exact, and cite the relevant parts of the text." + groundingRule
	case PersonaBusiness:
		return "You are a business analyst. Focus on figures, commitments, risks and action items found in the document, and keep answers concise." + groundingRule
	case PersonaSummarizer:
		return "You are a summarization assistant. Condense the relevant material into a clear, faithful summary without adding information." + groundingRule
	default:
		return "You are a helpful assistant that answers questions about a document." + groundingRule
	}
}
