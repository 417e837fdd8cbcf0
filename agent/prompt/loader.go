package prompt

import (
	_ "embed"
	"strings"
)

var (
	//go:embed template/persona.txt
	personaRaw string

	//go:embed template/chat_system.txt
	chatSystemRaw string

	//go:embed template/source_qa_system.txt
	sourceQASystemRaw string

	//go:embed template/source_qa_user.txt
	sourceQAUserRaw string

	//go:embed template/subquestion.txt
	subQuestionRaw string

	//go:embed template/biometrics.txt
	biometricsRaw string
)

// PromptSet holds loaded prompt content.
type PromptSet struct {
	Persona        string
	ChatSystem     string
	SourceQASystem string
	SourceQAUser   string
	SubQuestion    string
	Biometrics     string
}

// LoadPromptSet returns a PromptSet with trimmed prompt strings.
// Safe to call concurrently; the embed is compile-time and trimming is cheap.
func LoadPromptSet() PromptSet {
	return PromptSet{
		Persona:        strings.TrimSpace(personaRaw),
		ChatSystem:     strings.TrimSpace(chatSystemRaw),
		SourceQASystem: strings.TrimSpace(sourceQASystemRaw),
		SourceQAUser:   strings.TrimSpace(sourceQAUserRaw),
		SubQuestion:    strings.TrimSpace(subQuestionRaw),
		Biometrics:     strings.TrimSpace(biometricsRaw),
	}
}
