package router

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// KeywordSet holds the lexical keyword lists, one per intent. Keywords are
// matched as case-insensitive substrings, so multi-word phrases work too.
type KeywordSet struct {
	byIntent map[string][]string
}

type keywordsFile struct {
	Intents map[string][]string `yaml:"intents"`
}

// DefaultKeywords covers the Portuguese and English surface the assistant
// commonly sees. A config file replaces the whole set.
func DefaultKeywords() *KeywordSet {
	return &KeywordSet{byIntent: map[string][]string{
		IntentKnowledgeQuery: {
			"política", "politica", "policy", "reembolso", "refund", "devolução", "devolucao",
			"garantia", "warranty", "horário de atendimento", "horario de atendimento",
			"frete", "shipping", "troca", "return policy", "faq",
		},
		IntentSchedule: {
			"agendar", "agenda", "marcar reunião", "marcar reuniao", "reunião", "reuniao",
			"compromisso", "calendário", "calendario", "lembrete", "remarcar",
			"schedule", "meeting", "appointment", "calendar", "reminder", "reschedule",
		},
		IntentSendMail: {
			"enviar email", "enviar e-mail", "mandar email", "mandar e-mail", "escrever email",
			"send an email", "send email", "email to", "e-mail para", "email para",
		},
		IntentSearch: {
			"pesquisar", "pesquise", "procurar na internet", "notícias", "noticias",
			"previsão do tempo", "previsao do tempo", "cotação", "cotacao",
			"search for", "look up", "latest news", "weather", "google",
		},
		IntentTask: {
			"tarefa", "tarefas", "lista de tarefas", "afazeres", "pendência", "pendencia",
			"to-do", "todo list", "task list", "add a task", "minhas tarefas",
		},
	}}
}

// LoadKeywords reads a YAML keyword file. An empty path returns the defaults.
func LoadKeywords(path string) (*KeywordSet, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return DefaultKeywords(), nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keywords file: %w", err)
	}
	var f keywordsFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse keywords file: %w", err)
	}
	if len(f.Intents) == 0 {
		return nil, fmt.Errorf("keywords file %s defines no intents", path)
	}

	byIntent := make(map[string][]string, len(f.Intents))
	for intent, words := range f.Intents {
		intent = strings.ToLower(strings.TrimSpace(intent))
		if !knownIntent(intent) {
			return nil, fmt.Errorf("unknown intent in keywords file: %q", intent)
		}
		if intent == IntentGeneralChat {
			return nil, fmt.Errorf("general_chat is the fallback intent and takes no keywords")
		}
		cleaned := make([]string, 0, len(words))
		for _, w := range words {
			w = strings.ToLower(strings.TrimSpace(w))
			if w != "" {
				cleaned = append(cleaned, w)
			}
		}
		if len(cleaned) > 0 {
			byIntent[intent] = cleaned
		}
	}
	return &KeywordSet{byIntent: byIntent}, nil
}

// Match returns the intents whose keyword lists hit the message, sorted for
// determinism. Zero or multiple hits mean the lexical pass is ambiguous.
func (k *KeywordSet) Match(message string) []string {
	if k == nil || len(k.byIntent) == 0 {
		return nil
	}
	lower := strings.ToLower(strings.TrimSpace(message))
	if lower == "" {
		return nil
	}

	out := make([]string, 0, 2)
	for intent, words := range k.byIntent {
		for _, w := range words {
			if strings.Contains(lower, w) {
				out = append(out, intent)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}
