// Package classifier suggests NCM codes for ambiguous product descriptions
// using the Gemini API. It is advisory only: nothing here runs inside the
// validation pipeline, and its answers never change a finding.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

const defaultModel = "gemini-2.5-pro"

// Suggestion is one classification answer.
type Suggestion struct {
	SuggestedCode string `json:"suggested_code"`
	Confidence    int    `json:"confidence"`
	Rationale     string `json:"rationale"`
	IsConsistent  bool   `json:"is_consistent"`
}

// CatalogEntry is one known NCM handed to the model as context.
type CatalogEntry struct {
	NCM         string
	Description string
	Keywords    []string
}

// Classifier wraps a Gemini client with a fixed model and timeout.
type Classifier struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	catalog []CatalogEntry
	log     *zap.Logger
}

// New builds a classifier. The API key is required; the model defaults when
// empty. The catalog narrows the model to the codes the rule base knows.
func New(ctx context.Context, apiKey, model string, timeout time.Duration, catalog []CatalogEntry, log *zap.Logger) (*Classifier, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("classifier: API key is required")
	}
	if model == "" {
		model = defaultModel
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("classifier: create client: %w", err)
	}

	return &Classifier{
		client:  client,
		model:   model,
		timeout: timeout,
		catalog: catalog,
		log:     log,
	}, nil
}

// Classify asks for the most appropriate NCM for a product description.
// currentCode may be empty; when set, IsConsistent reports whether the model
// agrees with it.
func (c *Classifier) Classify(ctx context.Context, description, currentCode string) (*Suggestion, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	prompt := c.buildPrompt(description, currentCode)

	temp := float32(0.1)
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature:      &temp,
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return nil, fmt.Errorf("classifier: generate: %w", err)
	}

	answer := resp.Text()
	c.log.Debug("classifier answer", zap.String("description", description), zap.String("raw", answer))

	s, err := parseAnswer(answer)
	if err != nil {
		return nil, err
	}
	if currentCode != "" {
		s.IsConsistent = s.SuggestedCode == strings.ReplaceAll(currentCode, ".", "")
	}
	return s, nil
}

func (c *Classifier) buildPrompt(description, currentCode string) string {
	var b strings.Builder
	b.WriteString("Você é um especialista em classificação fiscal de produtos do setor sucroalcooleiro.\n")
	b.WriteString("Determine o NCM (Nomenclatura Comum do Mercosul) mais apropriado para o produto abaixo.\n\n")

	if len(c.catalog) > 0 {
		b.WriteString("NCMs conhecidos:\n")
		for _, e := range c.catalog {
			fmt.Fprintf(&b, "- %s: %s", e.NCM, e.Description)
			if len(e.Keywords) > 0 {
				fmt.Fprintf(&b, " (palavras-chave: %s)", strings.Join(e.Keywords, ", "))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Produto: %q\n", description)
	if currentCode != "" {
		fmt.Fprintf(&b, "NCM declarado na nota: %s\n", currentCode)
	}

	b.WriteString("\nResponda SOMENTE com um objeto JSON no formato:\n")
	b.WriteString(`{"suggested_code": "8 dígitos", "confidence": 0-100, "rationale": "justificativa curta"}`)
	return b.String()
}

var (
	ncmPattern        = regexp.MustCompile(`\d{4}\.?\d{2}\.?\d{2}`)
	confidencePattern = regexp.MustCompile(`(\d{1,3})\s*%`)
)

// parseAnswer decodes the structured answer, falling back to pattern
// extraction when the model wraps the JSON in prose.
func parseAnswer(answer string) (*Suggestion, error) {
	var s Suggestion
	if err := json.Unmarshal([]byte(answer), &s); err == nil && s.SuggestedCode != "" {
		s.SuggestedCode = strings.ReplaceAll(s.SuggestedCode, ".", "")
		return &s, nil
	}

	code := strings.ReplaceAll(ncmPattern.FindString(answer), ".", "")
	if len(code) != 8 {
		return nil, fmt.Errorf("classifier: no NCM in answer: %q", answer)
	}
	confidence := 80
	if m := confidencePattern.FindStringSubmatch(answer); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n <= 100 {
			confidence = n
		}
	}
	return &Suggestion{
		SuggestedCode: code,
		Confidence:    confidence,
		Rationale:     strings.TrimSpace(answer),
	}, nil
}
