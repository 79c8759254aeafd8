package classifier

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseAnswerJSON(t *testing.T) {
	s, err := parseAnswer(`{"suggested_code": "17019900", "confidence": 95, "rationale": "açúcar cristal"}`)
	require.NoError(t, err)
	require.Equal(t, "17019900", s.SuggestedCode)
	require.Equal(t, 95, s.Confidence)
	require.Equal(t, "açúcar cristal", s.Rationale)
}

func TestParseAnswerDottedCode(t *testing.T) {
	s, err := parseAnswer(`{"suggested_code": "1701.99.00", "confidence": 90, "rationale": "x"}`)
	require.NoError(t, err)
	require.Equal(t, "17019900", s.SuggestedCode)
}

func TestParseAnswerProseFallback(t *testing.T) {
	s, err := parseAnswer("O NCM mais apropriado é 1701.91.00, com 85% de confiança, pois o produto contém aromatizante.")
	require.NoError(t, err)
	require.Equal(t, "17019100", s.SuggestedCode)
	require.Equal(t, 85, s.Confidence)
	require.Contains(t, s.Rationale, "aromatizante")
}

func TestParseAnswerProseDefaultConfidence(t *testing.T) {
	s, err := parseAnswer("Sugiro o NCM 17011100 para açúcar bruto de cana.")
	require.NoError(t, err)
	require.Equal(t, "17011100", s.SuggestedCode)
	require.Equal(t, 80, s.Confidence)
}

func TestParseAnswerNoCode(t *testing.T) {
	_, err := parseAnswer("Não foi possível determinar o NCM.")
	require.Error(t, err)
}

func TestBuildPromptIncludesCatalogAndCurrentCode(t *testing.T) {
	c := &Classifier{
		catalog: []CatalogEntry{
			{NCM: "17019900", Description: "Outros açúcares de cana", Keywords: []string{"cristal", "sacarose"}},
		},
		log: zap.NewNop(),
	}
	prompt := c.buildPrompt("Açúcar cristal saco 50kg", "17011100")

	require.Contains(t, prompt, "17019900")
	require.Contains(t, prompt, "cristal, sacarose")
	require.Contains(t, prompt, "NCM declarado na nota: 17011100")
	require.True(t, strings.Contains(prompt, "JSON"))
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New(t.Context(), "", "", 0, nil, zap.NewNop())
	require.Error(t, err)
}
