package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeDate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"already ISO", "2024-11-27", "2024-11-27"},
		{"italian slashes", "27/11/2024", "2024-11-27"},
		{"italian dashes", "27-11-2024", "2024-11-27"},
		{"iso slashes", "2024/11/27", "2024-11-27"},
		{"dotted", "27.11.2024", "2024-11-27"},
		{"two digit year", "27/11/24", "2024-11-27"},
		{"surrounding spaces", "  27/11/2024  ", "2024-11-27"},
		{"garbage", "domani", ""},
		{"empty", "", ""},
		{"impossible day", "32/01/2024", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeDate(tt.input))
		})
	}
}

func TestNormalizeWeight(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected float64
		ok       bool
	}{
		{"plain", "1250.5", 1250.5, true},
		{"comma decimal", "1250,5", 1250.5, true},
		{"kg suffix", "1250,5 kg", 1250.5, true},
		{"uppercase unit", "980 KG", 980, true},
		{"integer", "42", 42, true},
		{"spaces inside", "1 250.5", 1250.5, true},
		{"empty", "", 0, false},
		{"words only", "peso totale", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, ok := NormalizeWeight(tt.input)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.InDelta(t, tt.expected, v, 1e-9)
			}
		})
	}
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "DDT N. 123", NormalizeText("  DDT \n N.\t123 "))
	assert.Equal(t, "a b", NormalizeText("a\u00a0\u200bb"))
	assert.Equal(t, "", NormalizeText("   "))
}

func TestCleanCompanyName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"spett.le prefix", "Spett.le ACME S.r.l.", "ACME S.r.l."},
		{"spettabile prefix", "Spettabile Mario Rossi & C.", "Mario Rossi & C."},
		{"label prefix", "Destinatario: Edilizia Verdi", "Edilizia Verdi"},
		{"da prefix", "Da: Trasporti Bianchi", "Trasporti Bianchi"},
		{"no prefix", "ACME S.r.l.", "ACME S.r.l."},
		{"extra whitespace", "  ACME   S.r.l.  ", "ACME S.r.l."},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CleanCompanyName(tt.input))
		})
	}
}

func TestNormalizeRawAppliesFallbacks(t *testing.T) {
	d := normalizeRaw(map[string]string{}, 0, false)
	assert.Equal(t, FallbackDate, d.Data)
	assert.Equal(t, FallbackText, d.Mittente)
	assert.Equal(t, FallbackText, d.Destinatario)
	assert.Equal(t, FallbackText, d.NumeroDocumento)
	assert.Zero(t, d.TotaleKg)
}

func TestNormalizeRawKeepsParsedValues(t *testing.T) {
	raw := map[string]string{
		"data":             "27/11/2024",
		"mittente":         "Spett.le ACME S.r.l.",
		"destinatario":     "Mario Rossi & C.",
		"numero_documento": " DDT-12345 ",
	}
	d := normalizeRaw(raw, 1250.5, true)
	assert.Equal(t, "2024-11-27", d.Data)
	assert.Equal(t, "ACME S.r.l.", d.Mittente)
	assert.Equal(t, "Mario Rossi & C.", d.Destinatario)
	assert.Equal(t, "DDT-12345", d.NumeroDocumento)
	assert.InDelta(t, 1250.5, d.TotaleKg, 1e-9)
}

func TestNormalizeRawKeepsNegativeWeight(t *testing.T) {
	d := normalizeRaw(map[string]string{
		"data":             "27/11/2024",
		"mittente":         "ACME S.r.l.",
		"destinatario":     "Mario Rossi & C.",
		"numero_documento": "DDT-1",
	}, -5, true)
	assert.InDelta(t, -5, d.TotaleKg, 1e-9)
	assert.Error(t, d.Validate())
}
