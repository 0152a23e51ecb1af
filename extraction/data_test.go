package extraction

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validData() DocumentData {
	return DocumentData{
		Data:            "2024-11-27",
		Mittente:        "ACME S.r.l.",
		Destinatario:    "Mario Rossi & C.",
		NumeroDocumento: "DDT-12345",
		TotaleKg:        1250.5,
	}
}

func TestDocumentDataValidate(t *testing.T) {
	assert.NoError(t, validData().Validate())

	tests := []struct {
		name   string
		mutate func(*DocumentData)
	}{
		{"empty data", func(d *DocumentData) { d.Data = "" }},
		{"empty mittente", func(d *DocumentData) { d.Mittente = "" }},
		{"empty destinatario", func(d *DocumentData) { d.Destinatario = "" }},
		{"empty numero", func(d *DocumentData) { d.NumeroDocumento = "" }},
		{"negative weight", func(d *DocumentData) { d.TotaleKg = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := validData()
			tt.mutate(&d)
			assert.Error(t, d.Validate())
		})
	}
}

func TestDocumentDataValidateIdenticalParties(t *testing.T) {
	d := validData()
	d.Destinatario = "acme s.r.l."

	err := d.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIdenticalParties))
}

func TestDocumentDataValidateFallbacksAreAccepted(t *testing.T) {
	d := DocumentData{
		Data:            FallbackDate,
		Mittente:        "ACME S.r.l.",
		Destinatario:    FallbackText,
		NumeroDocumento: FallbackText,
		TotaleKg:        0,
	}
	assert.NoError(t, d.Validate())
}
