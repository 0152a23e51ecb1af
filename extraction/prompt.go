package extraction

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// defaultExtractionTemplate instructs the vision model field by field.
// The static part mirrors the manual procedure used by the operators;
// the trailing blocks inject per-supplier rules, learned hints and the
// machine-readable text of the document when one is available.
const defaultExtractionTemplate = `Sei un esperto estrattore di dati da Documenti di Trasporto (DDT) italiani.
La tua missione è estrarre SOLO i seguenti campi e restituire UNICAMENTE un JSON valido e corretto.

CAMPI RICERCATI:

1. **data**: Data del documento DDT
   - Cerca varianti: "Data DDT", "Del:", "Data documento", "Data emissione", "Emissione"
   - Formato output: YYYY-MM-DD (esempio: 2024-11-27)
   - Se trovi solo giorno/mese, usa anno corrente
   - Se non trovi la data, usa "1900-01-01" come fallback

2. **mittente**: Azienda che emette il DDT (chi spedisce)
   - Cerca varianti: "Mittente", "Da:", "Fornitore", "Spett.le", "Intestazione azienda", logo azienda
   - Prendi il nome completo dell'azienda (non solo il logo)
   - Rimuovi prefissi come "Spett.le", "Da:", ecc.
   - Output: solo il nome dell'azienda pulito

3. **destinatario**: Azienda che riceve la merce
   - Cerca varianti: "Destinatario", "A:", "Cliente", "Consegna a", "Cantiere", "Spedire a"
   - Prendi il nome completo dell'azienda/cliente
   - Rimuovi prefissi come "A:", "Per:", ecc.
   - Output: solo il nome pulito

4. **numero_documento**: Numero del DDT
   - Cerca varianti: "Numero DDT", "DDT N.", "N. documento", "Documento N.", "Numero"
   - Prendi il numero completo (esempio: "DDT-12345" o "001234")
   - Se c'è un prefisso tipo "DDT-", includilo

5. **totale_kg**: Peso totale in chilogrammi
   - Cerca varianti: "Totale Kg", "Peso totale", "Kg complessivi", "Totale peso", "Peso (kg)"
   - Output: SOLO il numero (float), senza unità di misura
   - Se trovi più pesi, prendi il TOTALE
   - Se non trovi il peso totale, cerca la somma dei pesi parziali
   - Se non trovi nulla, usa 0.0 come fallback

REGOLE STRINGENTI:
- Restituisci SEMPRE un JSON valido
- NON inventare dati se non li trovi (usa fallback appropriati)
- NON includere campi aggiuntivi oltre a quelli richiesti
- Se un campo è ambiguo, scegli la soluzione più probabile
- Normalizza i testi: rimuovi spazi extra, caratteri strani
- Per date: converti sempre in YYYY-MM-DD
- Per numeri: solo valori numerici, nessun testo

ESEMPIO OUTPUT CORRETTO:
{
  "data": "2024-11-27",
  "mittente": "ACME S.r.l.",
  "destinatario": "Mario Rossi & C.",
  "numero_documento": "DDT-12345",
  "totale_kg": 1250.5
}

IMPORTANTE: Restituisci SOLO il JSON, senza commenti, senza spiegazioni.
{{- if .RuleAdditions}}
{{.RuleAdditions}}
{{- end}}
{{- if .Hints}}

CORREZIONI NOTE PER QUESTO FORNITORE (applica se pertinenti):
{{- range .Hints}}
- {{.}}
{{- end}}
{{- end}}
{{- if .Content}}

TESTO ESTRATTO DAL DOCUMENTO (può contenere errori di lettura, usalo solo come supporto all'immagine):
{{.Content}}
{{- end}}`

// PromptInput carries the dynamic parts of one extraction prompt.
type PromptInput struct {
	// RuleAdditions is the rendered supplier rule block, already
	// formatted by RuleSet.PromptAdditions.
	RuleAdditions string
	// Hints are learned correction hints for similar senders.
	Hints []string
	// Content is the machine-readable document text. It is truncated
	// to the token budget before rendering and may be dropped entirely.
	Content string
}

// PromptBuilder renders the vision extraction prompt from an on-disk
// template, writing the default template on first run so operators can
// tune the wording without a rebuild.
type PromptBuilder struct {
	mu         sync.RWMutex
	tmpl       *template.Template
	modelName  string
	tokenLimit int
}

// NewPromptBuilder loads (or seeds) the extraction template under
// promptsDir. modelName is used for token counting; tokenLimit <= 0
// disables truncation of the document text.
func NewPromptBuilder(promptsDir, modelName string, tokenLimit int) (*PromptBuilder, error) {
	if err := os.MkdirAll(promptsDir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("failed to create prompts directory: %w", err)
	}

	templatePath := filepath.Join(promptsDir, "extraction_prompt.tmpl")
	content, err := os.ReadFile(templatePath)
	if err != nil {
		log.Errorf("Could not read %s, using default template: %v", templatePath, err)
		content = []byte(defaultExtractionTemplate)
		if err := os.WriteFile(templatePath, content, os.ModePerm); err != nil {
			return nil, fmt.Errorf("failed to write default extraction template: %w", err)
		}
	}

	tmpl, err := template.New("extraction").Funcs(sprig.FuncMap()).Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse extraction template: %w", err)
	}

	return &PromptBuilder{tmpl: tmpl, modelName: modelName, tokenLimit: tokenLimit}, nil
}

// Build renders the prompt, truncating in.Content so the whole prompt
// stays within the token limit.
func (pb *PromptBuilder) Build(in PromptInput) (string, error) {
	pb.mu.RLock()
	defer pb.mu.RUnlock()

	data := map[string]interface{}{
		"RuleAdditions": in.RuleAdditions,
		"Hints":         in.Hints,
		"Content":       strings.TrimSpace(in.Content),
	}

	if content, ok := data["Content"].(string); ok && content != "" {
		available, err := pb.availableTokensForContent(data)
		if err != nil {
			return "", err
		}
		truncated, err := pb.truncateContentByTokens(content, available)
		if err != nil {
			return "", err
		}
		data["Content"] = truncated
	}

	var buf bytes.Buffer
	if err := pb.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("error executing extraction template: %w", err)
	}
	return buf.String(), nil
}
