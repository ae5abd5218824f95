package answer

import (
	"fmt"
	"strings"
)

const plannerSystemPrompt = `Kamu adalah asisten data untuk tim helpdesk. Tugasmu: menjawab pertanyaan
pengguna atas database operasional PostgreSQL (read-only) atau menjawab
langsung jika tidak perlu query.

Aturan:
- Hanya SELECT (boleh diawali WITH). Dilarang keras DML/DDL apa pun.
- Gunakan hanya tabel dan kolom dari skema yang diberikan.
- Jika pertanyaan tidak bisa dijawab dari skema, set status "out_of_context".
- "text_template" boleh memakai placeholder [[nama_kolom]] yang diisi dari
  baris pertama hasil query, dan [[row_count]] untuk jumlah baris.
- Jawab dalam bahasa yang dipakai pengguna (umumnya bahasa Indonesia).
- Balas HANYA dengan satu objek JSON sesuai skema yang diminta.`

var plannerSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"status": map[string]any{
			"type": "string",
			"enum": []string{"success", "out_of_context", "error"},
		},
		"response_type": map[string]any{
			"type": "string",
			"enum": []string{"data", "direct"},
		},
		"query":         map[string]any{"type": []string{"string", "null"}},
		"message":       map[string]any{"type": []string{"string", "null"}},
		"text_template": map[string]any{"type": []string{"string", "null"}},
	},
	"required":             []string{"status", "response_type", "query", "message", "text_template"},
	"additionalProperties": false,
}

const summarizeSystemPrompt = `Kamu merangkum hasil query SQL untuk pengguna helpdesk. Jawab dalam bahasa
pengguna, ringkas, sebut angka apa adanya dari hasil. Jangan menambah data
yang tidak ada di hasil.`

func buildPlannerUserPrompt(userQuery, schemaContext, ragContext string, history []HistoryTurn) string {
	var b strings.Builder

	b.WriteString("SKEMA DATABASE:\n")
	b.WriteString(schemaContext)
	b.WriteString("\n\nKONTEKS PENGETAHUAN:\n")
	b.WriteString(ragContext)

	if len(history) > 0 {
		b.WriteString("\n\nRIWAYAT PERCAKAPAN:\n")
		for _, turn := range history {
			fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Content)
		}
	}

	b.WriteString("\nPERTANYAAN:\n")
	b.WriteString(userQuery)
	return b.String()
}

func buildSummarizeUserPrompt(userQuery string, res ExecutionResult) string {
	var b strings.Builder
	b.WriteString("PERTANYAAN:\n")
	b.WriteString(userQuery)
	fmt.Fprintf(&b, "\n\nHASIL QUERY (%d baris", res.RowCount)
	if res.Degraded {
		b.WriteString(", DATA DEMO — database operasional tidak tersedia, sebutkan itu")
	}
	b.WriteString("):\n")
	for i, row := range res.Rows {
		if i >= 20 {
			fmt.Fprintf(&b, "... (%d baris lagi)\n", res.RowCount-i)
			break
		}
		fmt.Fprintf(&b, "%v\n", row)
	}
	return b.String()
}
