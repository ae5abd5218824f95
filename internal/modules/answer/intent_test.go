package answer

import (
	"testing"

	"github.com/danutirta/tanyadata-backend/internal/config"
)

func TestClassifyIntent(t *testing.T) {
	cfg := config.Default().Intent

	cases := []struct {
		name    string
		message string
		want    Intent
		minConf float64
	}{
		{"greeting", "hi", IntentGeneralConversation, 0.9},
		{"greeting indonesian", "selamat pagi", IntentGeneralConversation, 0.9},
		{"question word", "berapa jumlah tiket bulan ini?", IntentDataQuery, 0.95},
		{"domain keyword", "daftar komplain pelanggan dong", IntentDataQuery, 0.8},
		{"sql shaped", "select semua baris from tickets", IntentDataQuery, 0.8},
		{"short no indicators", "oke sip", IntentGeneralConversation, 0.5},
		{"long no indicators", "tolong ceritakan kondisi operasional terakhir secara lengkap ya", IntentDataQuery, 0.5},
		{"empty", "", IntentGeneralConversation, 0.4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ClassifyIntent(tc.message, cfg)
			if got.Intent != tc.want {
				t.Fatalf("intent: want=%s got=%s", tc.want, got.Intent)
			}
			if got.Confidence < tc.minConf {
				t.Fatalf("confidence: want>=%v got=%v", tc.minConf, got.Confidence)
			}
		})
	}
}

func TestClassifyIntentIsPure(t *testing.T) {
	cfg := config.Default().Intent
	first := ClassifyIntent("berapa total tiket closed?", cfg)
	for i := 0; i < 10; i++ {
		again := ClassifyIntent("berapa total tiket closed?", cfg)
		if again != first {
			t.Fatalf("classification changed across calls: %+v vs %+v", first, again)
		}
	}
}
