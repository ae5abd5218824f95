package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/danutirta/tanyadata-backend/internal/platform/envutil"
	"github.com/danutirta/tanyadata-backend/internal/platform/logger"
)

// Pipeline holds every tunable of the answer pipeline. The scoring
// weights and keyword sets are empirically tuned; they are loaded from
// a YAML file (PIPELINE_CONFIG_PATH) layered over the defaults below so
// operators can retune without a rebuild.
type Pipeline struct {
	Collections   []string `yaml:"collections"`
	RetrieveLimit int      `yaml:"retrieve_limit"`

	Intent   Intent   `yaml:"intent"`
	Rerank   Rerank   `yaml:"rerank"`
	Cache    Cache    `yaml:"cache"`
	Timeouts Timeouts `yaml:"timeouts"`

	HistoryMaxTurns     int `yaml:"history_max_turns"`
	PerformanceRingSize int `yaml:"performance_ring_size"`
}

type Intent struct {
	Greetings      []string `yaml:"greetings"`
	QuestionWords  []string `yaml:"question_words"`
	DomainKeywords []string `yaml:"domain_keywords"`
}

type Rerank struct {
	TopK     int     `yaml:"top_k"`
	MinScore float64 `yaml:"min_score"`

	BaseWeight    float64 `yaml:"base_weight"`
	TitleWeight   float64 `yaml:"title_weight"`
	ContentWeight float64 `yaml:"content_weight"`
	IntentWeight  float64 `yaml:"intent_weight"`
	BoostCap      float64 `yaml:"boost_cap"`

	MaxKeywords   int      `yaml:"max_keywords"`
	PositionDecay float64  `yaml:"position_decay"`
	Stopwords     []string `yaml:"stopwords"`

	// UseModelReranker gates an optional LLM rerank pass. The
	// deterministic scorer is always the source of truth for ordering.
	UseModelReranker bool `yaml:"use_model_reranker"`
}

type Cache struct {
	MaxEntries    int           `yaml:"max_entries"`
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type Timeouts struct {
	Embed        time.Duration `yaml:"embed"`
	VectorSearch time.Duration `yaml:"vector_search"`
	Generate     time.Duration `yaml:"generate"`
	SQLExec      time.Duration `yaml:"sql_exec"`
	SchemaFetch  time.Duration `yaml:"schema_fetch"`
}

func Default() Pipeline {
	return Pipeline{
		Collections:   []string{"tickets_knowledge", "schema_docs", "faq"},
		RetrieveLimit: 5,
		Intent: Intent{
			Greetings: []string{
				"hi", "hello", "hai", "halo", "hey", "pagi", "siang", "sore", "malam",
				"selamat pagi", "selamat siang", "selamat sore", "selamat malam",
				"terima kasih", "thanks", "makasih", "bye", "dadah", "sampai jumpa",
			},
			QuestionWords: []string{
				"berapa", "apa", "siapa", "kapan", "dimana", "di mana", "mengapa",
				"kenapa", "bagaimana", "gimana", "mana",
				"how", "what", "who", "when", "where", "why", "which", "show", "list",
			},
			DomainKeywords: []string{
				"tiket", "ticket", "pelanggan", "customer", "teknisi", "gangguan",
				"komplain", "keluhan", "laporan", "order", "invoice", "tagihan",
				"open", "closed", "pending", "resolved", "selesai", "proses",
				"hari ini", "kemarin", "minggu", "bulan", "tahun", "tanggal",
				"total", "jumlah", "rata-rata", "average", "count", "sum", "maksimal",
				"minimal", "tertinggi", "terendah", "terbanyak", "status", "data",
			},
		},
		Rerank: Rerank{
			TopK:          3,
			MinScore:      0.15,
			BaseWeight:    0.35,
			TitleWeight:   0.30,
			ContentWeight: 0.20,
			IntentWeight:  0.15,
			BoostCap:      0.35,
			MaxKeywords:   12,
			PositionDecay: 0.05,
			Stopwords: []string{
				"yang", "dan", "di", "ke", "dari", "untuk", "dengan", "pada", "ini",
				"itu", "ada", "atau", "juga", "saya", "kamu", "kita", "adalah",
				"the", "a", "an", "is", "are", "was", "were", "of", "in", "on", "at",
				"to", "for", "and", "or", "by", "with", "about", "please", "tolong",
			},
		},
		Cache: Cache{
			MaxEntries:    100,
			TTL:           30 * time.Minute,
			SweepInterval: 5 * time.Minute,
		},
		Timeouts: Timeouts{
			Embed:        8 * time.Second,
			VectorSearch: 5 * time.Second,
			Generate:     60 * time.Second,
			SQLExec:      15 * time.Second,
			SchemaFetch:  5 * time.Second,
		},
		HistoryMaxTurns:     6,
		PerformanceRingSize: 1000,
	}
}

// Load returns the defaults overlaid with the YAML file at
// PIPELINE_CONFIG_PATH (when set) and a few env overrides. A missing
// file is not an error; a malformed file is.
func Load(log *logger.Logger) (Pipeline, error) {
	cfg := Default()

	path := envutil.String("PIPELINE_CONFIG_PATH", "")
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				if log != nil {
					log.Warn("pipeline config file missing; using defaults", "path", path)
				}
			} else {
				return cfg, fmt.Errorf("read pipeline config: %w", err)
			}
		} else if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse pipeline config: %w", err)
		}
	}

	if v := envutil.String("VECTOR_COLLECTIONS", ""); v != "" {
		parts := strings.Split(v, ",")
		cols := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cols = append(cols, p)
			}
		}
		if len(cols) > 0 {
			cfg.Collections = cols
		}
	}
	cfg.Cache.MaxEntries = envutil.Int("QUERY_CACHE_MAX_ENTRIES", cfg.Cache.MaxEntries)
	cfg.Cache.TTL = envutil.Duration("QUERY_CACHE_TTL", cfg.Cache.TTL)

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (p Pipeline) validate() error {
	if len(p.Collections) == 0 {
		return fmt.Errorf("pipeline config: at least one vector collection required")
	}
	if p.RetrieveLimit <= 0 {
		return fmt.Errorf("pipeline config: retrieve_limit must be positive")
	}
	if p.Rerank.TopK <= 0 {
		return fmt.Errorf("pipeline config: rerank.top_k must be positive")
	}
	if p.Rerank.MinScore < 0 || p.Rerank.MinScore >= 1 {
		return fmt.Errorf("pipeline config: rerank.min_score out of range")
	}
	if p.Cache.MaxEntries <= 0 || p.Cache.TTL <= 0 {
		return fmt.Errorf("pipeline config: cache bounds must be positive")
	}
	return nil
}
