// Standalone Prometheus exporter for corpus-wide domain gauges. It runs as
// its own process with its own database connection (and so its own
// Prometheus registry, separate from cmd/mcp-server's request-scoped
// metrics) so an operator can scrape ingest/precedent volume without the
// query-serving process in the loop.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"legal-research-engine/internal/config"
	"legal-research-engine/internal/store/metadata"
)

var (
	documentsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "legal_research_documents_total", Help: "Court decisions and legislation documents stored",
	})
	sectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "legal_research_sections_total", Help: "Sectionized document sections stored",
	})
	legislationArticlesTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "legal_research_legislation_articles_current_total", Help: "Current-version legislation articles stored",
	})
	precedentsReversedTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "legal_research_precedents_reversed_total", Help: "Decisions whose precedent status is no longer active",
	})
	statsPollFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "legal_research_metrics_poll_failures_total", Help: "Failed attempts to refresh corpus stats from the metadata store",
	})
	lastPollTimestamp = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "legal_research_metrics_last_poll_timestamp", Help: "Unix time of the last successful corpus stats refresh",
	})
)

func init() {
	prometheus.MustRegister(documentsTotal, sectionsTotal, legislationArticlesTotal, precedentsReversedTotal, statsPollFailures, lastPollTimestamp)
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()

	cfg := config.Load()
	addr := getenv("METRICS_ADDR", ":9109")
	pollInterval := 30 * time.Second

	meta, err := metadata.New(context.Background(), cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal("metadata store connection failed", zap.Error(err))
	}
	defer meta.Close()

	go pollCorpusStats(meta, pollInterval, logger)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	logger.Info("metrics server listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Fatal("metrics server stopped", zap.Error(err))
	}
}

// pollCorpusStats refreshes the domain gauges on a fixed interval. A poll
// failure is counted and logged, but never crashes the exporter — stale
// gauges are preferable to a dead scrape target.
func pollCorpusStats(meta *metadata.Store, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		stats, err := meta.CorpusStats(ctx)
		cancel()
		if err != nil {
			statsPollFailures.Inc()
			logger.Warn("corpus stats refresh failed", zap.Error(err))
		} else {
			documentsTotal.Set(float64(stats.Documents))
			sectionsTotal.Set(float64(stats.Sections))
			legislationArticlesTotal.Set(float64(stats.LegislationArticles))
			precedentsReversedTotal.Set(float64(stats.PrecedentsReversed))
			lastPollTimestamp.Set(float64(time.Now().Unix()))
		}
		<-ticker.C
	}
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}
