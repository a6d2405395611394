// Command mcp-server is the primary process: it wires the Metadata Store,
// Vector Store, adapters, Embedding Gateway, Sectionizer, Ingest Worker,
// Scrape Worker, Query Orchestrator, and the MCP endpoint together, plus the
// background precedent-refresh job and the internal control-plane gRPC
// service, following the teacher's single-process-per-service wiring style
// (go-enhanced-rag-service/main.go's NewEnhancedRAGService) generalized with
// graceful shutdown on top of grpc-gateway's keepalive scaffold.
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"legal-research-engine/internal/adapters/courtdecisions"
	legadapter "legal-research-engine/internal/adapters/legislation"
	"legal-research-engine/internal/adapters/upload"
	"legal-research-engine/internal/cache"
	"legal-research-engine/internal/config"
	"legal-research-engine/internal/controlplane"
	"legal-research-engine/internal/embedding"
	"legal-research-engine/internal/ingest"
	legsvc "legal-research-engine/internal/legislation"
	"legal-research-engine/internal/llm"
	"legal-research-engine/internal/mcp"
	"legal-research-engine/internal/observability"
	"legal-research-engine/internal/observability/tracing"
	"legal-research-engine/internal/orchestrator"
	"legal-research-engine/internal/pattern"
	"legal-research-engine/internal/precedent"
	"legal-research-engine/internal/scrape"
	"legal-research-engine/internal/sectionizer"
	"legal-research-engine/internal/store/metadata"
	"legal-research-engine/internal/store/vector"
)

func main() {
	cfg := config.Load()

	logger, err := observability.NewLogger(cfg.ServiceName, os.Getenv("ENV") != "production")
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.ServiceName, cfg.OTLPEndpoint, logger)
	if err != nil {
		logger.Warn("tracing disabled: initialization failed", zap.Error(err))
		shutdownTracing = func(context.Context) error { return nil }
	}
	defer shutdownTracing(context.Background())

	meta, err := metadata.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal("metadata store init failed", zap.Error(err))
	}
	defer meta.Close()

	vectors, err := vector.New(ctx, cfg.DatabaseURL, cfg.EmbeddingDimension)
	if err != nil {
		logger.Fatal("vector store init failed", zap.Error(err))
	}
	defer vectors.Close()

	var embedCache cache.Cache
	if redisCache, err := cache.NewRedis(cfg.RedisURL); err != nil {
		logger.Warn("redis cache unavailable, falling back to in-memory embedding cache", zap.Error(err))
		embedCache = cache.NewInMemory()
	} else {
		embedCache = cache.NewMultiLevel(redisCache)
	}

	registry := llm.DefaultRegistry(cfg.EmbeddingProviderURL, cfg.EmbeddingModel, cfg.EmbeddingDimension, cfg.ChatProviderURL, cfg.ChatModel)
	embedClient := llm.NewHTTPEmbedClient(registry.ResolveEmbedding(llm.BudgetDefault))
	gateway := embedding.New(embedClient, cfg.EmbeddingDimension).WithCache(embedCache)

	fallbackChat := llm.NewHTTPChatClient(registry.ResolveChat(llm.BudgetDefault))
	sections := sectionizer.New(sectionizer.NewModelFallback(fallbackChat))

	courtAdapter := courtdecisions.New(cfg.CourtAPIBaseURL, cfg.CourtAPIToken, cfg.AdapterMinInterval)
	legislationAdapter := legadapter.New(cfg.LegislationBaseURL, cfg.AdapterMinInterval)
	legislationSvc := legsvc.New(legislationAdapter, meta, vectors, gateway)
	patterns := pattern.New(meta)

	var uploadAdapter *upload.Adapter
	if cfg.MinioEndpoint != "" {
		uploadAdapter, err = upload.New(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL, upload.NoopOCRProvider{})
		if err != nil {
			logger.Warn("object storage unavailable, uploaded-document ingestion disabled", zap.Error(err))
			uploadAdapter = nil
		}
	}

	ingestWorker := ingest.New(courtAdapter, sections, gateway, meta, vectors, cfg.IngestConcurrency, logger)
	scrapeWorker := scrape.New(courtAdapter, ingestWorker, embedCache, logger)

	orch := orchestrator.New(meta, vectors, gateway, registry, legislationSvc, patterns, courtAdapter, uploadAdapter, ingestWorker, logger)
	orch.SetScrapeWorker(scrapeWorker)

	precedentWorker := precedent.New(meta, time.Hour, logger)
	go precedentWorker.Run(ctx)

	grpcServer := grpc.NewServer(
		controlplane.ServerCodecOption(),
		grpc.KeepaliveParams(keepalive.ServerParameters{MaxConnectionIdle: 5 * time.Minute, Time: 2 * time.Minute, Timeout: 20 * time.Second}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{MinTime: 30 * time.Second, PermitWithoutStream: true}),
	)
	controlplane.Register(grpcServer, controlplane.New(scrapeWorker))

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		logger.Fatal("control-plane listener failed", zap.Error(err))
	}
	go func() {
		logger.Info("control-plane gRPC listening", zap.String("port", cfg.GRPCPort))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("control-plane gRPC server stopped", zap.Error(err))
		}
	}()

	mcpServer := mcp.New(orch, cfg, logger)
	router := gin.New()
	router.Use(gin.Recovery())
	mcpServer.Register(router)
	router.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	httpServer := &http.Server{Addr: ":" + cfg.Port, Handler: router}
	go func() {
		logger.Info("mcp server listening", zap.String("port", cfg.Port))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("mcp server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	grpcServer.GracefulStop()
}
