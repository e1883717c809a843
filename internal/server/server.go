package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/ak-palla/saas-chatbot-sub001/config"
	"github.com/ak-palla/saas-chatbot-sub001/internal/chat"
	"github.com/ak-palla/saas-chatbot-sub001/internal/ingest"
	"github.com/ak-palla/saas-chatbot-sub001/internal/llm"
	"github.com/ak-palla/saas-chatbot-sub001/internal/retrieval"
	"github.com/ak-palla/saas-chatbot-sub001/internal/store"
	"github.com/ak-palla/saas-chatbot-sub001/internal/usage"
)

// Run wires the engine together and serves the API until the process exits.
func Run(cfg *config.Config, addr string) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, HTTPError{Error: msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization", "Cookie"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	ctx := context.Background()
	dsn, err := cfg.Storage.Postgres.DSN()
	if err != nil {
		return err
	}
	if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}

	// Redis backs the embedding cache. Missing redis degrades to direct
	// provider calls, it does not stop the server.
	var rdb *redis.Client
	if raddr := cfg.Storage.Redis.Addr(); raddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: raddr, Password: cfg.Storage.Redis.Password, DB: cfg.Storage.Redis.DB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Printf("[server] redis unavailable (%s), embedding cache disabled: %v", raddr, err)
			rdb = nil
		}
	}

	provider := llm.NewOpenAIClient(cfg.Providers.OpenAI)
	var embedder llm.Embedder = provider
	if rdb != nil {
		embedder = llm.NewCachingEmbedder(provider, rdb, cfg.Providers.OpenAI.EmbeddingModel, cfg.Storage.Redis.CacheTTL)
	}

	keyword := retrieval.NewKeywordIndex()
	if cfg.RAG.KeywordFallback {
		if err := rebuildKeywordIndex(ctx, st, keyword); err != nil {
			log.Printf("[server] rebuilding keyword index failed, fallback starts empty: %v", err)
		}
	} else {
		keyword = nil
	}

	ingestor, err := ingest.NewIngestor(st, embedder, keywordIndexer(keyword), cfg.RAG)
	if err != nil {
		return err
	}
	retriever := retrieval.NewRetriever(st, embedder, keyword, cfg.RAG)

	meter := usage.NewMeter(st, cfg.Usage)
	defer meter.Close()

	engine := chat.NewEngine(st, provider, retriever, chat.NewAssembler(cfg.Chat), meter, cfg.Chat.HistoryLimit)

	secret := []byte(cfg.General.JWTSecret)
	if len(secret) == 0 {
		return fmt.Errorf("jwt secret not configured (general.jwt_secret)")
	}

	api := e.Group("/api")
	bots := &ChatbotsHandler{Store: st}
	bots.Register(api.Group("/chatbots"), secret)
	docs := &DocumentsHandler{Store: st, Ingestor: ingestor, Keyword: keyword, Bots: bots}
	docs.Register(api.Group("/chatbots"), secret)
	ch := &ChatHandler{Engine: engine, Bots: bots}
	ch.Register(api.Group("/chatbots"), secret)
	convs := &ConversationsHandler{Store: st}
	convs.Register(api.Group("/conversations"), secret)

	if cfg.RAG.ReprocessCron != "" {
		sweeper, err := ingest.NewSweeper(ingestor, st, cfg.RAG.ReprocessCron)
		if err != nil {
			return fmt.Errorf("reprocess cron: %w", err)
		}
		go sweeper.Run(ctx)
	}

	if addr == "" {
		addr = cfg.General.Listen
		if addr == "" {
			addr = ":10010"
		}
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}

// keywordIndexer converts the possibly-nil concrete index to the ingest
// interface without producing a non-nil interface around a nil pointer.
func keywordIndexer(k *retrieval.KeywordIndex) ingest.KeywordIndexer {
	if k == nil {
		return nil
	}
	return k
}

// rebuildKeywordIndex reloads chunk text into the in-memory keyword index.
// The index does not survive restarts; the store is the source of truth.
func rebuildKeywordIndex(ctx context.Context, st *store.Store, keyword *retrieval.KeywordIndex) error {
	texts, err := st.ListChunkTexts(ctx)
	if err != nil {
		return err
	}
	type docKey struct{ bot, doc string }
	grouped := make(map[docKey][]ingest.IndexedChunk)
	var order []docKey
	for _, ct := range texts {
		key := docKey{ct.ChatbotID, ct.DocumentID}
		if _, ok := grouped[key]; !ok {
			order = append(order, key)
		}
		grouped[key] = append(grouped[key], ingest.IndexedChunk{ID: ct.ChunkID, Content: ct.Content})
	}
	for _, key := range order {
		if err := keyword.IndexChunks(key.bot, key.doc, grouped[key]); err != nil {
			return err
		}
	}
	return nil
}
