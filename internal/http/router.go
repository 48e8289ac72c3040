// Package httpapi wires the HTTP transport (Gin) to the inbox services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, authentication, idempotency, and rate limiting.
//
// Two surfaces are mounted:
//   - the agent API under cfg.APIBasePath (bearer auth, idempotency, rate
//     limiting, gzip)
//   - provider webhooks under /webhooks (authenticated by signature or
//     shared secret instead of a user token)
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/unified-inbox/docs"
	"github.com/tbourn/unified-inbox/internal/config"
	"github.com/tbourn/unified-inbox/internal/events"
	"github.com/tbourn/unified-inbox/internal/http/handlers"
	"github.com/tbourn/unified-inbox/internal/http/middleware"
	"github.com/tbourn/unified-inbox/internal/repo"
	"github.com/tbourn/unified-inbox/internal/services"
)

// maxBodyBytes caps every request body.
const maxBodyBytes = 1 << 20

// Deps are the runtime dependencies RegisterRoutes builds services from.
type Deps struct {
	DB *gorm.DB
	// Senders resolves channel adapters for outbound messages.
	Senders services.SenderRegistry
	// Events receives domain events; nil means events.Nop.
	Events events.Publisher
}

// Stopwords ignored by message search.
var searchStopwords = []string{
	"a", "an", "and", "are", "as", "at", "be", "but", "by", "for", "from",
	"hi", "hello", "i", "in", "is", "it", "me", "my", "of", "on", "or",
	"please", "so", "thanks", "that", "the", "this", "to", "we", "with", "you",
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. CORS and Security headers
//
// and, on the API group only:
//  8. Auth (resolves the caller, upserts the user row)
//  9. Idempotency validator (needs the caller; before rate limiting so
//     replays bypass it)
//  10. Rate limiter (per user/IP, bypass on replay)
//  11. gzip
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true
	db := deps.DB
	pub := deps.Events
	if pub == nil {
		pub = events.Nop{}
	}

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit
	r.Use(limitBody(maxBodyBytes))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) CORS posture (allow all if none configured) and security headers
	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins)...)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		Private:      true,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", health(db))

	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db/adapters/events
	userSvc := &services.UserService{DB: db}
	convSvc := &services.ConversationService{DB: db, Events: pub}
	ingestSvc := &services.IngestService{DB: db, Events: pub}
	h := handlers.New(handlers.Services{
		Contacts:      &services.ContactService{DB: db},
		Notes:         &services.NoteService{DB: db},
		Conversations: convSvc,
		Messages:      &services.MessageService{DB: db},
		Sender: &services.SendService{
			DB:             db,
			Senders:        deps.Senders,
			Events:         pub,
			IdempotencyTTL: cfg.IdempotencyTTL,
		},
		Users:  userSvc,
		Search: &services.SearchService{DB: db, MaxDocs: cfg.SearchMaxDocs, Stopwords: searchStopwords},
	})

	// Provider webhooks
	wh := handlers.NewWebhooks(ingestSvc, handlers.WebhookOptions{
		TwilioAuthToken:     cfg.Providers.Twilio.AuthToken,
		TwilioBaseURL:       cfg.Providers.Twilio.WebhookBaseURL,
		SkipTwilioSignature: cfg.Providers.Twilio.SkipSignature,
		EmailSecret:         cfg.Webhooks.EmailSecret,
	})
	hooks := r.Group("/webhooks")
	{
		hooks.POST("/twilio", wh.TwilioInbound)
		hooks.POST("/twilio/status", wh.TwilioStatus)
		hooks.POST("/email", wh.EmailInbound)
	}

	// Agent API
	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(middleware.Auth(middleware.AuthOptions{
		Secret: cfg.Auth.JWTSecret,
		Issuer: cfg.Auth.JWTIssuer,
		Ensure: func(ctx context.Context, p middleware.Principal) error {
			_, err := userSvc.Ensure(ctx, services.Identity{ID: p.ID, Name: p.Name, Email: p.Email, Role: p.Role})
			return err
		},
	}))
	api.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{MaxLen: 200},
		func(ctx context.Context, userID, scope, key string, now time.Time) (bool, error) {
			_, err := repo.GetIdempotency(ctx, db, userID, scope, key, now)
			if errors.Is(err, repo.ErrNotFound) {
				return false, nil
			}
			return err == nil, err
		},
	))
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	api.Use(rl.Handler())
	api.Use(gzip.Gzip(gzip.DefaultCompression))
	{
		// Current user
		api.GET("/me", h.GetMe)
		api.PATCH("/me", h.UpdateMe)

		// Contacts and notes
		api.GET("/contacts", h.ListContacts)
		api.POST("/contacts", h.CreateContact)
		api.GET("/contacts/:id", h.GetContact)
		api.PATCH("/contacts/:id", h.UpdateContact)
		api.GET("/contacts/:id/notes", h.ListNotes)
		api.POST("/contacts/:id/notes", h.CreateNote)

		// Conversations
		api.GET("/conversations", h.ListConversations)
		api.GET("/conversations/stats", h.ConversationStats)
		api.GET("/conversations/:id", h.GetConversation)
		api.PATCH("/conversations/:id", h.UpdateConversation)
		api.POST("/conversations/:id/read", h.MarkConversationRead)
		api.GET("/conversations/:id/messages", h.ListConversationMessages)

		// Messages
		api.POST("/messages/send", h.SendMessage)
		api.GET("/messages", h.ListMessages)

		// Search
		api.GET("/search", h.Search)
	}
}

// health reports liveness and whether the database answers a ping.
func health(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			err = sqlDB.PingContext(ctx)
			cancel()
		}
		if err != nil {
			middleware.LoggerFrom(c).Error().Err(err).Msg("health: database unreachable")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "db": "down"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "db": "up"})
	}
}

// corsMiddleware returns the CORS chain. Without an allowlist every origin
// is accepted and credentials are off.
func corsMiddleware(origins []string) []gin.HandlerFunc {
	base := cors.Config{
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Accept", "Authorization", "If-None-Match",
			middleware.HeaderUserID, middleware.HeaderIdempotencyKey,
		},
		ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "ETag", middleware.HeaderIdempotencyReplayed},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}

	if len(origins) == 0 {
		base.AllowAllOrigins = true
		// Force ACAO: * even for requests without an Origin header.
		return []gin.HandlerFunc{
			func(c *gin.Context) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(base),
		}
	}

	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	base.AllowOrigins = origins
	return []gin.HandlerFunc{
		func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		},
		cors.New(base),
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
