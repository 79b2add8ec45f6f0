package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"github.com/AnshRaj112/trialguard-backend/internal/config"
	"github.com/AnshRaj112/trialguard-backend/internal/database"
	"github.com/AnshRaj112/trialguard-backend/internal/handlers"
	"github.com/AnshRaj112/trialguard-backend/internal/metrics"
	"github.com/AnshRaj112/trialguard-backend/internal/middleware"
	"github.com/AnshRaj112/trialguard-backend/internal/policy"
	"github.com/AnshRaj112/trialguard-backend/internal/routes"
	"github.com/AnshRaj112/trialguard-backend/internal/services"
	"github.com/AnshRaj112/trialguard-backend/internal/store"
	"github.com/AnshRaj112/trialguard-backend/pkg/clientip"
)

const pendingDrainInterval = 30 * time.Second

func main() {
	// Load env
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration: ", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	ips := clientip.Resolver{TrustProxy: cfg.TrustProxy}
	ready := map[string]handlers.Pinger{}

	// memory backend runs without Redis and PostgreSQL (local development only)
	standalone := cfg.StoreBackend == config.BackendMemory
	if standalone && cfg.IsProduction() {
		log.Println("⚠️  WARNING: STORE_BACKEND=memory in production; trial state is lost on restart")
	}

	if !standalone {
		log.Printf("Connecting to Redis...")
		if err := database.ConnectRedis(cfg.RedisURI); err != nil {
			log.Fatal("Failed to connect to Redis:", err)
		}
		defer database.DisconnectRedis()
		ready["redis"] = handlers.PingFunc(func(ctx context.Context) error {
			return database.RedisClient.Ping(ctx).Err()
		})

		log.Printf("Connecting to PostgreSQL...")
		if err := database.ConnectPostgres(cfg.PostgresURI); err != nil {
			log.Fatal("Failed to connect to PostgreSQL:", err)
		}
		defer database.DisconnectPostgres()
		if err := database.Migrate(cfg.PostgresURI, "up"); err != nil {
			log.Fatal("Failed to migrate PostgreSQL:", err)
		}
		log.Println("✅ PostgreSQL migrations applied")
		ready["postgres"] = handlers.PingFunc(database.PostgresDB.PingContext)
	}

	st := openStore(cfg)
	if cfg.StoreBackend == config.BackendMongo {
		defer database.Disconnect()
	}
	ready["store"] = st

	networkPolicy, err := policy.LoadRegoNetworkPolicy(ctx, cfg.NetworkPolicyFile)
	if err != nil {
		log.Fatal("Failed to load network policy:", err)
	}
	ready["network_policy"] = handlers.PingFunc(networkPolicy.HealthCheck)
	if cfg.EnforceNetworkLimit {
		log.Println("✅ Network prefix limit enforced at evaluation time")
	}

	var (
		queue    services.PendingQueue
		locker   services.DeviceLocker
		sessions services.AdminSessions
		admins   services.AdminRepository
		auditRep services.AuditRepository
		feed     *services.ReviewFeed
	)
	if standalone {
		queue = services.NewMemoryPendingQueue()
		locker = services.NewMemoryDeviceLocker()
		sessions = services.NewMemoryAdminSessions()
		admins = services.NewMemoryAdminRepository()
		auditRep = services.NewMemoryAuditRepository()
		feed = services.NewReviewFeed(nil)
		bootstrapOperator(ctx, admins)
	} else {
		queue = services.NewRedisPendingQueue(database.RedisClient)
		locker = services.NewRedisDeviceLocker(database.RedisClient)
		sessions = services.NewRedisAdminSessions(database.RedisClient)
		admins = services.NewPostgresAdminRepository(database.PostgresDB)
		auditRep = services.NewPostgresAuditRepository(database.PostgresDB)
		feed = services.NewReviewFeed(database.RedisClient)
	}
	feed.Start(ctx)

	evaluator := services.NewEvaluator(st, cfg.Policy(),
		services.WithNetworkPolicy(networkPolicy),
		services.WithEvaluatorMetrics(m),
		services.WithStoreTimeout(cfg.StoreTimeout),
	)
	recorder := services.NewRecorder(st,
		services.WithPendingQueue(queue),
		services.WithRecorderMetrics(m),
		services.WithRetry(uint(max(cfg.RecordMaxAttempts, 1)), nil),
	)
	recorder.StartPendingDrain(ctx, pendingDrainInterval)
	log.Println("✅ Pending usage drain started")

	administration := services.NewAdministration(st, cfg.Policy(), services.NewAuditLogger(auditRep), feed, m, cfg.AdminDeviceListLimit)

	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Production: SecurityHeaders → HostCheck → GlobalRateLimit → LoginRateLimit
	if cfg.IsProduction() {
		for _, mw := range middleware.ProductionSecurity(cfg.AllowedHost, ips) {
			r.Use(mw)
		}
		log.Println("✅ Production security enabled (security headers, host check, per-IP + login rate limiting)")
	}

	deps := routes.Deps{
		Reports:      handlers.NewReportHandler(evaluator, recorder, locker, services.NewTicketGenerator(), feed, ips),
		AdminTrials:  handlers.NewAdminTrialsHandler(administration),
		AdminAuth:    handlers.NewAdminAuthHandler(admins, sessions),
		ReviewFeed:   handlers.NewReviewFeedHandler(feed, sessions),
		RequireUser:  middleware.RequireUser(cfg.JWTSecret, cfg.JWTIssuer),
		RequireAdmin: middleware.RequireAdmin(sessions, admins, ips),
		Ready:        handlers.Ready(ready),
		Metrics:      m.Handler(),
	}
	if !standalone {
		deps.GatedRateLimit = middleware.NewRedisRateLimiter(database.RedisClient, ips).Middleware
	}
	routes.SetupRoutes(r, deps)

	log.Println("📋 Registered routes:")
	log.Println("  GET  /health, /ready, /metrics")
	log.Println("  POST /api/trial/check")
	log.Println("  POST /api/reports/generate")
	log.Println("  POST /api/admin/signin, /api/admin/signout")
	log.Println("  GET  /api/admin/trials, /api/admin/trials/audit")
	log.Println("  POST /api/admin/trials/action")
	log.Println("  GET  /ws/admin/review")

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("⚠️  graceful shutdown failed: %v", err)
		}
	}()

	log.Printf("🚀 TrialGuard backend running on :%s (store: %s)", cfg.Port, cfg.StoreBackend)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("Failed to start server:", err)
	}
}

func openStore(cfg *config.Config) store.Store {
	switch cfg.StoreBackend {
	case config.BackendRedis:
		log.Println("✅ Using Redis correlation store")
		return store.NewRedisStore(database.RedisClient)
	case config.BackendMemory:
		log.Println("⚠️  Using in-memory correlation store")
		return store.NewMemoryStore()
	default:
		log.Printf("Connecting to MongoDB at %s...", maskURI(cfg.MongoURI))
		if err := database.Connect(cfg.MongoURI); err != nil {
			log.Fatal("Failed to connect to MongoDB:", err)
		}
		s := store.NewMongoStore(database.DB)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.EnsureIndexes(ctx); err != nil {
			log.Printf("⚠️  WARNING: failed to ensure MongoDB trial indexes: %v", err)
		} else {
			log.Println("✅ MongoDB trial indexes ensured")
		}
		return s
	}
}

// bootstrapOperator creates the operator from ADMIN_USERNAME/ADMIN_PASSWORD
// when running without PostgreSQL, where cmd/seed has nothing to write to.
func bootstrapOperator(ctx context.Context, admins services.AdminRepository) {
	username, password := os.Getenv("ADMIN_USERNAME"), os.Getenv("ADMIN_PASSWORD")
	if username == "" || password == "" {
		log.Println("⚠️  No ADMIN_USERNAME/ADMIN_PASSWORD set; admin routes have no operator")
		return
	}
	admin, err := services.NewAdmin(username, os.Getenv("ADMIN_EMAIL"), password)
	if err != nil {
		log.Fatal("Failed to create bootstrap operator:", err)
	}
	if err := admins.Create(ctx, admin); err != nil {
		log.Fatal("Failed to create bootstrap operator:", err)
	}
	log.Printf("✅ Bootstrap operator %s created", admin.Username)
}

// maskURI hides the password of user:pass@host URIs.
func maskURI(uri string) string {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return uri
	}
	creds, host, ok := strings.Cut(rest, "@")
	if !ok {
		return uri
	}
	user, _, hasPass := strings.Cut(creds, ":")
	if !hasPass {
		return uri
	}
	return scheme + "://" + user + ":***@" + host
}
