package main

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/md-rashed-zaman/apptzone/libs/config"
	"github.com/md-rashed-zaman/apptzone/libs/db"
	"github.com/md-rashed-zaman/apptzone/libs/grpcx"
	"github.com/md-rashed-zaman/apptzone/libs/httpx"
	"github.com/md-rashed-zaman/apptzone/libs/kafkax"
	otelx "github.com/md-rashed-zaman/apptzone/libs/otel"
	"github.com/md-rashed-zaman/apptzone/libs/outbox"
	"github.com/md-rashed-zaman/apptzone/libs/runtime"
	"github.com/md-rashed-zaman/apptzone/libs/tz"
	"github.com/md-rashed-zaman/apptzone/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptzone/services/booking-service/internal/consumer"
	"github.com/md-rashed-zaman/apptzone/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/apptzone/services/booking-service/internal/inbox"
	"github.com/md-rashed-zaman/apptzone/services/booking-service/internal/scheduling"
	"github.com/md-rashed-zaman/apptzone/services/booking-service/internal/storage"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func engineConfig(resolver *tz.Resolver) (availability.Config, error) {
	grid, err := config.Minutes("SLOT_GRID_MINUTES", 15)
	if err != nil {
		return availability.Config{}, err
	}
	allowPast, err := config.Bool("ALLOW_PAST_SLOTS", false)
	if err != nil {
		return availability.Config{}, err
	}
	zone := tz.ID(config.String("DEFAULT_TIMEZONE", ""))
	if zone != "" {
		if err := resolver.Validate(zone); err != nil {
			return availability.Config{}, err
		}
	}
	return availability.Config{GridInterval: grid, AllowPastSlots: allowPast, DefaultTimeZone: zone}, nil
}

func main() {
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	resolver := tz.NewResolver(tz.SystemDatabase())
	engineCfg, err := engineConfig(resolver)
	if err != nil {
		logger.Error("invalid availability config", "err", err)
		panic(err)
	}
	engine := availability.NewEngine(tz.NewConverter(resolver), engineCfg)

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	readyChecks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
	}

	outboxRepo := outbox.NewRepository(pool)
	repo := storage.NewBookingRepository(pool, outboxRepo)

	var schedules scheduling.Provider = scheduling.NewRepositoryProvider(pool)
	var rdb *redis.Client
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: addr})
		defer func() { _ = rdb.Close() }()
		readyChecks = append(readyChecks, runtime.ReadyCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})

		ttl, err := config.Duration("SCHEDULE_CACHE_TTL", 5*time.Minute)
		if err != nil {
			panic(err)
		}
		cached := scheduling.NewCachedProvider(schedules, scheduling.NewRedisCache(rdb), ttl, logger)
		schedules = cached
		startScheduleConsumer(ctx, logger, pool, cached)
	}

	brokers := config.String("KAFKA_BROKERS", "")
	if brokers != "" {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
		publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
			Brokers:   brokers,
			PollEvery: 2 * time.Second,
			BatchSize: 50,
		})
		go publisher.Run(ctx)
	}
	if addr := config.String("BUSINESS_GRPC_ADDR", ""); addr != "" {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "business-service", Check: grpcx.HealthCheck(addr, "")})
	}

	bookingHandler := handlers.NewBookingHandler(repo, schedules, engine, logger)

	requestTimeout, err := config.Duration("REQUEST_TIMEOUT", 10*time.Second)
	if err != nil {
		panic(err)
	}

	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	mux.HandleFunc("/api/v1/public/slots", bookingHandler.Slots)
	mux.HandleFunc("/api/v1/public/book", bookingHandler.Create)
	mux.HandleFunc("/api/v1/appointments", bookingHandler.List)
	mux.HandleFunc("/api/v1/appointments/cancel", bookingHandler.Cancel)

	limit, err := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	if err != nil {
		panic(err)
	}
	var limiter httpx.Middleware
	if rdb != nil {
		limiter = httpx.NewRedisRateLimiter(rdb, limit, time.Minute, "rl:booking").
			KeyedBy(httpx.BusinessClientKey).
			Middleware(logger, true)
	} else {
		limiter = httpx.NewRateLimiter(limit, time.Minute).KeyedBy(httpx.BusinessClientKey).Middleware()
	}

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.OnPrefix("/api/v1/public/", limiter),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: splitList(config.String("CORS_ALLOWED_ORIGINS", "")),
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "Idempotency-Key", httpx.RequestIDHeader},
			MaxAge:         10 * time.Minute,
		}),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(requestTimeout),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	runtime.ServeHTTP(ctx, logger, srv, 10*time.Second)
}

// startScheduleConsumer drops cached schedules when business-service publishes a change.
func startScheduleConsumer(ctx context.Context, logger *slog.Logger, pool *db.Pool, cache consumer.Invalidator) {
	brokers := config.String("KAFKA_BROKERS", "")
	topic := config.String("KAFKA_SCHEDULE_TOPIC", outbox.ScheduleUpdated)
	if brokers == "" || strings.TrimSpace(topic) == "" {
		return
	}
	c := consumer.New(logger, inbox.NewRepository(pool), consumer.Config{
		Brokers: brokers,
		GroupID: config.String("KAFKA_GROUP_ID", "booking-service"),
		Topic:   topic,
	}, consumer.ScheduleUpdated(logger, cache))
	go c.Run(ctx)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
