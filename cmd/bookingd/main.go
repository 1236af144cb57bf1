package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fitblendz/bookingd/internal/config"
	"github.com/fitblendz/bookingd/internal/db"
	"github.com/fitblendz/bookingd/internal/handlers"
	"github.com/fitblendz/bookingd/internal/httpx"
	"github.com/fitblendz/bookingd/internal/kafkax"
	"github.com/fitblendz/bookingd/internal/ledger"
	"github.com/fitblendz/bookingd/internal/notify"
	"github.com/fitblendz/bookingd/internal/otelx"
	"github.com/fitblendz/bookingd/internal/outbox"
	"github.com/fitblendz/bookingd/internal/router"
	"github.com/fitblendz/bookingd/internal/runtime"
	"github.com/fitblendz/bookingd/internal/storage"
)

func main() {
	service := config.String("SERVICE_NAME", "bookingd")
	port, err := config.Port("PORT", "8080")
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

	settings, err := config.LoadSettings()
	if err != nil {
		panic(err)
	}

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

	appts := storage.NewAppointmentRepository(pool)
	services := storage.NewServiceRepository(pool)
	rules := storage.NewCalendarRepository(pool)
	outboxRepo := outbox.NewRepository(pool)

	bookingLedger := ledger.New(appts, services, rules, outboxRepo, logger,
		settings.OperatorPhone, settings.HorizonDays, settings.SlotGranularity)

	var messenger notify.Messenger = notify.NoopMessenger{}
	if settings.PhoneNumberID != "" && settings.WhatsAppToken != "" {
		messenger = notify.NewWhatsAppClient(settings.PhoneNumberID, settings.WhatsAppToken)
	} else {
		logger.Warn("whatsapp credentials missing; outbound messages disabled")
	}
	var mail notify.EmailSender = notify.NoopEmail{}
	if settings.SMTPHost != "" {
		mail = notify.NewSMTPSender(settings.SMTPHost, settings.SMTPPort, settings.MailFrom)
	}
	notifier := notify.NewService(messenger, mail, bookingLedger, logger,
		settings.OperatorPhone, settings.BusinessName)

	kafkaBrokers := config.String("KAFKA_BROKERS", "")
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   kafkaBrokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	reminders := notify.NewReminderWorker(appts, notifier, logger,
		time.Duration(config.Int("REMINDER_SWEEP_MINUTES", 15))*time.Minute,
		config.Int("REMINDER_LEAD_DAYS", 1))
	go reminders.Run(ctx)

	bookingHandler := handlers.NewBookingHandler(bookingLedger, notifier, services, rules, logger)
	webhook := router.New(bookingLedger, notifier, logger, settings.VerifyToken, settings.OperatorPhone)

	readyChecks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
	}
	if kafkaBrokers != "" {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(kafkaBrokers)})
	}
	mux := runtime.NewBaseMuxWithReady(readyChecks...)

	publicLimit := publicRateLimiter(logger)
	mux.Handle("/api/v1/public/book", publicLimit(http.HandlerFunc(bookingHandler.Create)))
	mux.Handle("/api/v1/public/slots", publicLimit(http.HandlerFunc(bookingHandler.Slots)))
	mux.Handle("/api/v1/public/hours", publicLimit(http.HandlerFunc(bookingHandler.Hours)))
	mux.Handle("/api/v1/public/services", publicLimit(http.HandlerFunc(bookingHandler.Services)))
	mux.HandleFunc("/api/v1/appointments/status", bookingHandler.SetStatus)
	mux.HandleFunc("/api/v1/appointments/delete", bookingHandler.Delete)
	mux.Handle("/webhook/whatsapp", webhook)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithBodyLimit(1<<20),
		httpx.WithAccessLog(logger),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, service)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

// publicRateLimiter throttles the unauthenticated booking endpoints.
// With REDIS_ADDR set the window is shared across replicas and fails
// open; otherwise a per-process limiter applies.
func publicRateLimiter(logger *slog.Logger) httpx.Middleware {
	limit := config.Int("PUBLIC_RATE_LIMIT", 30)
	window := time.Duration(config.Int("PUBLIC_RATE_WINDOW_SECONDS", 60)) * time.Second

	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		return httpx.NewRedisRateLimiter(rdb, limit, window, "bookingd:public").Middleware(logger, true)
	}
	return httpx.NewRateLimiter(limit, window).Middleware()
}
