package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/cinema-ticket-checkout/internal/booking"
	"github.com/iliyamo/cinema-ticket-checkout/internal/config"
	"github.com/iliyamo/cinema-ticket-checkout/internal/database"
	"github.com/iliyamo/cinema-ticket-checkout/internal/handler"
	"github.com/iliyamo/cinema-ticket-checkout/internal/idgen"
	"github.com/iliyamo/cinema-ticket-checkout/internal/loyalty"
	"github.com/iliyamo/cinema-ticket-checkout/internal/middleware"
	"github.com/iliyamo/cinema-ticket-checkout/internal/payment"
	"github.com/iliyamo/cinema-ticket-checkout/internal/pending"
	"github.com/iliyamo/cinema-ticket-checkout/internal/queue"
	"github.com/iliyamo/cinema-ticket-checkout/internal/repository"
	"github.com/iliyamo/cinema-ticket-checkout/internal/router"
	"github.com/iliyamo/cinema-ticket-checkout/internal/service"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.Load()
	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.WithError(err).Fatal("database: open failed")
	}
	defer db.Close()
	if err := database.Migrate(ctx, db); err != nil {
		log.WithError(err).Fatal("database: migrate failed")
	}

	rdb := config.NewRedisClient()
	if rdb != nil {
		defer rdb.Close()
	}

	catalog := repository.NewCatalogRepo(db)
	promotions := repository.NewPromotionRepo(db)
	invoices := repository.NewInvoiceRepo(db)
	users := repository.NewUserRepo(db)
	store := repository.NewBookingStore(db)
	begin := func(ctx context.Context) (booking.Tx, error) {
		tx, err := store.Begin(ctx)
		if err != nil {
			return nil, err
		}
		return tx, nil
	}

	ids := idgen.New(repository.NewIdentifierRepo(db), idCounter(rdb, cfg),
		idgen.WithLocation(cfg.Location),
		idgen.WithMaxAttempts(cfg.Booking.IDMaxAttempts),
		idgen.WithLogger(log.WithField("component", "idgen")),
	)
	selections := selectionStore(rdb)
	gateway := payment.NewGateway(payment.Config{
		TmnCode:     cfg.Payment.TmnCode,
		HashSecret:  cfg.Payment.HashSecret,
		PayURL:      cfg.Payment.PayURL,
		ReturnURL:   cfg.Payment.ReturnURL,
		Version:     cfg.Payment.Version,
		Locale:      cfg.Payment.Locale,
		Currency:    cfg.Payment.Currency,
		ExpireAfter: cfg.Payment.ExpireAfter,
		Location:    cfg.Location,
	})
	publisher := service.NewPublisher(cfg.AMQPURL, log)
	bookingLog := log.WithField("component", "booking")

	checkout := booking.NewService(booking.Deps{
		Begin:      begin,
		Catalog:    catalog,
		Invoices:   invoices,
		Promotions: promotions,
		IDs:        ids,
		Selections: selections,
		Gateway:    gateway,
	}, booking.Config{
		HoldTTL:      cfg.Booking.HoldTTL,
		SelectionTTL: cfg.Booking.SelectionTTL,
		Location:     cfg.Location,
	}, booking.WithLogger(bookingLog))

	finalizer := booking.NewFinalizer(booking.FinalizerDeps{
		Begin:      begin,
		Catalog:    catalog,
		Promotions: promotions,
		IDs:        ids,
		Selections: selections,
		Gateway:    gateway,
		Ledger:     loyalty.NewLedger(log.WithField("component", "loyalty")),
	}, booking.WithLogger(bookingLog), booking.WithPublisher(publisher))

	availability := booking.NewAvailability(catalog, catalog, time.Now)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(middleware.RequestID(log))
	e.Use(requestLogger())

	router.RegisterRoutes(e, db)
	router.RegisterAuth(e, handler.NewAuthHandler(cfg, users), cfg.JWTSecret)
	router.RegisterPublic(e, handler.NewShowtimeHandler(availability),
		middleware.NewRedisCache(config.LoadCacheConfig(), rdb))
	router.RegisterCustomer(e, handler.NewCheckoutHandler(checkout), cfg.JWTSecret,
		middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb))
	router.RegisterPayment(e, handler.NewPaymentHandler(finalizer))

	consumer := &queue.Consumer{URL: cfg.AMQPURL, Log: log.WithField("component", "booking-consumer")}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := ":" + cfg.Port
		log.Infof("listening on %s (env=%s)", addr, cfg.Env)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		if err := consumer.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
	log.Info("server stopped")
}

func newLogger(cfg config.Config) *logrus.Logger {
	log := logrus.StandardLogger()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	if cfg.Env == "prod" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return log
}

func requestLogger() echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:  true,
		LogURIPath: true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			entry := middleware.Logger(c).WithFields(logrus.Fields{
				"method":  v.Method,
				"path":    v.URIPath,
				"status":  v.Status,
				"latency": v.Latency.String(),
			})
			if v.Error != nil {
				entry.WithError(v.Error).Warn("request")
				return nil
			}
			entry.Info("request")
			return nil
		},
	})
}

// idCounter uses Redis when available so that several instances share one
// sequence; a single instance can run on the in-process counter.
func idCounter(rdb *redis.Client, cfg config.Config) idgen.Counter {
	if rdb == nil {
		return idgen.NewMemoryCounter()
	}
	return idgen.NewRedisCounter(rdb, cfg.Booking.IDCounterTTL)
}

func selectionStore(rdb *redis.Client) pending.Store {
	if rdb == nil {
		return pending.NewMemoryStore(time.Now)
	}
	return pending.NewRedisStore(rdb)
}
