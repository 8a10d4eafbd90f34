package appServer

import (
	"context"
	"crypto/tls"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ds124wfegd/transferbook/config"
	repository "github.com/ds124wfegd/transferbook/internal/database/postgres"
	cache "github.com/ds124wfegd/transferbook/internal/database/redis"
	"github.com/ds124wfegd/transferbook/internal/notification"
	"github.com/ds124wfegd/transferbook/internal/service"
	"github.com/ds124wfegd/transferbook/internal/transport"
	"github.com/ds124wfegd/transferbook/internal/worker"
	"github.com/ds124wfegd/transferbook/pkg/events"
	"github.com/ds124wfegd/transferbook/pkg/mailer"
	"github.com/ds124wfegd/transferbook/pkg/postgres"
	"github.com/ds124wfegd/transferbook/pkg/queue"
	"github.com/ds124wfegd/transferbook/pkg/redis"
	"github.com/ds124wfegd/transferbook/pkg/scheduler"
	"github.com/ds124wfegd/transferbook/pkg/sms"
	"github.com/ds124wfegd/transferbook/pkg/telegram"

	"github.com/gin-gonic/gin"
	goredis "github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

type Server struct {
	httpServer *http.Server
}

func (s *Server) Run(cfg *config.Config, handler http.Handler) error {
	s.httpServer = &http.Server{
		Addr:              cfg.ServerAddress(),
		Handler:           handler,
		MaxHeaderBytes:    1 << 20,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.Server.Timeout + 5*time.Second,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ReadHeaderTimeout: 3 * time.Second,
		TLSConfig:         &tls.Config{MinVersion: tls.VersionTLS12},
		ErrorLog:          log.New(os.Stderr, "SERVER ERROR: ", log.LstdFlags),
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// App holds everything NewServer builds so it can be torn down in order.
type App struct {
	db          *sql.DB
	redisClient *goredis.Client
	queue       *queue.RedisQueue
	publisher   *events.Publisher
	scheduler   *scheduler.Scheduler
	cancel      context.CancelFunc

	Router *gin.Engine
}

func setupLogging(cfg *config.LogConfig) {
	if cfg.Format == "text" {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
	logrus.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}

// Build wires the repositories, services, jobs and routes.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	ctx, cancel := context.WithCancel(ctx)
	app := &App{cancel: cancel}

	db, err := postgres.NewPostgresDB(ctx, &cfg.Database)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := postgres.RunMigrations(ctx, db); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	bookingRepo := repository.NewBookingRepository(db)
	invoiceRepo := repository.NewInvoiceRepository(db)
	userRepo := repository.NewUserRepository(db)
	vehicleTypeRepo := repository.NewVehicleTypeRepository(db)

	var settings service.SettingsProvider = repository.NewSettingsRepository(db)
	if cfg.Redis.Enabled {
		client, err := redis.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			logrus.WithError(err).Warn("Redis unavailable, continuing without cache and queue")
		} else {
			app.redisClient = client
			settings = cache.NewSettingsCache(repository.NewSettingsRepository(db), client, cfg.Redis.SettingsTTL)
		}
	}

	dispatcher, reporter := buildNotifiers(cfg)
	var notifier service.Notifier = dispatcher
	var cancellationReporter service.CancellationReporter = reporter
	var queueStats transport.QueueStatsProvider

	if cfg.Notifications.Mode == "queue" {
		if app.redisClient == nil {
			logrus.Warn("Notification queue needs Redis, delivering notifications directly")
		} else {
			app.queue = queue.NewRedisQueue(app.redisClient, &queue.RedisQueueConfig{
				Name:       cfg.Notifications.QueueName,
				MaxRetries: cfg.Notifications.MaxRetries,
				BaseDelay:  cfg.Notifications.RetryDelay,
				Workers:    cfg.Notifications.Workers,
			}, nil)
			if err := app.queue.Subscribe(ctx, notification.TaskHandler(dispatcher, reporter)); err != nil {
				app.Close()
				return nil, fmt.Errorf("failed to start notification queue: %w", err)
			}
			adapter := service.NewQueueAdapter(app.queue)
			notifier = adapter
			cancellationReporter = adapter
			queueStats = app.queue
			logrus.Info("Notifications delivered through the Redis queue")
		}
	}

	var eventPublisher service.EventPublisher
	if cfg.RabbitMQ.Enabled {
		publisher, err := events.NewPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
		if err != nil {
			logrus.WithError(err).Warn("RabbitMQ unavailable, booking events disabled")
		} else {
			app.publisher = publisher
			eventPublisher = publisher
		}
	}

	invoiceService := service.NewInvoiceService(invoiceRepo, bookingRepo, userRepo, service.InvoiceOptions{
		CreateAttempts:  cfg.Billing.InvoiceRetryAttempts,
		CreateBaseDelay: cfg.Billing.InvoiceRetryBaseDelay,
		NumberAttempts:  cfg.Billing.NumberCheckAttempts,
		NumberDelay:     cfg.Billing.NumberCheckDelay,
		CompanyName:     cfg.Billing.CompanyName,
		Currency:        cfg.Billing.Currency,
	})
	bookingService := service.NewBookingService(bookingRepo, invoiceService, service.BookingDeps{
		Users:             userRepo,
		Settings:          settings,
		Notifier:          notifier,
		Events:            eventPublisher,
		DefaultCommission: cfg.Billing.DefaultCommission,
	})

	if cfg.Jobs.Enabled {
		jobs := worker.NewBookingJobs(worker.Deps{
			Bookings:     bookingRepo,
			Users:        userRepo,
			VehicleTypes: vehicleTypeRepo,
			Notifier:     notifier,
			Reporter:     cancellationReporter,
			Events:       eventPublisher,
		}, worker.OptionsFromConfig(cfg.Jobs))

		var locker scheduler.Locker
		if cfg.Jobs.DistributedLock && app.redisClient != nil {
			locker = redis.NewLocker(app.redisClient, "transferbook:jobs:", cfg.Jobs.LockTTL)
		}

		app.scheduler, err = jobs.StartScheduledJobs(ctx, cfg.Jobs.Interval, locker)
		if err != nil {
			app.Close()
			return nil, err
		}
	}

	if cfg.Server.Mode == "release" || cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	app.Router = transport.InitRoutes(transport.Handlers{
		Booking:  transport.NewBookingHandler(bookingService, invoiceService),
		Invoice:  transport.NewInvoiceHandler(invoiceService),
		Settings: transport.NewSettingsHandler(settings),
		Admin:    transport.NewAdminHandler(queueStats),
	}, &cfg.Server)

	return app, nil
}

// buildNotifiers returns the direct delivery side. Disabled channels stay nil.
func buildNotifiers(cfg *config.Config) (*notification.Dispatcher, *notification.AdminReporter) {
	var smsSender notification.SMSSender
	if cfg.SMS.Enabled {
		smsSender = sms.NewClient(sms.Config{
			BaseURL:    cfg.SMS.BaseURL,
			AccountSID: cfg.SMS.AccountSID,
			AuthToken:  cfg.SMS.AuthToken,
			From:       cfg.SMS.From,
			Timeout:    cfg.SMS.Timeout,
		})
		logrus.Info("SMS notifications enabled")
	} else {
		logrus.Warn("SMS notifications disabled")
	}

	var emailSender notification.EmailSender
	if cfg.Email.Enabled {
		emailSender = mailer.New(mailer.Config{
			Host:     cfg.Email.Host,
			Port:     cfg.Email.Port,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
			From:     cfg.Email.From,
		})
		logrus.Info("Email notifications enabled")
	} else {
		logrus.Warn("Email notifications disabled")
	}

	var chat notification.ChatSender
	if cfg.Telegram.Enabled && cfg.Telegram.BotToken != "" {
		chat = telegram.NewBot(cfg.Telegram.BotToken)
		logrus.Info("Telegram bot initialized")
	} else {
		logrus.Warn("Telegram bot token not provided, admin chat reports disabled")
	}

	return notification.NewDispatcher(smsSender, emailSender),
		notification.NewAdminReporter(chat, cfg.Telegram.ChatID, emailSender, cfg.Email.AdminEmail)
}

// Close stops background work first, then releases connections.
func (a *App) Close() {
	a.cancel()
	if a.scheduler != nil {
		a.scheduler.Wait()
	}
	if a.queue != nil {
		if err := a.queue.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close notification queue")
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close event publisher")
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close redis client")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close database")
		}
	}
}

func NewServer(cfg *config.Config) {
	setupLogging(&cfg.Log)

	app, err := Build(context.Background(), cfg)
	if err != nil {
		logrus.Fatalf("Failed to start application: %v", err)
	}
	defer app.Close()

	srv := new(Server)
	go func() {
		if err := srv.Run(cfg, app.Router); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatalf("error occured while running http server: %s", err.Error())
		}
	}()

	logrus.WithField("addr", cfg.ServerAddress()).Print("App Started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	logrus.Print("App Shutting Down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logrus.Errorf("error occured on server shutting down: %s", err.Error())
	}
}
