package routes

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/congo_custody/internal/apperr"
	"github.com/congo-pay/congo_custody/internal/auth"
	"github.com/congo-pay/congo_custody/internal/bankaccount"
	"github.com/congo-pay/congo_custody/internal/config"
	"github.com/congo-pay/congo_custody/internal/deposit"
	"github.com/congo-pay/congo_custody/internal/fees"
	"github.com/congo-pay/congo_custody/internal/ledger"
	"github.com/congo-pay/congo_custody/internal/metrics"
	"github.com/congo-pay/congo_custody/internal/middleware"
	"github.com/congo-pay/congo_custody/internal/notification"
	"github.com/congo-pay/congo_custody/internal/twofactor"
	"github.com/congo-pay/congo_custody/internal/wallet"
	"github.com/congo-pay/congo_custody/internal/withdrawal"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
	// Gatherer backs /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
	Metrics  *metrics.Metrics
	// Dispatcher publishes approved withdrawals; nil leaves them APPROVED until redispatch.
	Dispatcher withdrawal.Dispatcher
	// Authority overrides the HTTP 2FA client; tests use it.
	Authority twofactor.Authority
}

// Services are the domain services built by Build. The executor consumer and
// redispatch loop reuse Withdrawals.
type Services struct {
	Book         ledger.Book
	BankAccounts *bankaccount.Service
	Withdrawals  *withdrawal.Service
	Deposits     *deposit.Service
	Wallet       *wallet.Service
}

// Build assembles the services on PostgreSQL when a pool is configured and
// on the in-memory backends otherwise.
func Build(d Deps) (*Services, error) {
	if d.Cfg.IsProduction() {
		if d.DB == nil {
			return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	schedules := map[string]fees.Schedule(nil)
	if d.Cfg.FeeSchedulePath != "" {
		loaded, err := fees.LoadSchedules(d.Cfg.FeeSchedulePath)
		if err != nil {
			return nil, err
		}
		schedules = loaded
	}
	calc := fees.NewCalculator(schedules)

	limits := withdrawalConfig(d.Cfg.Limits)

	var (
		book         ledger.Book
		withdrawRepo withdrawal.Repository
		depositRepo  deposit.Repository
		bankRepo     bankaccount.Repository
	)
	if d.DB != nil {
		book = ledger.NewPostgresBook(d.DB, d.Metrics)
		withdrawRepo = withdrawal.NewPostgresRepository(d.DB)
		depositRepo = deposit.NewPostgresRepository(d.DB)
		bankRepo = bankaccount.NewPostgresRepository(d.DB)
	} else {
		book = ledger.NewInMemory()
		withdrawRepo = withdrawal.NewMemoryRepository()
		depositRepo = deposit.NewMemoryRepository()
		bankRepo = bankaccount.NewMemoryRepository()
	}

	var attempts twofactor.AttemptStore
	if d.Cache != nil {
		attempts = twofactor.NewRedisStore(d.Cache, d.Cfg.TwoFactor.Window)
	} else {
		attempts = twofactor.NewMemoryStore(d.Cfg.TwoFactor.Window)
	}
	authority := d.Authority
	if authority == nil {
		tf := d.Cfg.TwoFactor
		authority = twofactor.NewHTTPAuthority(tf.URL, tf.Timeout, tf.RPS, tf.Burst)
	}
	gateway := twofactor.NewGateway(authority, attempts, twofactor.Config{
		MaxAttempts: d.Cfg.TwoFactor.MaxAttempts,
		Window:      d.Cfg.TwoFactor.Window,
		Timeout:     d.Cfg.TwoFactor.Timeout,
		AllowBypass: d.Cfg.TwoFactor.AllowBypass,
		Production:  d.Cfg.IsProduction(),
	}, d.Logger, d.Metrics)

	notifier := notification.NewLoggerNotifier(d.Logger)

	banks := bankaccount.NewService(bankRepo, d.Logger, withdrawRepo, depositRepo)
	banks.SetNotifier(notifier)

	return &Services{
		Book:         book,
		BankAccounts: banks,
		Withdrawals: withdrawal.NewService(withdrawal.Deps{
			Repo:       withdrawRepo,
			Book:       book,
			Fees:       calc,
			TwoFactor:  gateway,
			Banks:      banks,
			Dispatcher: d.Dispatcher,
			Notifier:   notifier,
			Metrics:    d.Metrics,
			Logger:     d.Logger,
		}, limits),
		Deposits: deposit.NewService(deposit.Deps{
			Repo:     depositRepo,
			Book:     book,
			Fees:     calc,
			Banks:    banks,
			Notifier: notifier,
			Metrics:  d.Metrics,
			Logger:   d.Logger,
		}),
		Wallet: wallet.NewService(book, d.Logger),
	}, nil
}

func withdrawalConfig(l config.Limits) withdrawal.Config {
	return withdrawal.Config{
		ApprovalThreshold: l.ApprovalThresholdDecimal(),
		FiatDaily:         withdrawal.DailyLimit{Amount: l.FiatDailyDecimal(), Count: l.FiatDailyCount},
		CryptoDaily:       withdrawal.DailyLimit{Amount: l.CryptoDailyDecimal(), Count: l.CryptoDailyCount},
	}
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps, svc *Services) {
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	api := app.Group("/api/v1", middleware.JWTAuth(d.Cfg.JWTSecret))

	// Money-moving creates are replay-protected when Redis is available.
	guard := []fiber.Handler{middleware.UserRateLimit(d.Cache, "withdraw", d.Cfg.WithdrawRatePerMin, d.Logger)}
	if d.Cache != nil {
		guard = append(guard, middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}

	withdrawals := withdrawal.NewHandler(svc.Withdrawals)
	deposits := deposit.NewHandler(svc.Deposits)
	banks := bankaccount.NewHandler(svc.BankAccounts)
	wallets := wallet.NewHandler(svc.Wallet)

	// Prefixed groups go first: the user group has no prefix, so its role
	// check would otherwise run for every /api/v1 path.
	exec := api.Group("/executor", middleware.RequireRole(auth.RoleExecutor))
	RegisterExecutorRoutes(exec, withdrawals)

	admin := api.Group("/admin", middleware.RequireRole(auth.RoleAdmin))
	RegisterAdminRoutes(admin, AdminHandlers{
		Withdrawals:  withdrawals,
		Deposits:     deposits,
		BankAccounts: banks,
		Wallet:       wallets,
	})

	user := api.Group("", middleware.RequireRole(auth.RoleUser, auth.RoleAdmin))
	RegisterWithdrawalRoutes(user, withdrawals, guard)
	RegisterDepositRoutes(user, deposits)
	RegisterBankAccountRoutes(user, banks)
	RegisterWalletRoutes(user, wallets)
}

// ErrorHandler renders domain errors with their mapped status and a safe message.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
		}
		status := apperr.HTTPStatus(err)
		if status == http.StatusInternalServerError {
			logger.Error("unhandled error", slog.String("path", c.Path()), slog.Any("error", err))
		}
		return c.Status(status).JSON(fiber.Map{"error": apperr.PublicMessage(err)})
	}
}
