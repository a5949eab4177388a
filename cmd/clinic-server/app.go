package main

import (
	"context"
	"crypto/hmac"
	crypto_rand "crypto/rand"
	"crypto/sha256"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/fisioclinic/clinic/internal/config"
	"github.com/fisioclinic/clinic/internal/domain/billing"
	"github.com/fisioclinic/clinic/internal/domain/crm"
	"github.com/fisioclinic/clinic/internal/domain/gamification"
	"github.com/fisioclinic/clinic/internal/domain/nps"
	"github.com/fisioclinic/clinic/internal/domain/patient"
	"github.com/fisioclinic/clinic/internal/domain/reports"
	"github.com/fisioclinic/clinic/internal/domain/scheduling"
	"github.com/fisioclinic/clinic/internal/domain/staff"
	"github.com/fisioclinic/clinic/internal/domain/telemedicine"
	"github.com/fisioclinic/clinic/internal/domain/tiss"
	"github.com/fisioclinic/clinic/internal/platform/auth"
	"github.com/fisioclinic/clinic/internal/platform/cache"
	"github.com/fisioclinic/clinic/internal/platform/catalog"
	"github.com/fisioclinic/clinic/internal/platform/db"
	"github.com/fisioclinic/clinic/internal/platform/notification"
	"github.com/fisioclinic/clinic/internal/platform/worker"
)

// app holds the services shared by the HTTP server and the worker.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	pool   *pgxpool.Pool
	cache  cache.Cache
	redis  *cache.RedisCache

	sessions *auth.RevocationStore

	catalog      *catalog.Catalog
	notifier     *notification.Manager
	messenger    *patient.Messenger
	staff        *staff.Service
	patients     *patient.Service
	scheduling   *scheduling.Service
	billing      *billing.Service
	crm          *crm.Service
	gamification *gamification.Service
	telemedicine *telemedicine.Service
	tiss         *tiss.Service
	nps          *nps.Service
	reports      *reports.Service
}

// reportSectionLimit lets one dashboard request hold at most a quarter of the
// pool, on top of the request's own tenant connection.
func reportSectionLimit(maxConns int32) int {
	n := int(maxConns) / 4
	if n < 1 {
		return 1
	}
	return n
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// resolveSigningKey returns AUTH_SIGNING_KEY, or a random 32-byte key when
// none is configured. The second return value is true when a random key was
// generated; Validate only allows that in development.
func resolveSigningKey(cfg *config.Config) ([]byte, bool, error) {
	if key := cfg.SigningKey(); len(key) > 0 {
		return key, false, nil
	}
	key := make([]byte, 32)
	if _, err := crypto_rand.Read(key); err != nil {
		return nil, false, fmt.Errorf("failed to generate random signing key: %w", err)
	}
	return key, true, nil
}

const roomKeyLabel = "telemedicine-room"

// roomKey derives the telemedicine token key from the staff signing key so a
// room token can never verify as a staff token, or the reverse.
func roomKey(signingKey []byte) []byte {
	mac := hmac.New(sha256.New, signingKey)
	mac.Write([]byte(roomKeyLabel))
	return mac.Sum(nil)
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default()
	}
	return catalog.Load(path)
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger, signingKey []byte) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	a.pool = pool
	logger.Info().Msg("connected to database")

	if cfg.RedisURL != "" {
		rc, err := cache.NewRedisCache(ctx, cfg.RedisURL)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.redis, a.cache = rc, rc
		logger.Info().Msg("connected to redis")
	} else {
		a.cache = cache.NewMemoryCache()
		logger.Warn().Msg("REDIS_URL not set, using in-process cache")
	}

	if a.catalog, err = loadCatalog(cfg.CatalogFile); err != nil {
		a.close()
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	tx := db.NewTransactor(pool)
	loc := cfg.Location()

	if cfg.NotifyGateway != "" {
		if a.notifier, err = notification.NewGatewayManager(cfg.NotifyGateway, cfg.NotifySecret, logger); err != nil {
			a.close()
			return nil, err
		}
	} else {
		a.notifier = notification.NewLogManager(logger)
	}
	a.notifier.SetRetention(cfg.NotifyRetention, cfg.NotifyOutboxSize)

	a.sessions = auth.NewRevocationStore(a.cache, cfg.TokenTTL)
	a.staff = staff.NewService(staff.NewRepoPG(pool))
	a.staff.SetSessionRevoker(a.sessions)

	a.patients = patient.NewService(
		patient.NewPatientRepoPG(pool),
		patient.NewAnamnesisRepoPG(pool),
		patient.NewEvolutionRepoPG(pool),
	)
	a.patients.SetLogger(logger)
	a.messenger = patient.NewMessenger(a.patients, a.notifier)

	a.scheduling = scheduling.NewService(
		scheduling.NewWorkingHoursRepoPG(pool),
		scheduling.NewAppointmentRepoPG(pool),
		tx,
	)
	a.scheduling.SetCache(a.cache, cfg.CacheTTL)
	a.scheduling.SetLocation(loc)
	a.scheduling.SetLogger(logger)

	a.billing = billing.NewService(
		billing.NewReceivableRepoPG(pool),
		billing.NewPaymentRepoPG(pool),
		billing.NewPayableRepoPG(pool),
		tx,
	)
	a.billing.SetLocation(loc)

	a.crm = crm.NewService(crm.NewLeadRepoPG(pool), a.patients, crm.NewScorer(a.catalog), tx)

	a.gamification = gamification.NewService(gamification.NewPointRepoPG(pool), a.catalog)
	a.gamification.SetCache(a.cache, cfg.CacheTTL)
	a.gamification.SetLocation(loc)
	a.gamification.SetLogger(logger)

	a.telemedicine = telemedicine.NewService(
		telemedicine.NewSessionRepoPG(pool),
		a.scheduling,
		telemedicine.NewRoomSigner(roomKey(signingKey), cfg.TelemedTokenTTL),
		cfg.TelemedBaseURL,
	)
	a.telemedicine.SetLogger(logger)
	a.telemedicine.SetNotifier(telemedicineLinkNotifier(a.messenger, loc))

	a.tiss = tiss.NewService(
		tiss.NewPlanRepoPG(pool),
		tiss.NewGuideRepoPG(pool),
		tiss.NewBatchRepoPG(pool),
		a.catalog,
		tx,
	)
	a.tiss.SetCache(a.cache, cfg.CacheTTL)
	a.tiss.SetLogger(logger)

	a.nps = nps.NewService(nps.NewSurveyRepoPG(pool), a.messenger, cfg.PublicBaseURL)
	a.nps.SetLogger(logger)

	a.reports = reports.NewService(reports.NewRepoPG(pool), func(ctx context.Context, fn func(ctx context.Context) error) error {
		return db.RunInTenant(ctx, pool, db.TenantFromContext(ctx), fn)
	})
	a.reports.SetCache(a.cache, cfg.CacheTTL)
	a.reports.SetLocation(loc)
	a.reports.SetSectionLimit(reportSectionLimit(cfg.DBMaxConns))
	a.reports.SetLogger(logger)

	a.wireHooks()
	return a, nil
}

// wireHooks connects the modules that react to each other's events.
func (a *app) wireHooks() {
	a.scheduling.AddCompletionHook("billing", func(ctx context.Context, appt *scheduling.Appointment) error {
		_, err := a.billing.CreateForAppointment(ctx, billing.AppointmentCharge{
			AppointmentID: appt.ID,
			PatientID:     appt.PatientID,
			AmountCents:   appt.PriceCents,
		})
		return err
	})
	a.scheduling.AddCompletionHook("gamification", func(ctx context.Context, appt *scheduling.Appointment) error {
		_, err := a.gamification.AwardAttendance(ctx, appt.PatientID, appt.ID, appt.StartAt)
		return err
	})
	a.scheduling.AddCompletionHook("nps", func(ctx context.Context, appt *scheduling.Appointment) error {
		_, _, err := a.nps.Dispatch(ctx, appt.PatientID, appt.ID)
		return err
	})

	a.patients.AddAnamnesisHook(func(ctx context.Context, an *patient.Anamnesis) error {
		_, _, err := a.gamification.Award(ctx, &gamification.PointEvent{
			PatientID:   an.PatientID,
			Kind:        gamification.KindEvaluation,
			ReferenceID: an.PatientID.String(),
		})
		return err
	})

	a.nps.AddAnswerHook(func(ctx context.Context, s *nps.Survey) error {
		_, _, err := a.gamification.Award(ctx, &gamification.PointEvent{
			PatientID:   s.PatientID,
			Kind:        gamification.KindNPSResponse,
			ReferenceID: s.ID.String(),
		})
		return err
	})
}

func (a *app) registerJobs(w *worker.Worker) {
	loc := a.cfg.Location()
	w.Register(worker.Job{
		Name:      "appointment_reminders",
		PerTenant: true,
		Run:       reminderJob(a.scheduling, a.staff, a.messenger, a.cfg.ReminderLeadTime, loc),
	})
	w.Register(worker.Job{
		Name:      "overdue_sweep",
		PerTenant: true,
		Run:       overdueJob(a.billing, a.messenger, time.Now, loc),
	})
	w.Register(worker.Job{
		Name:      "notification_retry",
		PerTenant: true,
		Run: func(ctx context.Context) error {
			if n := a.notifier.RetryFailed(ctx); n > 0 {
				a.logger.Info().Int("count", n).Str("tenant", db.TenantFromContext(ctx)).Msg("notifications retried")
			}
			return nil
		},
	})
	w.Register(worker.Job{
		Name:      "lead_rescore",
		PerTenant: true,
		Run: func(ctx context.Context) error {
			_, err := a.crm.RescoreAll(ctx)
			return err
		},
	})
}

func (a *app) newWorker() *worker.Worker {
	w := worker.New(
		func(ctx context.Context) ([]string, error) { return db.ListTenants(ctx, a.pool) },
		func(ctx context.Context, tenant string, fn func(ctx context.Context) error) error {
			return db.RunInTenant(ctx, a.pool, tenant, fn)
		},
		a.cfg.WorkerInterval,
		a.logger,
	)
	a.registerJobs(w)
	return w
}

func (a *app) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("failed to close redis")
		}
	}
	a.pool.Close()
}
