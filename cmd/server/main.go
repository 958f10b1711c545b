package main

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/digkill/WeddingAI/internal/admin"
	"github.com/digkill/WeddingAI/internal/config"
	"github.com/digkill/WeddingAI/internal/database"
	"github.com/digkill/WeddingAI/internal/facedetect"
	"github.com/digkill/WeddingAI/internal/httpapi"
	"github.com/digkill/WeddingAI/internal/kie"
	"github.com/digkill/WeddingAI/internal/limiter"
	"github.com/digkill/WeddingAI/internal/repository"
	"github.com/digkill/WeddingAI/internal/repository/memory"
	"github.com/digkill/WeddingAI/internal/service"
	"github.com/digkill/WeddingAI/internal/storage"
	"github.com/digkill/WeddingAI/internal/worker"
	"github.com/digkill/WeddingAI/pkg/logger"
)

type stores struct {
	users       service.UserStore
	credits     service.CreditStore
	jobs        service.JobStore
	generations service.GenerationStore
	references  service.ReferencePhotoStore
	promos      service.PromoStore
	plans       service.PlanStore
	payments    service.PaymentStore
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("config")
	}

	logr := logger.New(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, db, err := openStores(ctx, cfg, logr)
	if err != nil {
		logr.Fatal().Err(err).Msg("open stores")
	}
	if db != nil {
		defer db.Close()
	}

	assets, assetsDir, err := openAssets(cfg)
	if err != nil {
		logr.Fatal().Err(err).Msg("asset storage")
	}

	var ledger service.Ledger
	if cfg.UnlimitedCredits {
		logr.Warn().Int("balance", cfg.UnlimitedBalance).Msg("credit ledger bypassed, generations are free")
		ledger = service.NewBypassLedger(cfg.UnlimitedBalance)
	} else {
		ledger = service.NewCreditLedger(logr, st.credits)
	}

	var faces *service.FaceGate
	switch {
	case cfg.SkipFaceCheck:
		logr.Warn().Msg("face checks bypassed, generations are not gated")
		faces = service.NewBypassFaceGate(logr)
	case cfg.FaceDetectURL != "":
		faces = service.NewFaceGate(facedetect.NewClient(cfg.FaceDetectURL, cfg.FaceDetectAPIKey, cfg.RequestTimeout, logr), logr)
	default:
		faces = service.NewFaceGate(nil, logr)
	}

	var mirror *service.AssetMirror
	if cfg.MirrorGeneratedAssets {
		mirror = service.NewAssetMirror(assets, logr)
	}

	kieClient := kie.NewClient(cfg, logr)
	validator := service.NewRequestValidator(cfg.MaxUploadBytes, cfg.MaxBatchImages)

	userService := service.NewUserService(logr, st.users, ledger, cfg.SignupCredits)
	planService := service.NewPlanService(st.plans, "")
	promoService := service.NewPromoService(st.promos, ledger)
	purchaseService := service.NewPurchaseService(logr, st.payments, planService, ledger)
	referenceService := service.NewReferenceService(logr, validator, faces, assets, st.references)
	generationService := service.NewGenerationService(logr, validator, ledger, faces, assets, kieClient, st.generations, mirror,
		service.GenerationOptions{Timeout: cfg.GenerationTimeout})
	jobService := service.NewJobService(logr, validator, ledger, st.jobs, st.generations, referenceService, kieClient, mirror)

	rdb := database.ConnectRedis(cfg, logr)
	if rdb != nil {
		defer rdb.Close()
	}

	pool := worker.NewPool(jobService, cfg.JobConcurrency, logr)
	sweeper := worker.NewSweeper(jobService, rdb, cfg.SweepInterval, cfg.StaleJobAfter, logr)

	api := httpapi.NewServer(cfg.HTTPListenAddr, httpapi.Deps{
		Log:            logr,
		Users:          userService,
		Ledger:         ledger,
		Generations:    generationService,
		Jobs:           jobService,
		References:     referenceService,
		Promos:         promoService,
		Plans:          planService,
		Pool:           pool,
		Limiter:        limiter.New(rdb, "wedding-ai:ratelimit", cfg.RateLimitPerMinute, time.Minute),
		JWTSecret:      cfg.JWTSecret,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		MaxUploadBytes: cfg.MaxUploadBytes,
		AssetsDir:      assetsDir,
	})
	adminServer := admin.NewServer(cfg.AdminListenAddr, cfg.AdminUsername, cfg.AdminPasswordHash, logr, admin.Deps{
		Users:     userService,
		Ledger:    ledger,
		Plans:     planService,
		Promos:    promoService,
		Purchases: purchaseService,
		Jobs:      jobService,
		Sweeper:   sweeper,
	})

	go sweeper.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return api.Run(gctx) })
	g.Go(func() error { return adminServer.Run(gctx) })
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error().Err(err).Msg("server stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GenerationTimeout)
	defer cancel()
	if err := pool.Shutdown(shutdownCtx); err != nil {
		logr.Warn().Err(err).Msg("jobs still running at shutdown, the sweeper will close them")
	}
}

func openStores(ctx context.Context, cfg config.Config, logr zerolog.Logger) (stores, *sql.DB, error) {
	if cfg.StoreDriver == config.StoreMemory {
		logr.Warn().Msg("using in-memory store, data is lost on restart")
		mem := memory.New()
		return stores{
			users:       mem.Users(),
			credits:     mem.Credits(),
			jobs:        mem.Jobs(),
			generations: mem.Generations(),
			references:  mem.ReferencePhotos(),
			promos:      mem.Promos(),
			plans:       mem.Plans(),
			payments:    mem.Payments(),
		}, nil, nil
	}

	db, err := database.Connect(cfg)
	if err != nil {
		return stores{}, nil, err
	}
	if err := database.Migrate(ctx, db); err != nil {
		db.Close()
		return stores{}, nil, err
	}
	return stores{
		users:       repository.NewUserRepository(db),
		credits:     repository.NewCreditRepository(db),
		jobs:        repository.NewJobRepository(db),
		generations: repository.NewGenerationRepository(db),
		references:  repository.NewReferencePhotoRepository(db),
		promos:      repository.NewPromoRepository(db),
		plans:       repository.NewPlanRepository(db),
		payments:    repository.NewPaymentRepository(db),
	}, db, nil
}

func openAssets(cfg config.Config) (service.AssetStore, string, error) {
	if cfg.StorageDriver == config.StorageFilesystem {
		fs, err := storage.NewFileStore(cfg.StorageBasePath, cfg.StoragePublicURL)
		if err != nil {
			return nil, "", err
		}
		return fs, fs.BasePath(), nil
	}
	uploader, err := storage.NewUploader(storage.Config{
		Endpoint:      cfg.S3Endpoint,
		Region:        cfg.S3Region,
		AccessKey:     cfg.S3AccessKey,
		SecretKey:     cfg.S3SecretKey,
		Bucket:        cfg.S3Bucket,
		PublicBaseURL: cfg.S3PublicBaseURL,
		UsePathStyle:  cfg.S3UsePathStyle,
	})
	if err != nil {
		return nil, "", err
	}
	return uploader, "", nil
}
