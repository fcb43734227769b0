package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hxnx/karaoke/config"
	"github.com/hxnx/karaoke/internal/bot"
	"github.com/hxnx/karaoke/internal/broadcast"
	"github.com/hxnx/karaoke/internal/database"
	commands "github.com/hxnx/karaoke/internal/features"
	"github.com/hxnx/karaoke/internal/features/dashboard"
	"github.com/hxnx/karaoke/internal/httpapi"
	"github.com/hxnx/karaoke/internal/logging"
	"github.com/hxnx/karaoke/internal/music"
	"github.com/hxnx/karaoke/internal/redis"
	redislib "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 15 * time.Second

func run(parent context.Context, cfg *config.Config) error {
	logger := logging.New(cfg.LogLevel, os.Stdout)
	fmt.Println(configTable(cfg))

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := newBackend(cfg, logging.Component(logger, "player"))
	if err != nil {
		return err
	}

	service := newService(cfg, backend, logger)

	redisClient := connectRedis(ctx, cfg, logger)
	if redisClient != nil {
		defer redisClient.Close()
		service.WithStore(music.NewRedisStore(redisClient))
	}

	db := openDatabase(ctx, cfg, logger)
	if db != nil {
		defer db.Close()
	}

	if err := service.Start(ctx); err != nil {
		return fmt.Errorf("failed to start karaoke service: %w", err)
	}

	var wg sync.WaitGroup
	goRun := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Str("loop", name).Msg("stopped")
			}
		}()
	}

	broadcaster := broadcast.New(service, cfg.SyncInterval, logging.Component(logger, "broadcast"))
	if redisClient != nil {
		broadcaster.AddSink(broadcast.NewRedisSink(redisClient))
	}
	goRun("broadcaster", broadcaster.Run)

	searcher := music.NewSearcher(cfg.YTDLPPath)
	hub := broadcast.NewHub(broadcaster, logging.Component(logger, "websocket"))
	router := httpapi.NewRouter(service, searcher, hub, logging.Component(logger, "http"))

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("http api listening")
		if err := router.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server failed")
			stop()
		}
	}()

	var discord *bot.Bot
	if cfg.DiscordEnabled() {
		discord, err = startDiscord(ctx, cfg, service, searcher, broadcaster, database.NewDashboardRepository(db), logger, goRun)
		if err != nil {
			logger.Error().Err(err).Msg("discord bot disabled")
			discord = nil
		}
	}

	logger.Info().Msg("karaoke is running, press CTRL+C to exit")
	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := router.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http server shutdown failed")
	}
	if discord != nil {
		if err := discord.Stop(); err != nil {
			logger.Warn().Err(err).Msg("failed to stop discord bot")
		}
	}
	wg.Wait()
	service.Shutdown(shutdownCtx)
	return nil
}

func newBackend(cfg *config.Config, logger zerolog.Logger) (music.Backend, error) {
	if cfg.PlayerBackend == config.BackendBasic {
		return music.NewBasicBackend(cfg.BasicPlayerPath, nil, logger), nil
	}
	vlc, err := music.NewVLCBackend(music.VLCOptions{
		Path:         cfg.VLCPath,
		Port:         cfg.VLCPort,
		ReadyTimeout: cfg.BackendReadyTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create vlc backend: %w", err)
	}
	return vlc, nil
}

func newService(cfg *config.Config, backend music.Backend, logger zerolog.Logger) *music.Service {
	catalog := music.NewCatalog(cfg.DownloadPath, logging.Component(logger, "catalog"))
	queue := music.NewQueueManager(catalog)
	vocals := music.NewVocalResolver(cfg.DownloadPath)
	delays := music.NewDelayStore(cfg.DelaysFile(), logging.Component(logger, "delays"))

	controller := music.NewController(backend, queue, vocals, delays, music.NewFFmpegMeter(cfg.FFmpegPath), music.ControllerOptions{
		SplashDelay:     cfg.SplashDelay,
		RunLoopInterval: cfg.RunLoopInterval,
		UseDNN:          cfg.UseDNN,
		NormalizeVolume: cfg.NormalizeVolume,
	}, logging.Component(logger, "controller"))

	fetcher := music.NewYTDLPFetcher(cfg.YTDLPPath, cfg.CookiesFromBrowser)
	downloads := music.NewDownloadCoordinator(fetcher, catalog, queue, logging.Component(logger, "downloads"))

	playerPath := cfg.VLCPath
	if cfg.PlayerBackend == config.BackendBasic {
		playerPath = cfg.BasicPlayerPath
	}
	stale := music.PlayerProcessMatcher(cfg.PlayerBackend, playerPath)

	return music.NewService(music.Components{
		Catalog:    catalog,
		Queue:      queue,
		Vocals:     vocals,
		Delays:     delays,
		Controller: controller,
		Downloads:  downloads,
	}, music.ServiceOptions{
		HighQuality:     cfg.HighQuality,
		DelaysPath:      cfg.DelaysFileFor,
		SplitterProcess: cfg.SplitterProcess,
		StalePlayer:     &stale,
	}, logging.Component(logger, "service"))
}

// connectRedis returns nil when redis is not configured or unreachable; the
// service then runs without mirroring.
func connectRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *redislib.Client {
	if !cfg.RedisEnabled() {
		return nil
	}
	rc := cfg.GetRedisConfig()
	client, err := redis.Connect(ctx, redis.Config{
		Host:     rc.Host,
		Port:     rc.Port,
		Password: rc.Password,
		DB:       rc.DB,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, continuing without it")
		return nil
	}
	return client
}

func openDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *sql.DB {
	if !cfg.DatabaseEnabled() {
		return nil
	}
	dc := cfg.GetDBConfig()
	db, err := database.Open(ctx, &database.Config{
		Host:     dc.Host,
		Port:     dc.Port,
		User:     dc.User,
		Password: dc.Password,
		DBName:   dc.Name,
		SSLMode:  dc.SSLMode,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("database unavailable, dashboards will not persist")
		return nil
	}
	return db
}

func startDiscord(
	ctx context.Context,
	cfg *config.Config,
	service *music.Service,
	searcher *music.Searcher,
	broadcaster *broadcast.Broadcaster,
	repo *database.DashboardRepository,
	logger zerolog.Logger,
	goRun func(string, func(context.Context) error),
) (*bot.Bot, error) {
	discord, err := bot.New(bot.Config{
		Token:         cfg.DiscordToken,
		ApplicationID: cfg.ApplicationID,
		GuildID:       cfg.GuildID,
	}, logging.Component(logger, "discord"))
	if err != nil {
		return nil, err
	}

	dash := dashboard.New(discord.Session(), repo, service, logging.Component(logger, "dashboard"))
	if err := dash.Load(ctx); err != nil {
		logger.Warn().Err(err).Msg("starting without saved dashboards")
	}
	broadcaster.Register(dash)
	goRun("dashboard", dash.Run)

	discord.Attach(commands.New(service, searcher, dash, logging.Component(logger, "commands")), service)
	if err := discord.Start(); err != nil {
		broadcaster.Unregister(dash.ID())
		return nil, err
	}
	return discord, nil
}
