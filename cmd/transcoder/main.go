// Command transcoder runs the video transcoding pipeline: the job admission
// API, the worker pool, and the artifact publisher.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"videoflix-pipeline/internal/api"
	"videoflix-pipeline/internal/observability/logging"
	"videoflix-pipeline/internal/observability/metrics"
	"videoflix-pipeline/internal/pipeline"
	"videoflix-pipeline/internal/queue"
	"videoflix-pipeline/internal/server"
	"videoflix-pipeline/internal/serverutil"
	"videoflix-pipeline/internal/storage"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	dataPath := flag.String("data", "", "path to the JSON job store")
	storageDriver := flag.String("storage-driver", "", "job store driver (json or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresMaxConnLifetime := flag.Duration("postgres-max-conn-lifetime", 0, "maximum lifetime for a pooled Postgres connection")
	postgresMaxConnIdle := flag.Duration("postgres-max-conn-idle", 0, "maximum idle time for a pooled Postgres connection")
	postgresHealthInterval := flag.Duration("postgres-health-interval", 0, "interval between Postgres health checks")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to Postgres")
	queueDriver := flag.String("queue-driver", "", "backlog driver (memory or redis)")
	redisAddr := flag.String("queue-redis-addr", "", "Redis address for the job backlog")
	redisAddrs := flag.String("queue-redis-addrs", "", "comma separated Redis addresses for the job backlog")
	redisUsername := flag.String("queue-redis-username", "", "Redis username for the job backlog")
	redisPassword := flag.String("queue-redis-password", "", "Redis password for the job backlog")
	redisStream := flag.String("queue-redis-stream", "", "Redis stream key for job ids")
	redisGroup := flag.String("queue-redis-group", "", "Redis consumer group for workers")
	redisMasterName := flag.String("queue-redis-sentinel-master", "", "Redis sentinel master name for the job backlog")
	redisPoolSize := flag.Int("queue-redis-pool-size", 0, "maximum Redis connections for the job backlog")
	redisTLSCA := flag.String("queue-redis-tls-ca", "", "path to Redis TLS CA certificate")
	redisTLSCert := flag.String("queue-redis-tls-cert", "", "path to Redis TLS client certificate")
	redisTLSKey := flag.String("queue-redis-tls-key", "", "path to Redis TLS client key")
	redisTLSServerName := flag.String("queue-redis-tls-server-name", "", "override Redis TLS server name")
	redisTLSSkipVerify := flag.Bool("queue-redis-tls-skip-verify", false, "skip Redis TLS verification")
	stagingRoot := flag.String("staging-root", "", "directory for in-progress transcode output")
	publishRoot := flag.String("publish-root", "", "directory for published assets")
	workers := flag.Int("workers", 0, "number of concurrent transcode jobs")
	tierConcurrency := flag.Int("tier-concurrency", 0, "parallel renditions per job")
	queueDepth := flag.Int("queue-depth", 0, "maximum queued jobs before admission is rejected")
	segmentSeconds := flag.Int("segment-seconds", 0, "HLS segment duration in seconds")
	tierTimeout := flag.Duration("tier-timeout", 0, "wall-clock budget per rendition")
	heartbeatInterval := flag.Duration("heartbeat-interval", 0, "claim refresh interval for processing jobs")
	heartbeatTimeout := flag.Duration("heartbeat-timeout", 0, "stale claim timeout before a job is reclaimed")
	maxAttempts := flag.Int("max-attempts", 0, "maximum attempts per job including retries")
	keepFailedStaging := flag.Bool("keep-failed-staging", false, "retain staging output of failed attempts")
	thumbnailOffset := flag.Duration("thumbnail-offset", 0, "timestamp of the frame grabbed for the thumbnail")
	ffmpegPath := flag.String("ffmpeg", "", "path to the ffmpeg binary")
	ffprobePath := flag.String("ffprobe", "", "path to the ffprobe binary")
	apiToken := flag.String("api-token", "", "bearer token required on /api routes (empty disables auth)")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("VIDEOFLIX_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("VIDEOFLIX_LOG_FORMAT")),
	})
	recorder := metrics.Default()

	listenAddr := firstNonEmpty(*addr, os.Getenv("VIDEOFLIX_ADDR"))
	if listenAddr == "" {
		listenAddr = ":8085"
	}

	store, err := buildRepository(repositoryConfig{
		driver:         firstNonEmpty(*storageDriver, os.Getenv("VIDEOFLIX_STORAGE_DRIVER")),
		dataPath:       firstNonEmpty(*dataPath, os.Getenv("VIDEOFLIX_DATA")),
		dsn:            firstNonEmpty(*postgresDSN, os.Getenv("VIDEOFLIX_POSTGRES_DSN")),
		maxConns:       resolveInt(*postgresMaxConns, "VIDEOFLIX_POSTGRES_MAX_CONNS"),
		minConns:       resolveInt(*postgresMinConns, "VIDEOFLIX_POSTGRES_MIN_CONNS"),
		maxLifetime:    resolveDuration(*postgresMaxConnLifetime, "VIDEOFLIX_POSTGRES_MAX_CONN_LIFETIME"),
		maxIdle:        resolveDuration(*postgresMaxConnIdle, "VIDEOFLIX_POSTGRES_MAX_CONN_IDLE"),
		healthInterval: resolveDuration(*postgresHealthInterval, "VIDEOFLIX_POSTGRES_HEALTH_INTERVAL"),
		appName:        firstNonEmpty(*postgresAppName, os.Getenv("VIDEOFLIX_POSTGRES_APP_NAME")),
	})
	if err != nil {
		logger.Error("failed to initialise job store", "error", err)
		os.Exit(1)
	}

	pipelineCfg := pipeline.Config{
		SegmentSeconds:    resolveInt(*segmentSeconds, "VIDEOFLIX_SEGMENT_SECONDS"),
		Workers:           resolveInt(*workers, "VIDEOFLIX_WORKERS"),
		TierConcurrency:   resolveInt(*tierConcurrency, "VIDEOFLIX_TIER_CONCURRENCY"),
		QueueDepth:        resolveInt(*queueDepth, "VIDEOFLIX_QUEUE_DEPTH"),
		TierTimeout:       resolveDuration(*tierTimeout, "VIDEOFLIX_TIER_TIMEOUT"),
		HeartbeatInterval: resolveDuration(*heartbeatInterval, "VIDEOFLIX_HEARTBEAT_INTERVAL"),
		HeartbeatTimeout:  resolveDuration(*heartbeatTimeout, "VIDEOFLIX_HEARTBEAT_TIMEOUT"),
		MaxAttempts:       resolveInt(*maxAttempts, "VIDEOFLIX_MAX_ATTEMPTS"),
		StagingRoot:       firstNonEmpty(*stagingRoot, os.Getenv("VIDEOFLIX_STAGING_ROOT"), "data/staging"),
		PublishRoot:       firstNonEmpty(*publishRoot, os.Getenv("VIDEOFLIX_PUBLISH_ROOT"), "data/media"),
		KeepFailedStaging: resolveBool(*keepFailedStaging, "VIDEOFLIX_KEEP_FAILED_STAGING"),
		ThumbnailOffset:   resolveDuration(*thumbnailOffset, "VIDEOFLIX_THUMBNAIL_OFFSET"),
		FFmpegPath:        firstNonEmpty(*ffmpegPath, os.Getenv("VIDEOFLIX_FFMPEG")),
		FFprobePath:       firstNonEmpty(*ffprobePath, os.Getenv("VIDEOFLIX_FFPROBE")),
	}

	backlog, err := buildBacklog(backlogConfig{
		driver:        firstNonEmpty(*queueDriver, os.Getenv("VIDEOFLIX_QUEUE_DRIVER")),
		addr:          firstNonEmpty(*redisAddr, os.Getenv("VIDEOFLIX_QUEUE_REDIS_ADDR")),
		addrs:         firstNonEmpty(*redisAddrs, os.Getenv("VIDEOFLIX_QUEUE_REDIS_ADDRS")),
		username:      firstNonEmpty(*redisUsername, os.Getenv("VIDEOFLIX_QUEUE_REDIS_USERNAME")),
		password:      firstNonEmpty(*redisPassword, os.Getenv("VIDEOFLIX_QUEUE_REDIS_PASSWORD")),
		stream:        firstNonEmpty(*redisStream, os.Getenv("VIDEOFLIX_QUEUE_REDIS_STREAM")),
		group:         firstNonEmpty(*redisGroup, os.Getenv("VIDEOFLIX_QUEUE_REDIS_GROUP")),
		masterName:    firstNonEmpty(*redisMasterName, os.Getenv("VIDEOFLIX_QUEUE_REDIS_SENTINEL_MASTER")),
		poolSize:      resolveInt(*redisPoolSize, "VIDEOFLIX_QUEUE_REDIS_POOL_SIZE"),
		tlsCA:         firstNonEmpty(*redisTLSCA, os.Getenv("VIDEOFLIX_QUEUE_REDIS_TLS_CA")),
		tlsCert:       firstNonEmpty(*redisTLSCert, os.Getenv("VIDEOFLIX_QUEUE_REDIS_TLS_CERT")),
		tlsKey:        firstNonEmpty(*redisTLSKey, os.Getenv("VIDEOFLIX_QUEUE_REDIS_TLS_KEY")),
		tlsServerName: firstNonEmpty(*redisTLSServerName, os.Getenv("VIDEOFLIX_QUEUE_REDIS_TLS_SERVER_NAME")),
		tlsSkipVerify: resolveBool(*redisTLSSkipVerify, "VIDEOFLIX_QUEUE_REDIS_TLS_SKIP_VERIFY"),
		depth:         pipelineCfg.QueueDepth,
	})
	if err != nil {
		logger.Error("failed to initialise job backlog", "error", err)
		os.Exit(1)
	}

	scheduler, err := pipeline.NewScheduler(pipelineCfg, pipeline.SchedulerOptions{
		Repository: store,
		Backlog:    backlog,
		Logger:     logger,
		Recorder:   recorder,
	})
	if err != nil {
		logger.Error("failed to initialise scheduler", "error", err)
		os.Exit(1)
	}
	if err := scheduler.Start(context.Background()); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}

	tokenHash := ""
	if token := firstNonEmpty(*apiToken, os.Getenv("VIDEOFLIX_API_TOKEN")); token != "" {
		tokenHash, err = api.HashToken(token)
		if err != nil {
			logger.Error("invalid api token", "error", err)
			os.Exit(1)
		}
	}
	handler, err := api.NewHandler(api.Config{
		Scheduler: scheduler,
		Logger:    logger,
		TokenHash: tokenHash,
	})
	if err != nil {
		logger.Error("failed to initialise api handler", "error", err)
		os.Exit(1)
	}

	srv, err := server.New(handler, server.Config{
		Addr:    listenAddr,
		Logger:  logger,
		Metrics: recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("transcoder listening", "addr", listenAddr)
	logger.Info("metrics endpoint available", "path", "/metrics")
	if err := serverutil.Run(runCtx, serverutil.Config{Server: srv.HTTPServer()}); err != nil {
		logger.Error("server error", "error", err)
	}
	stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := scheduler.Stop(ctx); err != nil {
		logger.Warn("failed to stop scheduler", "error", err)
	}
	if err := backlog.Close(); err != nil {
		logger.Warn("failed to close backlog", "error", err)
	}
	if err := store.Close(ctx); err != nil {
		logger.Warn("failed to close job store", "error", err)
	}

	logger.Info("transcoder stopped")
}

type repositoryConfig struct {
	driver         string
	dataPath       string
	dsn            string
	maxConns       int
	minConns       int
	maxLifetime    time.Duration
	maxIdle        time.Duration
	healthInterval time.Duration
	appName        string
}

func buildRepository(cfg repositoryConfig) (storage.Repository, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.driver))
	if driver == "" {
		if strings.TrimSpace(cfg.dsn) != "" {
			driver = "postgres"
		} else {
			driver = "json"
		}
	}
	switch driver {
	case "json":
		path := strings.TrimSpace(cfg.dataPath)
		if path == "" {
			path = "data/transcoder.json"
		}
		return storage.NewStorage(path)
	case "postgres":
		return storage.NewPostgresRepository(storage.PostgresConfig{
			DSN:                 cfg.dsn,
			MaxConnections:      int32(cfg.maxConns),
			MinConnections:      int32(cfg.minConns),
			MaxConnLifetime:     cfg.maxLifetime,
			MaxConnIdleTime:     cfg.maxIdle,
			HealthCheckInterval: cfg.healthInterval,
			ApplicationName:     cfg.appName,
		})
	default:
		return nil, errors.New("unknown storage driver " + driver)
	}
}

type backlogConfig struct {
	driver        string
	addr          string
	addrs         string
	username      string
	password      string
	stream        string
	group         string
	masterName    string
	poolSize      int
	tlsCA         string
	tlsCert       string
	tlsKey        string
	tlsServerName string
	tlsSkipVerify bool
	depth         int
}

func buildBacklog(cfg backlogConfig) (queue.Queue, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.driver))
	if driver == "" {
		if cfg.addr != "" || cfg.addrs != "" {
			driver = "redis"
		} else {
			driver = "memory"
		}
	}
	switch driver {
	case "memory":
		return queue.NewMemoryQueue(cfg.depth), nil
	case "redis":
		var addrs []string
		if cfg.addrs != "" {
			addrs = strings.Split(cfg.addrs, ",")
		}
		return queue.NewRedisQueue(queue.RedisQueueConfig{
			Addr:       cfg.addr,
			Addrs:      addrs,
			Username:   cfg.username,
			Password:   cfg.password,
			Stream:     cfg.stream,
			Group:      cfg.group,
			MasterName: cfg.masterName,
			PoolSize:   cfg.poolSize,
			MaxDepth:   cfg.depth,
			TLS: queue.RedisTLSConfig{
				CAFile:             cfg.tlsCA,
				CertFile:           cfg.tlsCert,
				KeyFile:            cfg.tlsKey,
				ServerName:         cfg.tlsServerName,
				InsecureSkipVerify: cfg.tlsSkipVerify,
			},
		})
	default:
		return nil, errors.New("unknown queue driver " + driver)
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := strings.TrimSpace(os.Getenv(envKey)); env != "" {
		if value, err := strconv.Atoi(env); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := strings.TrimSpace(os.Getenv(envKey)); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	return 0
}

func resolveBool(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}
	if env := strings.TrimSpace(os.Getenv(envKey)); env != "" {
		if value, err := strconv.ParseBool(env); err == nil {
			return value
		}
	}
	return false
}
