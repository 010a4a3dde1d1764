package queue

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	redis "github.com/redis/go-redis/v9"

	"videoflix-pipeline/internal/models"
)

// RedisTLSConfig controls TLS behaviour for Redis connections.
type RedisTLSConfig struct {
	CAFile             string
	CertFile           string
	KeyFile            string
	ServerName         string
	InsecureSkipVerify bool
}

// RedisQueueConfig configures the Redis Streams backlog. Addr or Addrs must
// be set; the rest falls back to sensible defaults.
type RedisQueueConfig struct {
	Addr         string
	Addrs        []string
	Username     string
	Password     string
	Stream       string
	Group        string
	MaxDepth     int
	Logger       *slog.Logger
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	BlockTimeout time.Duration
	PoolSize     int
	MasterName   string
	TLS          RedisTLSConfig
}

type redisQueue struct {
	client       redis.UniversalClient
	stream       string
	group        string
	consumer     string
	maxDepth     int
	blockTimeout time.Duration
	logger       *slog.Logger

	groupMu    sync.Mutex
	groupReady atomic.Bool
}

// NewRedisQueue initialises a backlog backed by a Redis Stream with a
// consumer group. Jobs survive process restarts; unacked deliveries are
// re-read from the pending list on startup before new entries.
func NewRedisQueue(cfg RedisQueueConfig) (Queue, error) {
	addrs := make([]string, 0, len(cfg.Addrs)+1)
	for _, addr := range cfg.Addrs {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			addrs = append(addrs, trimmed)
		}
	}
	if addr := strings.TrimSpace(cfg.Addr); addr != "" {
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("redis addr is required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = "videoflix:jobs"
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "transcode-workers"
	}
	tlsConfig, err := buildTLSConfig(cfg.TLS)
	if err != nil {
		return nil, err
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        addrs,
		MasterName:   strings.TrimSpace(cfg.MasterName),
		Username:     strings.TrimSpace(cfg.Username),
		Password:     cfg.Password,
		TLSConfig:    tlsConfig,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   2,
	})
	queue := &redisQueue{
		client:       client,
		stream:       stream,
		group:        group,
		consumer:     randomConsumerID(),
		maxDepth:     cfg.MaxDepth,
		blockTimeout: cfg.BlockTimeout,
		logger:       cfg.Logger,
	}
	if queue.logger == nil {
		queue.logger = slog.Default()
	}
	if queue.blockTimeout <= 0 {
		queue.blockTimeout = 2 * time.Second
	}
	if err := queue.ensureGroup(context.Background()); err != nil {
		client.Close()
		return nil, err
	}
	return queue, nil
}

func (q *redisQueue) Enqueue(ctx context.Context, jobID string) error {
	if strings.TrimSpace(jobID) == "" {
		return fmt.Errorf("job id is required")
	}
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}
	if q.maxDepth > 0 && q.Depth() >= q.maxDepth {
		return models.Errorf(models.KindQueueSaturated, "queue is full")
	}
	_, err := q.client.Do(ctx, "XADD", q.stream, "*", "job_id", jobID).Result()
	return err
}

// Dequeue first drains this consumer's pending list so deliveries that were
// in flight when a previous process died are not lost, then blocks on new
// entries. The id is acked on delivery; the storage claim guards against the
// duplicate runs this can allow.
func (q *redisQueue) Dequeue(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := q.ensureGroup(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return "", err
			}
			q.logger.Warn("redis queue group ensure failed", "error", err)
			time.Sleep(200 * time.Millisecond)
			continue
		}
		entry, ok, err := q.readOne(ctx, "0")
		if err == nil && !ok {
			entry, ok, err = q.readOne(ctx, ">")
		}
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return "", err
			}
			q.logger.Warn("redis queue read failed", "error", err)
			time.Sleep(200 * time.Millisecond)
			continue
		}
		if !ok {
			continue
		}
		q.ack(ctx, entry.id)
		if entry.jobID == "" {
			continue
		}
		return entry.jobID, nil
	}
}

func (q *redisQueue) Depth() int {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	reply, err := q.client.Do(ctx, "XLEN", q.stream).Result()
	if err != nil {
		return 0
	}
	switch v := reply.(type) {
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func (q *redisQueue) Close() error {
	return q.client.Close()
}

func (q *redisQueue) ensureGroup(ctx context.Context) error {
	if q.groupReady.Load() {
		return nil
	}
	q.groupMu.Lock()
	defer q.groupMu.Unlock()
	if q.groupReady.Load() {
		return nil
	}
	_, err := q.client.Do(ctx, "XGROUP", "CREATE", q.stream, q.group, "0", "MKSTREAM").Result()
	if err != nil {
		if isBusyGroup(err) {
			q.groupReady.Store(true)
			return nil
		}
		return err
	}
	q.groupReady.Store(true)
	return nil
}

type redisStreamEntry struct {
	id    string
	jobID string
}

func (q *redisQueue) readOne(ctx context.Context, cursor string) (redisStreamEntry, bool, error) {
	args := []interface{}{
		"XREADGROUP",
		"GROUP", q.group, q.consumer,
		"COUNT", "1",
	}
	if cursor == ">" {
		blockMs := int(math.Max(float64(q.blockTimeout.Milliseconds()), 1))
		args = append(args, "BLOCK", strconv.Itoa(blockMs))
	}
	args = append(args, "STREAMS", q.stream, cursor)
	reply, err := q.client.Do(ctx, args...).Result()
	if err != nil {
		if isNilReply(err) {
			return redisStreamEntry{}, false, nil
		}
		return redisStreamEntry{}, false, err
	}
	streams, ok := reply.([]interface{})
	if !ok || len(streams) == 0 {
		return redisStreamEntry{}, false, nil
	}
	for _, stream := range streams {
		parts, ok := stream.([]interface{})
		if !ok || len(parts) != 2 {
			continue
		}
		records, _ := parts[1].([]interface{})
		for _, record := range records {
			tuple, ok := record.([]interface{})
			if !ok || len(tuple) != 2 {
				continue
			}
			id, _ := asString(tuple[0])
			if id == "" {
				continue
			}
			fields, _ := tuple[1].([]interface{})
			return redisStreamEntry{id: id, jobID: extractJobID(fields)}, true, nil
		}
	}
	return redisStreamEntry{}, false, nil
}

func (q *redisQueue) ack(ctx context.Context, id string) {
	if id == "" {
		return
	}
	if _, err := q.client.Do(ctx, "XACK", q.stream, q.group, id).Result(); err != nil {
		q.logger.Warn("redis ack failed", "id", id, "error", err)
	}
	if _, err := q.client.Do(ctx, "XDEL", q.stream, id).Result(); err != nil {
		q.logger.Warn("redis trim failed", "id", id, "error", err)
	}
}

func extractJobID(fields []interface{}) string {
	for i := 0; i+1 < len(fields); i += 2 {
		key, _ := asString(fields[i])
		if strings.EqualFold(key, "job_id") {
			value, _ := asString(fields[i+1])
			return value
		}
	}
	return ""
}

func asString(v interface{}) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case []byte:
		return string(val), true
	default:
		return "", false
	}
}

func isBusyGroup(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "busygrou")
}

func isNilReply(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, redis.Nil) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "nil reply") || strings.Contains(msg, "timeout")
}

func randomConsumerID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("consumer-%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("consumer-%s", hex.EncodeToString(buf))
}

func buildTLSConfig(cfg RedisTLSConfig) (*tls.Config, error) {
	if cfg.CAFile == "" && cfg.CertFile == "" && cfg.KeyFile == "" && !cfg.InsecureSkipVerify {
		return nil, nil
	}
	tlsCfg := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
	if cfg.ServerName != "" {
		tlsCfg.ServerName = cfg.ServerName
	}
	if cfg.CAFile != "" {
		pemData, err := os.ReadFile(filepath.Clean(cfg.CAFile))
		if err != nil {
			return nil, fmt.Errorf("read redis tls ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, fmt.Errorf("redis tls ca is invalid")
		}
		tlsCfg.RootCAs = pool
	}
	if cfg.CertFile != "" || cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(filepath.Clean(cfg.CertFile), filepath.Clean(cfg.KeyFile))
		if err != nil {
			return nil, fmt.Errorf("load redis tls certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}
