package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/framewell/studio-qc-backend/internal/platform/logger"
)

// UploadEvent is broadcast whenever either upload lifecycle changes, so
// portal instances can push updates without each one polling the store.
type UploadEvent struct {
	UploadID           string `json:"upload_id"`
	Status             string `json:"status,omitempty"`
	DeepAnalysisStatus string `json:"deep_analysis_status,omitempty"`
	At                 int64  `json:"at"`
}

type UploadEventBus interface {
	Publish(ctx context.Context, evt UploadEvent) error
	Close() error
}

type uploadEventBus struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

func NewUploadEventBus(log *logger.Logger) (UploadEventBus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	ch := strings.TrimSpace(os.Getenv("REDIS_UPLOAD_CHANNEL"))
	if ch == "" {
		ch = "qc_upload_events"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &uploadEventBus{
		log:     log.With("service", "UploadEventBus"),
		rdb:     rdb,
		channel: ch,
	}, nil
}

func (b *uploadEventBus) Publish(ctx context.Context, evt UploadEvent) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("upload event bus not initialized")
	}
	if evt.At == 0 {
		evt.At = time.Now().Unix()
	}
	raw, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

func (b *uploadEventBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}
