package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// ValkeyStore keeps the document under <prefix>:state and the history as a
// list under <prefix>:history. Saves run in a single MULTI/EXEC.
type ValkeyStore struct {
	client       *redis.Client
	stateKey     string
	historyKey   string
	historyLimit int
	logger       *slog.Logger
}

func NewValkeyStore(addr, password, prefix string, historyLimit int, logger *slog.Logger) (*ValkeyStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	return NewValkeyStoreWithClient(rdb, prefix, historyLimit, logger), nil
}

func NewValkeyStoreWithClient(client *redis.Client, prefix string, historyLimit int, logger *slog.Logger) *ValkeyStore {
	if logger == nil {
		logger = slog.Default()
	}
	if prefix == "" {
		prefix = "intel"
	}
	return &ValkeyStore{
		client:       client,
		stateKey:     prefix + ":state",
		historyKey:   prefix + ":history",
		historyLimit: historyLimit,
		logger:       logger.With("store", "valkey"),
	}
}

func (s *ValkeyStore) Load(ctx context.Context) Snapshot {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	doc := NewDocument()
	val, err := s.client.Get(ctx, s.stateKey).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		s.logger.Info("No state stored yet, using defaults", "key", s.stateKey)
	case err != nil:
		s.logger.Error("Failed to read state, using defaults", "key", s.stateKey, "error", err)
	default:
		var problems []error
		doc, problems = DecodeDocument(val)
		logProblems(s.logger, s.stateKey, problems)
	}

	start := int64(0)
	if s.historyLimit > 0 {
		start = -int64(s.historyLimit)
	}
	links, err := s.client.LRange(ctx, s.historyKey, start, -1).Result()
	if err != nil {
		s.logger.Error("Failed to read history, starting fresh", "key", s.historyKey, "error", err)
		links = nil
	}
	return Snapshot{Doc: doc, History: NewHistory(s.historyLimit, links...)}
}

func (s *ValkeyStore) Save(ctx context.Context, snap Snapshot) error {
	data, err := EncodeDocument(snap.Doc)
	if err != nil {
		return err
	}
	var links []string
	if snap.History != nil {
		links = snap.History.Links()
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.stateKey, data, 0)
		pipe.Del(ctx, s.historyKey)
		if len(links) > 0 {
			values := make([]any, len(links))
			for i, l := range links {
				values[i] = l
			}
			pipe.RPush(ctx, s.historyKey, values...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save state to valkey: %w", err)
	}
	return nil
}

func (s *ValkeyStore) Close() error {
	return s.client.Close()
}
