package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"syncboard/internal/object"
)

const maxTxRetries = 10

var errTxContention = errors.New("redis: too much contention on key")

// RedisStore keeps each record as a JSON value under its own key.
// Read-modify-write updates run in WATCH/MULTI transactions.
type RedisStore struct {
	rdb    *redis.Client
	logger *slog.Logger
}

func documentKey(id string) string {
	return fmt.Sprintf("documents:%s", id)
}

func whiteboardKey(id string) string {
	return fmt.Sprintf("whiteboards:%s", id)
}

// OpenRedis dials addr and checks the connection with a PING.
func OpenRedis(ctx context.Context, addr, password string, db int, logger *slog.Logger) (*RedisStore, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}

	return NewRedisStore(rdb, logger), nil
}

func NewRedisStore(rdb *redis.Client, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{rdb: rdb, logger: logger.With("component", "redis-store")}
}

func (r *RedisStore) UpsertDocument(ctx context.Context, id, ownerID string) (*Document, error) {
	if id == "" {
		return nil, ErrMissingID
	}

	b, err := json.Marshal(Document{ID: id, OwnerID: optional(ownerID)})
	if err != nil {
		return nil, err
	}
	if err := r.rdb.SetArgs(ctx, documentKey(id), b, redis.SetArgs{Mode: "NX"}).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("upsert document %s: %w", id, err)
	}

	return r.FindDocument(ctx, id)
}

func (r *RedisStore) FindDocument(ctx context.Context, id string) (*Document, error) {
	var doc Document
	if err := r.get(ctx, documentKey(id), &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *RedisStore) SaveDocumentContent(ctx context.Context, id, content, editorID string) error {
	if id == "" {
		return ErrMissingID
	}

	return r.update(ctx, documentKey(id), func(old []byte) (any, error) {
		doc := Document{ID: id}
		if old != nil {
			if err := json.Unmarshal(old, &doc); err != nil {
				return nil, err
			}
		}
		doc.Content = content
		doc.LastEditorID = optional(editorID)
		return doc, nil
	})
}

func (r *RedisStore) SetDocumentReadOnly(ctx context.Context, id string, readOnly bool) error {
	return r.update(ctx, documentKey(id), func(old []byte) (any, error) {
		if old == nil {
			return nil, ErrNotFound
		}
		var doc Document
		if err := json.Unmarshal(old, &doc); err != nil {
			return nil, err
		}
		doc.IsReadOnly = readOnly
		return doc, nil
	})
}

func (r *RedisStore) UpsertWhiteboard(ctx context.Context, id, ownerID string) (*Whiteboard, error) {
	if id == "" {
		return nil, ErrMissingID
	}

	b, err := json.Marshal(Whiteboard{ID: id, Strokes: []object.Stroke{}, OwnerID: optional(ownerID)})
	if err != nil {
		return nil, err
	}
	if err := r.rdb.SetArgs(ctx, whiteboardKey(id), b, redis.SetArgs{Mode: "NX"}).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("upsert whiteboard %s: %w", id, err)
	}

	return r.FindWhiteboard(ctx, id)
}

func (r *RedisStore) FindWhiteboard(ctx context.Context, id string) (*Whiteboard, error) {
	var wb Whiteboard
	if err := r.get(ctx, whiteboardKey(id), &wb); err != nil {
		return nil, err
	}
	if wb.Strokes == nil {
		wb.Strokes = []object.Stroke{}
	}
	return &wb, nil
}

func (r *RedisStore) ReplaceStrokes(ctx context.Context, id string, strokes []object.Stroke) error {
	if id == "" {
		return ErrMissingID
	}

	return r.update(ctx, whiteboardKey(id), func(old []byte) (any, error) {
		wb := Whiteboard{ID: id}
		if old != nil {
			if err := json.Unmarshal(old, &wb); err != nil {
				return nil, err
			}
		}
		wb.Strokes = cloneStrokes(strokes)
		return wb, nil
	})
}

func (r *RedisStore) RemoveStrokes(ctx context.Context, id string, strokeIDs []string) error {
	if len(strokeIDs) == 0 {
		return nil
	}

	return r.update(ctx, whiteboardKey(id), func(old []byte) (any, error) {
		if old == nil {
			return nil, nil
		}
		var wb Whiteboard
		if err := json.Unmarshal(old, &wb); err != nil {
			return nil, err
		}
		wb.Strokes = object.Without(wb.Strokes, strokeIDs)
		return wb, nil
	})
}

func (r *RedisStore) SetWhiteboardViewOnly(ctx context.Context, id string, viewOnly bool) error {
	return r.update(ctx, whiteboardKey(id), func(old []byte) (any, error) {
		if old == nil {
			return nil, ErrNotFound
		}
		var wb Whiteboard
		if err := json.Unmarshal(old, &wb); err != nil {
			return nil, err
		}
		wb.ViewOnly = viewOnly
		return wb, nil
	})
}

func (r *RedisStore) Close() error {
	return r.rdb.Close()
}

func (r *RedisStore) get(ctx context.Context, key string, dst any) error {
	val, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	return json.Unmarshal(val, dst)
}

// update runs fn against the current value of key (nil when absent) and
// writes its result back unless the key changed in between. A nil result
// writes nothing.
func (r *RedisStore) update(ctx context.Context, key string, fn func(old []byte) (any, error)) error {
	txf := func(tx *redis.Tx) error {
		old, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			old = nil
		} else if err != nil {
			return err
		}

		next, err := fn(old)
		if err != nil || next == nil {
			return err
		}
		b, err := json.Marshal(next)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, b, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := r.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			r.logger.Debug("optimistic lock lost, retrying", "key", key, "attempt", i+1)
			continue
		}
		return err
	}
	return fmt.Errorf("%w: %s", errTxContention, key)
}
