package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ticketd/internal/ticket/models"
	"ticketd/pkg/platform/sentinel"
	"ticketd/pkg/requestcontext"
)

const (
	defaultKeyPrefix = "ticketd:ticket:"
	maxTxRetries     = 16
	scanBatch        = 256
)

// RedisStore keeps each ticket as a JSON string under prefix+id. Key TTLs
// follow the ticket's deadline; validity is still checked on every read so a
// sliding or invalidated ticket is never served past its policy.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisStore wraps an existing client. Tests pass a miniredis-backed one.
func NewRedisStore(client redis.UniversalClient, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

func (s *RedisStore) key(id string) string {
	return s.keyPrefix + id
}

// addAllScript inserts every key or none. ARGV holds (value, ttl ms) pairs; a
// ttl of 0 stores the key without expiry.
var addAllScript = redis.NewScript(`
for i = 1, #KEYS do
	if redis.call('EXISTS', KEYS[i]) == 1 then
		return 0
	end
end
for i = 1, #KEYS do
	local ttl = tonumber(ARGV[2 * i])
	if ttl > 0 then
		redis.call('SET', KEYS[i], ARGV[2 * i - 1], 'PX', ttl)
	else
		redis.call('SET', KEYS[i], ARGV[2 * i - 1])
	end
end
return 1
`)

func (s *RedisStore) Add(ctx context.Context, t *models.Ticket) error {
	if err := validateNew(t); err != nil {
		return err
	}
	value, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal ticket: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.key(t.ID), value, keyTTL(t, requestcontext.Now(ctx))).Result()
	if err != nil {
		return unavailable("add ticket", err)
	}
	if !ok {
		return fmt.Errorf("ticket %s already exists: %w", t.ID, sentinel.ErrConflict)
	}
	return nil
}

func (s *RedisStore) AddAll(ctx context.Context, tickets ...*models.Ticket) error {
	if len(tickets) == 0 {
		return nil
	}
	now := requestcontext.Now(ctx)
	keys := make([]string, 0, len(tickets))
	args := make([]any, 0, 2*len(tickets))
	seen := make(map[string]struct{}, len(tickets))
	for _, t := range tickets {
		if err := validateNew(t); err != nil {
			return err
		}
		if _, dup := seen[t.ID]; dup {
			return fmt.Errorf("duplicate ticket %s in batch: %w", t.ID, sentinel.ErrConflict)
		}
		seen[t.ID] = struct{}{}
		value, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("marshal ticket: %w", err)
		}
		keys = append(keys, s.key(t.ID))
		args = append(args, value, keyTTL(t, now).Milliseconds())
	}
	res, err := addAllScript.Run(ctx, s.client, keys, args...).Int()
	if err != nil {
		return unavailable("add tickets", err)
	}
	if res == 0 {
		return fmt.Errorf("ticket batch collides with an existing id: %w", sentinel.ErrConflict)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*models.Ticket, error) {
	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	return decodeValid(id, raw, err, requestcontext.Now(ctx))
}

func (s *RedisStore) GetKind(ctx context.Context, id string, kind models.Kind) (*models.Ticket, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Kind != kind {
		return nil, fmt.Errorf("ticket %s is %s, not %s: %w", id, t.Kind, kind, sentinel.ErrWrongKind)
	}
	return t, nil
}

func (s *RedisStore) Replace(ctx context.Context, t *models.Ticket) error {
	if err := validateNew(t); err != nil {
		return err
	}
	replacement := t.Clone()
	_, err := s.Execute(ctx, t.ID, func(current *models.Ticket) (Action, error) {
		*current = *replacement
		return ActionSave, nil
	})
	return err
}

// Execute uses WATCH/MULTI: a concurrent write to the same key aborts the
// transaction and fn runs again on the fresh value.
func (s *RedisStore) Execute(ctx context.Context, id string, fn MutateFunc) (*models.Ticket, error) {
	key := s.key(id)
	var (
		result *models.Ticket
		fnErr  error
	)
	txf := func(tx *redis.Tx) error {
		now := requestcontext.Now(ctx)
		raw, err := tx.Get(ctx, key).Bytes()
		current, err := decodeValid(id, raw, err, now)
		if err != nil {
			return err
		}
		action, ferr := fn(current)
		result, fnErr = current, ferr

		switch action {
		case ActionSave:
			value, err := json.Marshal(current)
			if err != nil {
				return fmt.Errorf("marshal ticket: %w", err)
			}
			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.Set(ctx, key, value, keyTTL(current, now))
				return nil
			})
			return err
		case ActionDelete:
			_, err := tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.Del(ctx, key)
				return nil
			})
			return err
		}
		return nil
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		switch {
		case err == nil:
			return result, fnErr
		case errors.Is(err, redis.TxFailedErr):
			continue
		case isSentinel(err):
			return nil, err
		default:
			return nil, unavailable("execute ticket", err)
		}
	}
	return nil, fmt.Errorf("ticket %s: too much contention: %w", id, sentinel.ErrConflict)
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return unavailable("delete ticket", err)
	}
	return nil
}

func (s *RedisStore) DeleteWithDescendants(ctx context.Context, id string) (int, error) {
	parents := map[string][]string{}
	if err := s.scan(ctx, s.keyPrefix+"*", func(t *models.Ticket) {
		if t.ParentID != "" {
			parents[t.ParentID] = append(parents[t.ParentID], t.ID)
		}
	}); err != nil {
		return 0, err
	}

	var keys []string
	visited := map[string]struct{}{}
	queue := []string{id}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if _, ok := visited[current]; ok {
			continue
		}
		visited[current] = struct{}{}
		keys = append(keys, s.key(current))
		queue = append(queue, parents[current]...)
	}
	n, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, unavailable("delete ticket tree", err)
	}
	return int(n), nil
}

func (s *RedisStore) DeleteExpired(ctx context.Context) (int, error) {
	now := requestcontext.Now(ctx)
	var expired []string
	if err := s.scan(ctx, s.keyPrefix+"*", func(t *models.Ticket) {
		if t.IsExpired(now) {
			expired = append(expired, s.key(t.ID))
		}
	}); err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}
	n, err := s.client.Del(ctx, expired...).Result()
	if err != nil {
		return 0, unavailable("purge tickets", err)
	}
	return int(n), nil
}

func (s *RedisStore) Count(ctx context.Context, kind models.Kind) (int, error) {
	now := requestcontext.Now(ctx)
	n := 0
	err := s.scan(ctx, s.keyPrefix+kind.Prefix()+"*", func(t *models.Ticket) {
		if t.Kind == kind && t.IsValid(now) {
			n++
		}
	})
	return n, err
}

// scan visits every decodable ticket under pattern.
func (s *RedisStore) scan(ctx context.Context, pattern string, visit func(t *models.Ticket)) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return unavailable("scan tickets", err)
		}
		if len(keys) > 0 {
			values, err := s.client.MGet(ctx, keys...).Result()
			if err != nil {
				return unavailable("load tickets", err)
			}
			for _, v := range values {
				str, ok := v.(string)
				if !ok {
					continue
				}
				var t models.Ticket
				if json.Unmarshal([]byte(str), &t) == nil {
					visit(&t)
				}
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func decodeValid(id string, raw []byte, err error, now time.Time) (*models.Ticket, error) {
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("ticket %s: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, unavailable("get ticket", err)
	}
	var t models.Ticket
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("decode ticket %s: %w", id, err)
	}
	if t.IsExpired(now) {
		return nil, fmt.Errorf("ticket %s: %w", id, sentinel.ErrExpired)
	}
	return &t, nil
}

// keyTTL is the time left until the ticket's deadline. Zero means no expiry;
// an already-lapsed deadline still gets a token TTL so the key goes away.
func keyTTL(t *models.Ticket, now time.Time) time.Duration {
	exp := t.ExpiresAt()
	if exp.IsZero() {
		return 0
	}
	if ttl := exp.Sub(now); ttl > time.Millisecond {
		return ttl
	}
	return time.Millisecond
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, sentinel.ErrUnavailable, err)
}

func isSentinel(err error) bool {
	return errors.Is(err, sentinel.ErrNotFound) || errors.Is(err, sentinel.ErrExpired)
}
