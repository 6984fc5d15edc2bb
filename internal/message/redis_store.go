package message

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const opTimeout = 2 * time.Second

// indexKey is the sorted set of message IDs scored by creation time.
const indexKey = "messages:index"

func msgKey(id string) string { return "msg:" + id }

func reactionOrderKey(id string) string { return "msg:" + id + ":ro" }

func reactionHashKey(id string) string { return "msg:" + id + ":rh" }

func reactionMember(reactorID, emoji string) string {
	return reactorID + "|" + emoji
}

// Mutations run as Lua scripts so each operation is atomic server-side:
// an edit and a delete racing on the same ID serialize inside Redis.
var (
	insertScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1],
  "id", ARGV[1], "author_id", ARGV[2], "author_name", ARGV[3],
  "body", ARGV[4], "created_at", ARGV[5], "edited_at", "0")
redis.call("ZADD", KEYS[2], tonumber(ARGV[5]), ARGV[1])
return 1
`)

	updateBodyScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "body", ARGV[1], "edited_at", ARGV[2])
return 1
`)

	appendReactionScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
if redis.call("HEXISTS", KEYS[3], ARGV[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[3], ARGV[1], ARGV[2])
redis.call("RPUSH", KEYS[2], ARGV[1])
return 1
`)

	removeReactionScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
if redis.call("HEXISTS", KEYS[3], ARGV[1]) == 0 then
  return 0
end
redis.call("HDEL", KEYS[3], ARGV[1])
redis.call("LREM", KEYS[2], 1, ARGV[1])
return 1
`)

	deleteScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("DEL", KEYS[1], KEYS[2], KEYS[3])
redis.call("ZREM", KEYS[4], ARGV[1])
return 1
`)
)

// RedisStore persists messages in Redis: a hash per message, a sorted set
// indexing IDs by creation time, and per-message reaction hash + order list.
type RedisStore struct {
	client redis.Cmdable
}

// NewRedisStore creates a RedisStore on the given client.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

// Insert adds a message. Fails with ErrDuplicateID if the ID is taken.
func (s *RedisStore) Insert(ctx context.Context, msg *Message) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	n, err := insertScript.Run(ctx, s.client,
		[]string{msgKey(msg.ID), indexKey},
		msg.ID, msg.AuthorID, msg.AuthorName, msg.Body,
		strconv.FormatInt(msg.CreatedAt.UnixNano(), 10),
	).Int()
	if err != nil {
		return fmt.Errorf("redis insert: %w", err)
	}
	if n == 0 {
		return ErrDuplicateID
	}
	return nil
}

// ListRecent returns up to limit most recent messages, oldest first.
func (s *RedisStore) ListRecent(ctx context.Context, limit int) ([]*Message, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	start := int64(-limit)
	if limit <= 0 {
		start = 0
	}
	ids, err := s.client.ZRange(ctx, indexKey, start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list recent: %w", err)
	}

	msgs := make([]*Message, 0, len(ids))
	for _, id := range ids {
		m, err := s.readMessage(ctx, id)
		if err == ErrNotFound {
			// Deleted between the index read and here; skip.
			continue
		}
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// FindByID returns the message, or ErrNotFound.
func (s *RedisStore) FindByID(ctx context.Context, id string) (*Message, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return s.readMessage(ctx, id)
}

// UpdateBody replaces the body and stamps editedAt.
func (s *RedisStore) UpdateBody(ctx context.Context, id, newBody string, editedAt time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	n, err := updateBodyScript.Run(ctx, s.client,
		[]string{msgKey(id)},
		newBody, strconv.FormatInt(editedAt.UnixNano(), 10),
	).Int()
	if err != nil {
		return fmt.Errorf("redis update body: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendReaction adds a reaction, enforcing at most one entry per
// (reactor, emoji) pair.
func (s *RedisStore) AppendReaction(ctx context.Context, id string, r Reaction) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("redis append reaction: %w", err)
	}
	n, err := appendReactionScript.Run(ctx, s.client,
		[]string{msgKey(id), reactionOrderKey(id), reactionHashKey(id)},
		reactionMember(r.ReactorID, r.Emoji), string(data),
	).Int()
	if err != nil {
		return fmt.Errorf("redis append reaction: %w", err)
	}
	switch n {
	case -1:
		return ErrNotFound
	case 0:
		return ErrDuplicateReaction
	}
	return nil
}

// RemoveReaction removes the (reactor, emoji) reaction if present.
func (s *RedisStore) RemoveReaction(ctx context.Context, id, reactorID, emoji string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	n, err := removeReactionScript.Run(ctx, s.client,
		[]string{msgKey(id), reactionOrderKey(id), reactionHashKey(id)},
		reactionMember(reactorID, emoji),
	).Int()
	if err != nil {
		return fmt.Errorf("redis remove reaction: %w", err)
	}
	switch n {
	case -1:
		return ErrNotFound
	case 0:
		return ErrReactionNotFound
	}
	return nil
}

// DeleteByID removes a message and its reactions.
func (s *RedisStore) DeleteByID(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	n, err := deleteScript.Run(ctx, s.client,
		[]string{msgKey(id), reactionOrderKey(id), reactionHashKey(id), indexKey},
		id,
	).Int()
	if err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) readMessage(ctx context.Context, id string) (*Message, error) {
	fields, err := s.client.HGetAll(ctx, msgKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis read message: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	createdNanos, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("redis read message %s: bad created_at: %w", id, err)
	}
	m := &Message{
		ID:         fields["id"],
		AuthorID:   fields["author_id"],
		AuthorName: fields["author_name"],
		Body:       fields["body"],
		CreatedAt:  time.Unix(0, createdNanos),
	}
	if editedNanos, err := strconv.ParseInt(fields["edited_at"], 10, 64); err == nil && editedNanos != 0 {
		t := time.Unix(0, editedNanos)
		m.EditedAt = &t
	}

	members, err := s.client.LRange(ctx, reactionOrderKey(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis read reactions: %w", err)
	}
	if len(members) > 0 {
		vals, err := s.client.HMGet(ctx, reactionHashKey(id), members...).Result()
		if err != nil {
			return nil, fmt.Errorf("redis read reactions: %w", err)
		}
		for _, v := range vals {
			str, ok := v.(string)
			if !ok {
				continue
			}
			var r Reaction
			if err := json.Unmarshal([]byte(str), &r); err != nil {
				continue
			}
			m.Reactions = append(m.Reactions, r)
		}
	}
	return m, nil
}
