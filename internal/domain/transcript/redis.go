package transcript

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"meetscribe-server/internal/platform/errors"
)

// Redis layout, all under the configured prefix:
//
//	meeting:<id>            JSON meeting
//	meetings                zset of meeting ids scored by start time
//	segments:<meeting|->    zset of JSON segments scored by timestamp (µs)
//	client:<id>:segments    same, per client
//	segment_seq             id counter
type redisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedis connects to redis and verifies the connection.
func NewRedis(cfg Config) (Store, error) {
	if cfg.Redis == nil || cfg.Redis.Addr == "" {
		return nil, errors.New(errors.KindConfig, "transcript.redis", "redis address required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(errors.KindStorage, "transcript.redis", "redis ping failed", err)
	}

	prefix := cfg.Redis.Prefix
	if prefix == "" {
		prefix = "meetscribe"
	}
	return &redisStore{client: client, ttl: cfg.TTL, prefix: prefix + ":"}, nil
}

func (s *redisStore) key(parts ...string) string {
	k := s.prefix
	for i, p := range parts {
		if i > 0 {
			k += ":"
		}
		k += p
	}
	return k
}

func (s *redisStore) segmentsKey(meetingID string) string {
	if meetingID == "" {
		meetingID = "-"
	}
	return s.key("segments", meetingID)
}

func (s *redisStore) SaveMeeting(ctx context.Context, m Meeting) error {
	data, err := json.Marshal(m)
	if err != nil {
		return errors.Wrap(errors.KindStorage, "transcript.redis.save_meeting", "encode meeting", err)
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.key("meeting", m.ID), data, s.ttl)
		p.ZAdd(ctx, s.key("meetings"), redis.Z{Score: float64(m.StartedAt.UnixMicro()), Member: m.ID})
		return nil
	})
	if err != nil {
		return errors.Wrap(errors.KindStorage, "transcript.redis.save_meeting", "failed to save meeting", err)
	}
	return nil
}

func (s *redisStore) GetMeeting(ctx context.Context, id string) (Meeting, error) {
	raw, err := s.client.Get(ctx, s.key("meeting", id)).Bytes()
	if err == redis.Nil {
		return Meeting{}, ErrNotFound
	}
	if err != nil {
		return Meeting{}, errors.Wrap(errors.KindStorage, "transcript.redis.get_meeting", "failed to load meeting", err)
	}
	var m Meeting
	if err := json.Unmarshal(raw, &m); err != nil {
		return Meeting{}, errors.Wrap(errors.KindStorage, "transcript.redis.get_meeting", "decode meeting", err)
	}
	return m, nil
}

func (s *redisStore) ListMeetings(ctx context.Context, clientID string) ([]Meeting, error) {
	ids, err := s.client.ZRange(ctx, s.key("meetings"), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, "transcript.redis.list_meetings", "failed to list meetings", err)
	}
	out := make([]Meeting, 0, len(ids))
	for _, id := range ids {
		m, err := s.GetMeeting(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// expired
			continue
		}
		if err != nil {
			return nil, err
		}
		if clientID == "" || m.ClientID == clientID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *redisStore) AppendSegment(ctx context.Context, seg Segment) error {
	id, err := s.client.Incr(ctx, s.key("segment_seq")).Result()
	if err != nil {
		return errors.Wrap(errors.KindStorage, "transcript.redis.append", "allocate segment id", err)
	}
	seg.ID = strconv.FormatInt(id, 10)
	data, err := json.Marshal(seg)
	if err != nil {
		return errors.Wrap(errors.KindStorage, "transcript.redis.append", "encode segment", err)
	}

	z := redis.Z{Score: float64(seg.Timestamp.UnixMicro()), Member: data}
	keys := []string{s.segmentsKey(seg.MeetingID), s.key("client", seg.ClientID, "segments")}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, k := range keys {
			p.ZAdd(ctx, k, z)
			if s.ttl > 0 {
				p.Expire(ctx, k, s.ttl)
			}
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(errors.KindStorage, "transcript.redis.append", "failed to save segment", err)
	}
	return nil
}

func (s *redisStore) ListSegments(ctx context.Context, q Query) ([]Segment, error) {
	var key string
	switch {
	case q.MeetingID != "":
		key = s.segmentsKey(q.MeetingID)
	case q.ClientID != "":
		key = s.key("client", q.ClientID, "segments")
	default:
		return nil, errors.New(errors.KindStorage, "transcript.redis.list", "redis listing needs a meeting or client id")
	}

	lo := "-inf"
	if !q.Since.IsZero() {
		lo = strconv.FormatInt(q.Since.UnixMicro(), 10)
	}
	raw, err := s.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: lo, Max: "+inf"}).Result()
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, "transcript.redis.list", "failed to list segments", err)
	}

	out := make([]Segment, 0, len(raw))
	for _, item := range raw {
		var seg Segment
		if err := json.Unmarshal([]byte(item), &seg); err != nil {
			continue
		}
		if q.match(seg) {
			out = append(out, seg)
		}
	}
	return tail(out, q.Limit), nil
}

func (s *redisStore) Stats(ctx context.Context) (map[string]any, error) {
	meetings, err := s.client.ZCard(ctx, s.key("meetings")).Result()
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, "transcript.redis.stats", "failed to count meetings", err)
	}
	return map[string]any{
		"type":     DriverRedis,
		"meetings": meetings,
		"ttl":      int(s.ttl.Seconds()),
	}, nil
}

func (s *redisStore) Close(context.Context) error {
	return s.client.Close()
}
