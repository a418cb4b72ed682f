package holdstore

import (
    "context"
    "errors"
    "fmt"
    "sort"
    "strconv"
    "time"

    "github.com/redis/go-redis/v9"

    "github.com/iliyamo/seat-reservation-engine/internal/model"
)

// Each hold is a hash at <prefix>:seat:<seat_id> with a PEXPIRE equal
// to its TTL.  Two index sets make listing cheap; they may contain
// stale members which readers prune.
//
//   <prefix>:owner:<event_id>:<user_id>  seat ids held by the user
//   <prefix>:event:<event_id>            seat ids held in the event

// createScript is the conditional write.  It runs atomically inside
// Redis, so two callers can never both observe "absent".
//
// KEYS: seat hash, owner set, event set
// ARGV: user_id, event_id, now_ms, ttl_ms, refresh(0|1), seat_id, expires_ms
// Returns {code, user_id, event_id, created_ms, expires_ms} where code is
// 1 created, 2 already owned by caller, 3 owned by someone else.
var createScript = redis.NewScript(`
    if redis.call('EXISTS', KEYS[1]) == 0 then
        redis.call('HSET', KEYS[1], 'user_id', ARGV[1], 'event_id', ARGV[2], 'created_at', ARGV[3], 'expires_at', ARGV[7])
        redis.call('PEXPIRE', KEYS[1], ARGV[4])
        redis.call('SADD', KEYS[2], ARGV[6])
        redis.call('SADD', KEYS[3], ARGV[6])
        return {1, ARGV[1], ARGV[2], ARGV[3], ARGV[7]}
    end
    local h = redis.call('HMGET', KEYS[1], 'user_id', 'event_id', 'created_at', 'expires_at')
    if h[1] == ARGV[1] then
        local exp = h[4]
        if ARGV[5] == '1' then
            exp = ARGV[7]
            redis.call('HSET', KEYS[1], 'expires_at', exp)
            redis.call('PEXPIRE', KEYS[1], ARGV[4])
        end
        redis.call('SADD', KEYS[2], ARGV[6])
        redis.call('SADD', KEYS[3], ARGV[6])
        return {2, h[1], h[2], h[3], exp}
    end
    return {3, h[1], h[2], h[3], h[4]}
`)

// releaseScript deletes the hold only when ARGV[1] owns it.
//
// KEYS: seat hash, owner set, event set
// ARGV: user_id, seat_id
// Returns 0 absent, 1 released, 2 owned by someone else.
var releaseScript = redis.NewScript(`
    local owner = redis.call('HGET', KEYS[1], 'user_id')
    if not owner then
        redis.call('SREM', KEYS[2], ARGV[2])
        return 0
    end
    if owner ~= ARGV[1] then
        return 2
    end
    redis.call('DEL', KEYS[1])
    redis.call('SREM', KEYS[2], ARGV[2])
    redis.call('SREM', KEYS[3], ARGV[2])
    return 1
`)

// RedisStore is the shared reservation store.
type RedisStore struct {
    rdb    redis.UniversalClient
    prefix string
    now    func() time.Time
}

// NewRedisStore binds a store to a Redis client.  Keys are namespaced
// by prefix ("hold" when empty).
func NewRedisStore(rdb redis.UniversalClient, prefix string, now func() time.Time) *RedisStore {
    if prefix == "" {
        prefix = "hold"
    }
    if now == nil {
        now = time.Now
    }
    return &RedisStore{rdb: rdb, prefix: prefix, now: now}
}

func (s *RedisStore) seatKey(seatID uint64) string {
    return s.prefix + ":seat:" + strconv.FormatUint(seatID, 10)
}

func (s *RedisStore) ownerKey(eventID, userID uint64) string {
    return s.prefix + ":owner:" + strconv.FormatUint(eventID, 10) + ":" + strconv.FormatUint(userID, 10)
}

func (s *RedisStore) eventKey(eventID uint64) string {
    return s.prefix + ":event:" + strconv.FormatUint(eventID, 10)
}

func (s *RedisStore) CreateIfAbsent(ctx context.Context, seatID, userID, eventID uint64, ttl time.Duration, refresh bool) (Outcome, model.Reservation, error) {
    if ttl < time.Millisecond {
        return 0, model.Reservation{}, fmt.Errorf("holdstore: ttl %s too short: %w", ttl, model.ErrValidation)
    }
    now := s.now().UTC()
    refreshArg := "0"
    if refresh {
        refreshArg = "1"
    }
    keys := []string{s.seatKey(seatID), s.ownerKey(eventID, userID), s.eventKey(eventID)}
    args := []interface{}{
        strconv.FormatUint(userID, 10),
        strconv.FormatUint(eventID, 10),
        strconv.FormatInt(now.UnixMilli(), 10),
        strconv.FormatInt(ttl.Milliseconds(), 10),
        refreshArg,
        strconv.FormatUint(seatID, 10),
        strconv.FormatInt(now.Add(ttl).UnixMilli(), 10),
    }
    vals, err := createScript.Run(ctx, s.rdb, keys, args...).Result()
    if err != nil {
        return 0, model.Reservation{}, fmt.Errorf("holdstore: create seat %d: %w", seatID, err)
    }
    arr, ok := vals.([]interface{})
    if !ok || len(arr) != 5 {
        return 0, model.Reservation{}, fmt.Errorf("holdstore: unexpected script result %#v", vals)
    }
    code := asInt64(arr[0])
    r := model.Reservation{
        SeatID:    seatID,
        UserID:    uint64(asInt64(arr[1])),
        EventID:   uint64(asInt64(arr[2])),
        CreatedAt: time.UnixMilli(asInt64(arr[3])).UTC(),
        ExpiresAt: time.UnixMilli(asInt64(arr[4])).UTC(),
    }
    switch code {
    case 1:
        return Created, r, nil
    case 2:
        return AlreadyOwnedBySelf, r, nil
    case 3:
        return OwnedByOther, r, nil
    }
    return 0, model.Reservation{}, fmt.Errorf("holdstore: unexpected outcome code %d", code)
}

func (s *RedisStore) Get(ctx context.Context, seatID uint64) (*model.Reservation, error) {
    m, err := s.rdb.HGetAll(ctx, s.seatKey(seatID)).Result()
    if err != nil {
        return nil, fmt.Errorf("holdstore: get seat %d: %w", seatID, err)
    }
    r, ok := s.decode(seatID, m)
    if !ok {
        return nil, nil
    }
    return &r, nil
}

// decode converts a hold hash.  Missing or expired holds report false;
// Redis expires keys itself but the absolute expiry is checked too so
// that readers never see a hold past its deadline.
func (s *RedisStore) decode(seatID uint64, m map[string]string) (model.Reservation, bool) {
    if len(m) == 0 || m["user_id"] == "" {
        return model.Reservation{}, false
    }
    r := model.Reservation{
        SeatID:    seatID,
        UserID:    uint64(asInt64(m["user_id"])),
        EventID:   uint64(asInt64(m["event_id"])),
        CreatedAt: time.UnixMilli(asInt64(m["created_at"])).UTC(),
        ExpiresAt: time.UnixMilli(asInt64(m["expires_at"])).UTC(),
    }
    if r.Expired(s.now()) {
        return model.Reservation{}, false
    }
    return r, true
}

func (s *RedisStore) Delete(ctx context.Context, seatID uint64) (bool, error) {
    key := s.seatKey(seatID)
    m, err := s.rdb.HGetAll(ctx, key).Result()
    if err != nil {
        return false, fmt.Errorf("holdstore: delete seat %d: %w", seatID, err)
    }
    if len(m) == 0 {
        return false, nil
    }
    member := strconv.FormatUint(seatID, 10)
    userID, eventID := uint64(asInt64(m["user_id"])), uint64(asInt64(m["event_id"]))
    var del *redis.IntCmd
    _, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
        del = p.Del(ctx, key)
        p.SRem(ctx, s.ownerKey(eventID, userID), member)
        p.SRem(ctx, s.eventKey(eventID), member)
        return nil
    })
    if err != nil {
        return false, fmt.Errorf("holdstore: delete seat %d: %w", seatID, err)
    }
    return del.Val() > 0, nil
}

func (s *RedisStore) ReleaseIfOwner(ctx context.Context, seatID, userID uint64) (ReleaseOutcome, error) {
    cur, err := s.Get(ctx, seatID)
    if err != nil {
        return 0, err
    }
    if cur == nil {
        return Absent, nil
    }
    keys := []string{s.seatKey(seatID), s.ownerKey(cur.EventID, userID), s.eventKey(cur.EventID)}
    code, err := releaseScript.Run(ctx, s.rdb, keys, strconv.FormatUint(userID, 10), strconv.FormatUint(seatID, 10)).Int64()
    if err != nil {
        return 0, fmt.Errorf("holdstore: release seat %d: %w", seatID, err)
    }
    switch code {
    case 1:
        return Released, nil
    case 2:
        return NotOwner, nil
    }
    return Absent, nil
}

func (s *RedisStore) ListByOwner(ctx context.Context, userID, eventID uint64) ([]model.Reservation, error) {
    return s.listIndex(ctx, s.ownerKey(eventID, userID), func(r model.Reservation) bool {
        return r.UserID == userID && r.EventID == eventID
    })
}

func (s *RedisStore) ListByEvent(ctx context.Context, eventID uint64) ([]model.Reservation, error) {
    return s.listIndex(ctx, s.eventKey(eventID), func(r model.Reservation) bool {
        return r.EventID == eventID
    })
}

// listIndex loads every hold referenced by an index set and prunes
// members whose hold is gone or now belongs to someone else.
func (s *RedisStore) listIndex(ctx context.Context, index string, keep func(model.Reservation) bool) ([]model.Reservation, error) {
    members, err := s.rdb.SMembers(ctx, index).Result()
    if err != nil {
        return nil, fmt.Errorf("holdstore: read index %s: %w", index, err)
    }
    out := make([]model.Reservation, 0, len(members))
    if len(members) == 0 {
        return out, nil
    }
    cmds := make([]*redis.MapStringStringCmd, len(members))
    _, err = s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
        for i, m := range members {
            cmds[i] = p.HGetAll(ctx, s.prefix+":seat:"+m)
        }
        return nil
    })
    if err != nil && !errors.Is(err, redis.Nil) {
        return nil, fmt.Errorf("holdstore: load index %s: %w", index, err)
    }
    stale := make([]interface{}, 0)
    for i, m := range members {
        seatID, perr := strconv.ParseUint(m, 10, 64)
        if perr != nil {
            stale = append(stale, m)
            continue
        }
        r, ok := s.decode(seatID, cmds[i].Val())
        if !ok || !keep(r) {
            stale = append(stale, m)
            continue
        }
        out = append(out, r)
    }
    if len(stale) > 0 {
        // Best effort; a failed prune only leaves work for the next reader.
        _ = s.rdb.SRem(ctx, index, stale...).Err()
    }
    sort.Slice(out, func(i, j int) bool { return out[i].SeatID < out[j].SeatID })
    return out, nil
}

func (s *RedisStore) Degraded() bool { return false }

// Ping checks connectivity for the health endpoint.
func (s *RedisStore) Ping(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }

func asInt64(v interface{}) int64 {
    switch t := v.(type) {
    case int64:
        return t
    case int:
        return int64(t)
    case string:
        if n, err := strconv.ParseInt(t, 10, 64); err == nil {
            return n
        }
    }
    return 0
}
