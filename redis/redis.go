package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gomodule/redigo/redis"

	"xrplbridge/types"
)

// A bridge request is stored as a hash with the JSON record in "data" and
// the status duplicated in "status" so that scripts can compare-and-set it.
// Secondary indexes:
//   - a set per status
//   - a set per lower-cased source address
//   - a sorted set of request ids by creation time
//   - a string per claimed source tx hash, holding the claiming request id
const (
	recordPrefix  = "bridgereq:"
	claimPrefix   = "bridgereq:srctx:"
	statusPrefix  = "bridgereqs:status:"
	sourcePrefix  = "bridgereqs:source:"
	createdIndex  = "bridgereqs:created"
	scanBatchSize = 100
)

// Lua scripts return 1 on success, 0 when the record is not pending,
// -1 when the record is missing and -2 when a claim belongs to another request
var createScript = redis.NewScript(4, `
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
redis.call('HSET', KEYS[1], 'status', ARGV[1], 'data', ARGV[2])
redis.call('SADD', KEYS[2], ARGV[3])
redis.call('SADD', KEYS[3], ARGV[3])
redis.call('ZADD', KEYS[4], ARGV[4], ARGV[3])
return 1
`)

var updatePendingScript = redis.NewScript(1, `
local status = redis.call('HGET', KEYS[1], 'status')
if not status then return -1 end
if status ~= 'pending' then return 0 end
redis.call('HSET', KEYS[1], 'data', ARGV[1])
return 1
`)

var finalizeScript = redis.NewScript(3, `
local status = redis.call('HGET', KEYS[1], 'status')
if not status then return -1 end
if status ~= 'pending' then return 0 end
redis.call('HSET', KEYS[1], 'status', ARGV[1], 'data', ARGV[2])
redis.call('SMOVE', KEYS[2], KEYS[3], ARGV[3])
return 1
`)

var claimScript = redis.NewScript(2, `
local status = redis.call('HGET', KEYS[1], 'status')
if not status then return -1 end
if status ~= 'pending' then return 0 end
local owner = redis.call('GET', KEYS[2])
if owner and owner ~= ARGV[1] then return -2 end
redis.call('SET', KEYS[2], ARGV[1])
redis.call('HSET', KEYS[1], 'data', ARGV[2])
return 1
`)

type Store struct {
	pool *redis.Pool
}

func timeoutDialOptions() []redis.DialOption {
	return []redis.DialOption{
		redis.DialConnectTimeout(5 * time.Second),
		redis.DialReadTimeout(5 * time.Second),
		redis.DialWriteTimeout(5 * time.Second),
	}
}

func NewPool(host string, port int) *redis.Pool {
	redisAddr := fmt.Sprintf("%s:%d", host, port)
	return &redis.Pool{
		MaxIdle:     5,
		IdleTimeout: 5 * time.Minute,
		Dial:        func() (redis.Conn, error) { return redis.Dial("tcp", redisAddr, timeoutDialOptions()...) },
	}
}

func New(pool *redis.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Ping(ctx context.Context) error {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.Do("PING")
	return err
}

func (s *Store) Close() error {
	return s.pool.Close()
}

func recordKey(id string) string {
	return recordPrefix + id
}

func statusKey(status types.Status) string {
	return statusPrefix + string(status)
}

func sourceKey(address string) string {
	return sourcePrefix + strings.ToLower(address)
}

func claimKey(txHash string) string {
	return claimPrefix + strings.ToLower(txHash)
}

func scriptResult(reply int, id string) error {
	switch reply {
	case 1:
		return nil
	case -1:
		return fmt.Errorf("bridge request %s: %w", id, types.ErrNotFound)
	default:
		return fmt.Errorf("bridge request %s: %w", id, types.ErrConflict)
	}
}

func (s *Store) Create(ctx context.Context, req *types.BridgeRequest) error {
	defer observeDuration("create")()

	if req == nil {
		return errors.New("null object to store")
	}
	if req.RequestID == "" {
		return errors.New("bridge request cannot have empty id")
	}
	if req.Status != types.StatusPending {
		return errors.New("bridge request must be created pending")
	}

	reqJSON, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("cannot marshal bridge request to JSON: %w", err)
	}

	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	reply, err := redis.Int(createScript.Do(conn,
		recordKey(req.RequestID), statusKey(req.Status), sourceKey(req.SourceAddress), createdIndex,
		string(req.Status), reqJSON, req.RequestID, req.CreatedAt.UnixMilli(),
	))
	if err != nil {
		return fmt.Errorf("redis create: %w", err)
	}
	if reply == 0 {
		return fmt.Errorf("bridge request %s already exists", req.RequestID)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*types.BridgeRequest, error) {
	defer observeDuration("get")()

	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	return getRecord(conn, id)
}

func getRecord(conn redis.Conn, id string) (*types.BridgeRequest, error) {
	data, err := redis.Bytes(conn.Do("HGET", recordKey(id), "data"))
	if errors.Is(err, redis.ErrNil) {
		return nil, fmt.Errorf("bridge request %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("redis HGET: %w", err)
	}

	var req types.BridgeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("cannot unmarshal bridge request %s: %w", id, err)
	}
	return &req, nil
}

// UpdatePending stores mid-flight fields, it fails with ErrConflict once the
// record reached a terminal status
func (s *Store) UpdatePending(ctx context.Context, req *types.BridgeRequest) error {
	defer observeDuration("update_pending")()

	if req.Status != types.StatusPending {
		return fmt.Errorf("bridge request %s: pending update with status %s", req.RequestID, req.Status)
	}
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("cannot marshal bridge request to JSON: %w", err)
	}

	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	reply, err := redis.Int(updatePendingScript.Do(conn, recordKey(req.RequestID), reqJSON))
	if err != nil {
		return fmt.Errorf("redis update: %w", err)
	}
	return scriptResult(reply, req.RequestID)
}

// ClaimSourceTx binds req.SourceTxHash to the request and stores the record.
// It returns false when the hash is already claimed by another request.
func (s *Store) ClaimSourceTx(ctx context.Context, req *types.BridgeRequest) (bool, error) {
	defer observeDuration("claim_source_tx")()

	if req.SourceTxHash == "" {
		return false, errors.New("empty source tx hash")
	}
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return false, fmt.Errorf("cannot marshal bridge request to JSON: %w", err)
	}

	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	reply, err := redis.Int(claimScript.Do(conn, recordKey(req.RequestID), claimKey(req.SourceTxHash), req.RequestID, reqJSON))
	if err != nil {
		return false, fmt.Errorf("redis claim: %w", err)
	}
	if reply == -2 {
		return false, nil
	}
	if err := scriptResult(reply, req.RequestID); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) SourceTxClaimedBy(ctx context.Context, txHash string) (string, error) {
	defer observeDuration("source_tx_claimed_by")()

	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	id, err := redis.String(conn.Do("GET", claimKey(txHash)))
	if errors.Is(err, redis.ErrNil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis GET: %w", err)
	}
	return id, nil
}

// Finalize moves a pending record to its terminal status in one step
func (s *Store) Finalize(ctx context.Context, req *types.BridgeRequest) error {
	defer observeDuration("finalize")()

	if !req.Status.IsTerminal() {
		return fmt.Errorf("bridge request %s: %s is not a terminal status", req.RequestID, req.Status)
	}
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("cannot marshal bridge request to JSON: %w", err)
	}

	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	reply, err := redis.Int(finalizeScript.Do(conn,
		recordKey(req.RequestID), statusKey(types.StatusPending), statusKey(req.Status),
		string(req.Status), reqJSON, req.RequestID,
	))
	if err != nil {
		return fmt.Errorf("redis finalize: %w", err)
	}
	return scriptResult(reply, req.RequestID)
}

func (s *Store) ListByStatus(ctx context.Context, status types.Status, limit int) ([]*types.BridgeRequest, error) {
	defer observeDuration("list_by_status")()

	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", types.ErrValidation, status)
	}
	return s.listSet(ctx, statusKey(status), limit)
}

func (s *Store) ListBySourceAddress(ctx context.Context, address string, limit int) ([]*types.BridgeRequest, error) {
	defer observeDuration("list_by_source")()

	return s.listSet(ctx, sourceKey(address), limit)
}

// listSet scans every request id present in the set, newest records first
func (s *Store) listSet(ctx context.Context, setKey string, limit int) ([]*types.BridgeRequest, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	reqs := make([]*types.BridgeRequest, 0)
	var cursor int64
	for {
		values, err := redis.Values(conn.Do("SSCAN", setKey, cursor, "COUNT", scanBatchSize))
		if err != nil {
			return nil, fmt.Errorf("redis SSCAN: %w", err)
		}

		var ids []string
		if _, err := redis.Scan(values, &cursor, &ids); err != nil {
			return nil, err
		}

		for _, id := range ids {
			req, err := getRecord(conn, id)
			if errors.Is(err, types.ErrNotFound) {
				// index entry without a record, nothing to report
				continue
			}
			if err != nil {
				return nil, err
			}
			reqs = append(reqs, req)
		}

		if cursor == 0 {
			break
		}
	}

	sort.Slice(reqs, func(i, j int) bool {
		return reqs[i].CreatedAt.After(reqs[j].CreatedAt)
	})
	if limit > 0 && len(reqs) > limit {
		reqs = reqs[:limit]
	}
	return reqs, nil
}

// CountCreatedSince uses the creation time index
func (s *Store) CountCreatedSince(ctx context.Context, since time.Time) (int, error) {
	defer observeDuration("count_created_since")()

	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	return redis.Int(conn.Do("ZCOUNT", createdIndex, since.UnixMilli(), "+inf"))
}
