package queue

import "github.com/redis/go-redis/v9"

// The scripts keep every multi-key state transition atomic. They all follow
// the same guard discipline: the member must still be in the set the caller
// saw it in, otherwise the call is a no-op — that is what makes a late
// complete/fail after a stall requeue harmless.

// leaseScript pops the best pending item and moves it into processing under
// a lease deadline. Returns the member, or nothing when the queue is empty
// or paused.
//
// KEYS[1] pending, KEYS[2] processing, KEYS[3] paused
// ARGV[1] now_ms, ARGV[2] lease_ms
var leaseScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[3]) == 1 then
  return false
end
local popped = redis.call('ZPOPMAX', KEYS[1])
if #popped == 0 then
  return false
end
local member = popped[1]
redis.call('ZADD', KEYS[2], tonumber(ARGV[1]) + tonumber(ARGV[2]), member)
return member
`)

// completeScript finishes a leased item: drop the lease, record a bounded
// snapshot, delete the item hash. Returns 0 when the lease was already
// gone (stall recovery owns the item now).
//
// KEYS[1] processing, KEYS[2] completed, KEYS[3] item
// ARGV[1] member, ARGV[2] snapshot, ARGV[3] now_ms, ARGV[4] keep
var completeScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
  return 0
end
redis.call('ZADD', KEYS[2], tonumber(ARGV[3]), ARGV[2])
redis.call('ZREMRANGEBYRANK', KEYS[2], 0, -(tonumber(ARGV[4]) + 1))
redis.call('DEL', KEYS[3])
return 1
`)

// failScript records a failed attempt. While attempts remain it parks the
// member in the delayed set for backoff; otherwise it finalizes the item
// into the failed set. Returns -1 when the lease was lost, 0 on terminal
// failure, or the attempt count when a retry was scheduled.
//
// KEYS[1] processing, KEYS[2] delayed, KEYS[3] failed, KEYS[4] item
// ARGV[1] member, ARGV[2] attempts_max, ARGV[3] promote_at_ms,
// ARGV[4] snapshot, ARGV[5] now_ms, ARGV[6] keep, ARGV[7] error_message
var failScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
  return -1
end
local attempts = redis.call('HINCRBY', KEYS[4], 'attempts', 1)
if attempts < tonumber(ARGV[2]) then
  redis.call('HSET', KEYS[4], 'last_error', ARGV[7])
  redis.call('ZADD', KEYS[2], tonumber(ARGV[3]), ARGV[1])
  return attempts
end
redis.call('ZADD', KEYS[3], tonumber(ARGV[5]), ARGV[4])
redis.call('ZREMRANGEBYRANK', KEYS[3], 0, -(tonumber(ARGV[6]) + 1))
redis.call('DEL', KEYS[4])
return 0
`)

// promoteScript moves one due member from delayed back to pending at the
// item's original priority. Re-checks the score so a racing promoter does
// not double-publish. Returns 1 when the member was promoted.
//
// KEYS[1] delayed, KEYS[2] pending, KEYS[3] item
// ARGV[1] member, ARGV[2] now_ms
var promoteScript = redis.NewScript(`
local score = redis.call('ZSCORE', KEYS[1], ARGV[1])
if not score or tonumber(score) > tonumber(ARGV[2]) then
  return 0
end
redis.call('ZREM', KEYS[1], ARGV[1])
local priority = redis.call('HGET', KEYS[3], 'priority')
if not priority then
  return 0
end
redis.call('ZADD', KEYS[2], tonumber(priority), ARGV[1])
return 1
`)

// stallScript reclaims one lapsed lease. Up to max_stalled republishes the
// member goes back to pending; past that the item is forcibly failed.
// Returns -1 when the lease is gone or was renewed meanwhile, 0 on forced
// failure, or the stall count when republished.
//
// KEYS[1] processing, KEYS[2] pending, KEYS[3] failed, KEYS[4] item
// ARGV[1] member, ARGV[2] now_ms, ARGV[3] max_stalled, ARGV[4] keep,
// ARGV[5] snapshot
var stallScript = redis.NewScript(`
local score = redis.call('ZSCORE', KEYS[1], ARGV[1])
if not score or tonumber(score) > tonumber(ARGV[2]) then
  return -1
end
redis.call('ZREM', KEYS[1], ARGV[1])
local stalls = redis.call('HINCRBY', KEYS[4], 'stalls', 1)
if stalls <= tonumber(ARGV[3]) then
  local priority = redis.call('HGET', KEYS[4], 'priority')
  if not priority then
    return -1
  end
  redis.call('ZADD', KEYS[2], tonumber(priority), ARGV[1])
  return stalls
end
redis.call('ZADD', KEYS[3], tonumber(ARGV[2]), ARGV[5])
redis.call('ZREMRANGEBYRANK', KEYS[3], 0, -(tonumber(ARGV[4]) + 1))
redis.call('DEL', KEYS[4])
return 0
`)

// pauseScript sets the paused key unless a manual pause already holds.
//
// KEYS[1] paused
// ARGV[1] source
var pauseScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur == 'manual' then
  return cur
end
redis.call('SET', KEYS[1], ARGV[1])
return ARGV[1]
`)

// resumeScript clears the paused key. A cpu resume only clears a cpu
// pause. Returns 1 when the queue actually resumed.
//
// KEYS[1] paused
// ARGV[1] source
var resumeScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then
  return 0
end
if ARGV[1] == 'cpu' and cur ~= 'cpu' then
  return 0
end
redis.call('DEL', KEYS[1])
return 1
`)
