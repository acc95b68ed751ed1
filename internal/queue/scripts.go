package queue

import "github.com/redis/go-redis/v9"

// All state transitions run as Lua scripts so each one is atomic against
// concurrent workers. Current time arrives as an ARGV in milliseconds;
// the scripts never read the server clock.
//
// Pending scores encode priority*2^42 + seq, so lower priorities drain
// first and equal priorities drain FIFO. Scores stay well inside
// float64's 2^53 exact-integer range for any realistic priority.

// KEYS: 1 pending, 2 delayed, 3 seq
// ARGV: 1 job key, 2 id, 3 term, 4 priority, 5 maxAttempts, 6 backoffMs,
//       7 nowMs, 8 delayMs, 9 kind
var enqueueScript = redis.NewScript(`
if redis.call("EXISTS", ARGV[1]) == 1 then
	return 0
end
redis.call("HSET", ARGV[1],
	"id", ARGV[2],
	"term", ARGV[3],
	"kind", ARGV[9],
	"priority", ARGV[4],
	"max_attempts", ARGV[5],
	"backoff_ms", ARGV[6],
	"created_at", ARGV[7],
	"attempts", "0",
	"status", "pending")
local delay = tonumber(ARGV[8])
if delay > 0 then
	redis.call("HSET", ARGV[1], "status", "delayed")
	redis.call("ZADD", KEYS[2], tonumber(ARGV[7]) + delay, ARGV[2])
else
	local seq = redis.call("INCR", KEYS[3])
	redis.call("ZADD", KEYS[1], tonumber(ARGV[4]) * 4398046511104 + seq, ARGV[2])
end
return 1
`)

// KEYS: 1 pending, 2 delayed, 3 active, 4 seq
// ARGV: 1 nowMs, 2 visibilityMs, 3 job key prefix, 4 sweep limit
//
// Promotes due delayed jobs, requeues expired reservations, then pops
// the lowest-scored pending job and marks it active. Attempts counts
// deliveries, so it is incremented here, not on failure.
var reserveScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local prefix = ARGV[3]
local limit = tonumber(ARGV[4])

local due = redis.call("ZRANGEBYSCORE", KEYS[2], "-inf", now, "LIMIT", 0, limit)
for _, id in ipairs(due) do
	redis.call("ZREM", KEYS[2], id)
	local pr = tonumber(redis.call("HGET", prefix .. id, "priority")) or 10
	local seq = redis.call("INCR", KEYS[4])
	redis.call("HSET", prefix .. id, "status", "pending")
	redis.call("ZADD", KEYS[1], pr * 4398046511104 + seq, id)
end

local expired = redis.call("ZRANGEBYSCORE", KEYS[3], "-inf", now, "LIMIT", 0, limit)
for _, id in ipairs(expired) do
	redis.call("ZREM", KEYS[3], id)
	local pr = tonumber(redis.call("HGET", prefix .. id, "priority")) or 10
	local seq = redis.call("INCR", KEYS[4])
	redis.call("HSET", prefix .. id, "status", "pending")
	redis.call("ZADD", KEYS[1], pr * 4398046511104 + seq, id)
end

local popped = redis.call("ZRANGE", KEYS[1], 0, 0)
if #popped == 0 then
	return false
end
local id = popped[1]
redis.call("ZREM", KEYS[1], id)
redis.call("HINCRBY", prefix .. id, "attempts", 1)
redis.call("HSET", prefix .. id, "status", "active")
redis.call("ZADD", KEYS[3], now + tonumber(ARGV[2]), id)
return redis.call("HGETALL", prefix .. id)
`)

// KEYS: 1 active, 2 completed
// ARGV: 1 job key prefix, 2 id, 3 result, 4 keep
//
// Returns 0 when the reservation was already lost (visibility expiry
// handed the job to someone else), 1 on success.
var completeScript = redis.NewScript(`
if redis.call("ZREM", KEYS[1], ARGV[2]) == 0 then
	return 0
end
local key = ARGV[1] .. ARGV[2]
local keep = tonumber(ARGV[4])
if keep == 0 then
	redis.call("DEL", key)
	return 1
end
redis.call("HSET", key, "status", "completed", "result", ARGV[3])
redis.call("LPUSH", KEYS[2], ARGV[2])
if keep > 0 then
	local evicted = redis.call("LRANGE", KEYS[2], keep, -1)
	for _, old in ipairs(evicted) do
		redis.call("DEL", ARGV[1] .. old)
	end
	redis.call("LTRIM", KEYS[2], 0, keep - 1)
end
return 1
`)

// KEYS: 1 active, 2 delayed, 3 failed
// ARGV: 1 job key prefix, 2 id, 3 error, 4 nowMs, 5 keepFailed, 6 terminal
//
// terminal=1 retires the job even with attempts left, for errors a
// retry cannot fix. Returns -1 when the reservation was lost, 0 when
// the job was retired, 1 when it was parked for a backoff retry.
var failScript = redis.NewScript(`
if redis.call("ZREM", KEYS[1], ARGV[2]) == 0 then
	return -1
end
local key = ARGV[1] .. ARGV[2]
local attempts = tonumber(redis.call("HGET", key, "attempts")) or 0
local max = tonumber(redis.call("HGET", key, "max_attempts")) or 3
redis.call("HSET", key, "error", ARGV[3])
if attempts >= max or tonumber(ARGV[6]) == 1 then
	local keep = tonumber(ARGV[5])
	if keep == 0 then
		redis.call("DEL", key)
		return 0
	end
	redis.call("HSET", key, "status", "failed")
	redis.call("LPUSH", KEYS[3], ARGV[2])
	if keep > 0 then
		local evicted = redis.call("LRANGE", KEYS[3], keep, -1)
		for _, old in ipairs(evicted) do
			redis.call("DEL", ARGV[1] .. old)
		end
		redis.call("LTRIM", KEYS[3], 0, keep - 1)
	end
	return 0
end
local backoff = tonumber(redis.call("HGET", key, "backoff_ms")) or 2000
local delay = backoff * 2 ^ (attempts - 1)
redis.call("HSET", key, "status", "delayed")
redis.call("ZADD", KEYS[2], tonumber(ARGV[4]) + delay, ARGV[2])
return 1
`)

// KEYS: 1 pending, 2 delayed
// ARGV: 1 job key prefix, 2 id
var removeScript = redis.NewScript(`
local n = redis.call("ZREM", KEYS[1], ARGV[2]) + redis.call("ZREM", KEYS[2], ARGV[2])
if n > 0 then
	redis.call("DEL", ARGV[1] .. ARGV[2])
	return 1
end
return 0
`)

// KEYS: 1 pending, 2 delayed
// ARGV: 1 job key prefix
var drainScript = redis.NewScript(`
local n = 0
for _, key in ipairs(KEYS) do
	local ids = redis.call("ZRANGE", key, 0, -1)
	for _, id in ipairs(ids) do
		redis.call("DEL", ARGV[1] .. id)
		n = n + 1
	end
	redis.call("DEL", key)
end
return n
`)
