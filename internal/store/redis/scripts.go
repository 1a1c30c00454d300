package redis

import goredis "github.com/redis/go-redis/v9"

// createJob: KEYS = job, active set, repo active set.
// ARGV = document, job ID, active flag.
// Returns 0 if the job exists, 1 on insert.
var createJob = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], 'data', ARGV[1], 'version', 1)
if ARGV[3] == '1' then
	redis.call('SADD', KEYS[2], ARGV[2])
	redis.call('SADD', KEYS[3], ARGV[2])
end
return 1
`)

// updateJob: KEYS = job, active set, repo active set.
// ARGV = expected version, document, job ID, active flag.
// Returns -1 if missing, 0 on version mismatch, 1 on write.
var updateJob = goredis.NewScript(`
local v = redis.call('HGET', KEYS[1], 'version')
if not v then
	return -1
end
if v ~= ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[1], 'data', ARGV[2], 'version', tonumber(ARGV[1]) + 1)
if ARGV[4] == '1' then
	redis.call('SADD', KEYS[2], ARGV[3])
	redis.call('SADD', KEYS[3], ARGV[3])
else
	redis.call('SREM', KEYS[2], ARGV[3])
	redis.call('SREM', KEYS[3], ARGV[3])
end
return 1
`)

// claimActive: KEYS = pointer. ARGV = job ID, claimed-at (unix ms).
// Returns {holder, claimedAt, claimed}.
var claimActive = goredis.NewScript(`
local cur = redis.call('HMGET', KEYS[1], 'jobId', 'claimedAt')
if cur[1] then
	return {cur[1], cur[2], 0}
end
redis.call('HSET', KEYS[1], 'jobId', ARGV[1], 'claimedAt', ARGV[2])
return {ARGV[1], ARGV[2], 1}
`)

// swapActive: KEYS = pointer. ARGV = old job ID, new job ID, claimed-at.
var swapActive = goredis.NewScript(`
if redis.call('HGET', KEYS[1], 'jobId') ~= ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[1], 'jobId', ARGV[2], 'claimedAt', ARGV[3])
return 1
`)

// releaseActive: KEYS = pointer. ARGV = job ID.
var releaseActive = goredis.NewScript(`
if redis.call('HGET', KEYS[1], 'jobId') == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)
