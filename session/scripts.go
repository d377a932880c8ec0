package session

import "github.com/redis/go-redis/v9"

// luaHelpers is prepended to every script. collect appends one removed
// session group in the order decodeRemoved expects.
const luaHelpers = `
local function collect(key, id, out)
  local f = redis.call("HMGET", key, "principalId", "deviceId", "accessTokenId", "accessExpiresAt", "refreshTokenId", "refreshExpiresAt", "lastActivityAt")
  table.insert(out, id)
  for i = 1, 7 do
    table.insert(out, f[i] or "")
  end
end

local function extend(key, ttl)
  local current = redis.call("PTTL", key)
  if current < ttl then
    redis.call("PEXPIRE", key, ttl)
  end
end
`

// KEYS: session, index. ARGV: session key prefix, now, max, session id,
// ttl, score, field/value pairs...
const createScript = luaHelpers + `
local now = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
local index = KEYS[2]

for _, id in ipairs(redis.call("ZRANGE", index, 0, -1)) do
  local exp = redis.call("HGET", ARGV[1] .. id, "expiresAt")
  if not exp or tonumber(exp) <= now then
    redis.call("DEL", ARGV[1] .. id)
    redis.call("ZREM", index, id)
  end
end

local evicted = {}
while max > 0 and redis.call("ZCARD", index) >= max do
  local oldest = redis.call("ZRANGE", index, 0, 0)[1]
  local key = ARGV[1] .. oldest
  collect(key, oldest, evicted)
  redis.call("DEL", key)
  redis.call("ZREM", index, oldest)
end

local fields = {}
for i = 7, #ARGV do
  table.insert(fields, ARGV[i])
end
redis.call("DEL", KEYS[1])
redis.call("HSET", KEYS[1], unpack(fields))
redis.call("PEXPIRE", KEYS[1], ARGV[5])
redis.call("ZADD", index, ARGV[6], ARGV[4])
extend(index, tonumber(ARGV[5]))

return evicted
`

var createLua = redis.NewScript(createScript)

const (
	touchStatusMissing int64 = 0
	touchStatusActive  int64 = 1
)

// KEYS: session, index. ARGV: principal id, now, session id.
const touchScript = `
local f = redis.call("HMGET", KEYS[1], "principalId", "expiresAt")
if not f[1] or f[1] ~= ARGV[1] then
  return 0
end
local now = tonumber(ARGV[2])
if tonumber(f[2]) <= now then
  redis.call("DEL", KEYS[1])
  redis.call("ZREM", KEYS[2], ARGV[3])
  return 0
end
redis.call("HSET", KEYS[1], "lastActivityAt", ARGV[2])
redis.call("ZADD", KEYS[2], "XX", ARGV[2], ARGV[3])
return 1
`

var touchLua = redis.NewScript(touchScript)

const (
	rotateStatusNotFound int64 = 0
	rotateStatusReused   int64 = 2
	rotateStatusRotated  int64 = 3
)

// KEYS: session, index. ARGV: principal id, session id, presented refresh
// id, now, access id, access exp, refresh id, refresh exp, absolute lifetime.
const rotateScript = luaHelpers + `
local f = redis.call("HMGET", KEYS[1], "principalId", "expiresAt", "refreshTokenId", "issuedAt")
if not f[1] or f[1] ~= ARGV[1] then
  return {0}
end

local now = tonumber(ARGV[4])
if tonumber(f[2]) <= now then
  redis.call("DEL", KEYS[1])
  redis.call("ZREM", KEYS[2], ARGV[2])
  return {0}
end

if f[3] ~= ARGV[3] then
  local out = {2}
  collect(KEYS[1], ARGV[2], out)
  redis.call("DEL", KEYS[1])
  redis.call("ZREM", KEYS[2], ARGV[2])
  return out
end

local exp = tonumber(ARGV[8])
local absolute = tonumber(ARGV[9])
if absolute > 0 then
  local limit = tonumber(f[4]) + absolute
  if limit < exp then
    exp = limit
  end
end
if exp <= now then
  redis.call("DEL", KEYS[1])
  redis.call("ZREM", KEYS[2], ARGV[2])
  return {0}
end

redis.call("HSET", KEYS[1],
  "accessTokenId", ARGV[5],
  "accessExpiresAt", ARGV[6],
  "refreshTokenId", ARGV[7],
  "refreshExpiresAt", ARGV[8],
  "lastActivityAt", ARGV[4],
  "expiresAt", exp)
redis.call("PEXPIRE", KEYS[1], exp - now)
redis.call("ZADD", KEYS[2], ARGV[4], ARGV[2])
extend(KEYS[2], exp - now)

return {3, exp}
`

var rotateLua = redis.NewScript(rotateScript)

// KEYS: session. ARGV: index key prefix, session id.
const deleteScript = luaHelpers + `
local pid = redis.call("HGET", KEYS[1], "principalId")
if not pid then
  return {}
end
local out = {}
collect(KEYS[1], ARGV[2], out)
redis.call("DEL", KEYS[1])
redis.call("ZREM", ARGV[1] .. pid, ARGV[2])
return out
`

var deleteLua = redis.NewScript(deleteScript)

// KEYS: index. ARGV: session key prefix.
const deleteAllScript = luaHelpers + `
local out = {}
for _, id in ipairs(redis.call("ZRANGE", KEYS[1], 0, -1)) do
  local key = ARGV[1] .. id
  if redis.call("EXISTS", key) == 1 then
    collect(key, id, out)
    redis.call("DEL", key)
  end
end
redis.call("DEL", KEYS[1])
return out
`

var deleteAllLua = redis.NewScript(deleteAllScript)
