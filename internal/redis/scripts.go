package redis

import "github.com/redis/go-redis/v9"

// Every script takes KEYS[1] = room marker, KEYS[2] = participant hash
// (id -> role) and KEYS[3] = message hash (id -> JSON array of buffered
// payloads). The keys share the room hash tag.

var admitScript = redis.NewScript(`
local marker, clients, buffers = KEYS[1], KEYS[2], KEYS[3]
local id, loopback, loopbackID, ttl = ARGV[1], ARGV[2], ARGV[3], ARGV[4]
if redis.call('EXISTS', marker) == 0 then
  return {'CLOSED', '', {}, {}}
end
local ids = redis.call('HKEYS', clients)
if #ids >= 2 then
  return {'FULL', '', ids, {}}
end
if redis.call('HEXISTS', clients, id) == 1 or (loopback == '1' and #ids == 0 and id == loopbackID) then
  return {'DUPLICATE_CLIENT', '', ids, {}}
end
local role = 'initiator'
local messages = {}
if #ids == 1 then
  role = 'responder'
  local buffered = redis.call('HGET', buffers, ids[1])
  if buffered then
    messages = cjson.decode(buffered)
    redis.call('HDEL', buffers, ids[1])
  end
end
redis.call('HSET', clients, id, role)
if loopback == '1' and role == 'initiator' then
  redis.call('HSET', clients, loopbackID, 'responder')
end
redis.call('PEXPIRE', marker, ttl)
redis.call('PEXPIRE', clients, ttl)
return {'SUCCESS', role, redis.call('HKEYS', clients), messages}
`)

var saveScript = redis.NewScript(`
local marker, clients, buffers = KEYS[1], KEYS[2], KEYS[3]
local id, payload, ttl = ARGV[1], ARGV[2], ARGV[3]
if redis.call('EXISTS', marker) == 0 then
  return 'UNKNOWN_ROOM'
end
if redis.call('HEXISTS', clients, id) == 0 then
  return 'UNKNOWN_CLIENT'
end
if redis.call('HLEN', clients) > 1 then
  return 'FORWARD'
end
local messages = {}
local buffered = redis.call('HGET', buffers, id)
if buffered then
  messages = cjson.decode(buffered)
end
table.insert(messages, payload)
redis.call('HSET', buffers, id, cjson.encode(messages))
redis.call('PEXPIRE', buffers, ttl)
redis.call('PEXPIRE', marker, ttl)
redis.call('PEXPIRE', clients, ttl)
return 'BUFFERED'
`)

var removeScript = redis.NewScript(`
local marker, clients, buffers = KEYS[1], KEYS[2], KEYS[3]
local id, loopbackID, ttl = ARGV[1], ARGV[2], ARGV[3]
if redis.call('EXISTS', marker) == 0 then
  return {'UNKNOWN_ROOM', '', 0, {}}
end
if redis.call('HEXISTS', clients, id) == 0 then
  return {'UNKNOWN_CLIENT', '', 0, redis.call('HKEYS', clients)}
end
redis.call('HDEL', clients, id)
redis.call('HDEL', buffers, id)
local promoted, loopbackRemoved = '', 0
if redis.call('HEXISTS', clients, loopbackID) == 1 then
  redis.call('HDEL', clients, loopbackID)
  redis.call('HDEL', buffers, loopbackID)
  loopbackRemoved = 1
else
  local rest = redis.call('HKEYS', clients)
  if #rest > 0 then
    redis.call('HSET', clients, rest[1], 'initiator')
    promoted = rest[1]
  end
end
redis.call('PEXPIRE', marker, ttl)
redis.call('PEXPIRE', clients, ttl)
return {'SUCCESS', promoted, loopbackRemoved, redis.call('HKEYS', clients)}
`)

var createScript = redis.NewScript(`
local marker, clients, buffers = KEYS[1], KEYS[2], KEYS[3]
local stamp, ttl = ARGV[1], ARGV[2]
redis.call('DEL', clients, buffers)
redis.call('SET', marker, stamp, 'PX', ttl)
return 1
`)

var snapshotScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {'UNKNOWN_ROOM', {}}
end
return {'SUCCESS', redis.call('HKEYS', KEYS[2])}
`)
