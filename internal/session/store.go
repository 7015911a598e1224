// File: internal/session/store.go
// Package session
// Author: momentics <momentics@gmail.com>
//
// Sharded, thread-safe registry of live sessions, used to address messages
// to connections from outside their goroutine.

package session

import (
	"encoding/binary"
	"hash/fnv"
	"sync"
)

// Manager implements sharded storage for sessions.
type Manager struct {
	shards []*shard
	mask   uint32
}

type shard struct {
	mu       sync.RWMutex
	sessions map[uint64]*Session
}

// NewManager constructs a sharded manager with shardCount shards.
func NewManager(shardCount int) *Manager {
	if shardCount <= 0 {
		shardCount = 16
	}
	// find power-of-two shards for bitmasking
	m := nextPowerOfTwo(uint32(shardCount))
	shards := make([]*shard, m)
	for i := range shards {
		shards[i] = &shard{sessions: make(map[uint64]*Session)}
	}
	return &Manager{shards: shards, mask: m - 1}
}

func (m *Manager) shard(id uint64) *shard {
	return m.shards[hash64(id)&m.mask]
}

// Add registers s, replacing any session with the same id.
func (m *Manager) Add(s *Session) {
	sh := m.shard(s.ID())
	sh.mu.Lock()
	sh.sessions[s.ID()] = s
	sh.mu.Unlock()
}

// Get fetches a session if present.
func (m *Manager) Get(id uint64) (*Session, bool) {
	sh := m.shard(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	s, ok := sh.sessions[id]
	return s, ok
}

// Delete removes the session without cancelling it.
func (m *Manager) Delete(id uint64) {
	sh := m.shard(id)
	sh.mu.Lock()
	delete(sh.sessions, id)
	sh.mu.Unlock()
}

// Range applies fn to all sessions. fn must not call back into m.
func (m *Manager) Range(fn func(*Session)) {
	for _, sh := range m.shards {
		sh.mu.RLock()
		for _, s := range sh.sessions {
			fn(s)
		}
		sh.mu.RUnlock()
	}
}

// Len counts registered sessions.
func (m *Manager) Len() int {
	n := 0
	for _, sh := range m.shards {
		sh.mu.RLock()
		n += len(sh.sessions)
		sh.mu.RUnlock()
	}
	return n
}

// Send delivers msg to the session with id.
func (m *Manager) Send(id uint64, msg any) bool {
	s, ok := m.Get(id)
	if !ok {
		return false
	}
	return s.Send(msg)
}

// Broadcast delivers msg to every session and returns how many accepted it.
func (m *Manager) Broadcast(msg any) int {
	n := 0
	m.Range(func(s *Session) {
		if s.Send(msg) {
			n++
		}
	})
	return n
}

// hash64 hashes an id to uint32.
func hash64(id uint64) uint32 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], id)
	h := fnv.New32a()
	h.Write(b[:])
	return h.Sum32()
}

// nextPowerOfTwo returns the next power-of-two >= v.
func nextPowerOfTwo(v uint32) uint32 {
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v++
	return v
}
