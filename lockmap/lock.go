// Package lockmap provides one lock per inode number.
//
// The API is as if LockMap held a lock for every possible Inum;
// LockMap.Acquire(inum) acquires the lock associated with inum and
// LockMap.Release(inum) releases it.
//
// Only locks that are held or waited for take memory. Inode numbers are
// spread over a fixed set of shards, shard i owning every inum with
// inum % NSHARD == i, and acquiring a lock synchronizes only with threads
// using the same shard.
package lockmap

import (
	"sync"

	"github.com/mit-pdos/go-myfs/common"
)

type lockState struct {
	held    bool
	cond    *sync.Cond
	waiters int64
}

type lockShard struct {
	mu    *sync.Mutex
	state map[common.Inum]*lockState
}

func mkLockShard() *lockShard {
	return &lockShard{
		mu:    new(sync.Mutex),
		state: make(map[common.Inum]*lockState),
	}
}

func (shard *lockShard) acquire(inum common.Inum) {
	shard.mu.Lock()
	defer shard.mu.Unlock()
	for {
		state, ok := shard.state[inum]
		if !ok {
			state = &lockState{cond: sync.NewCond(shard.mu)}
			shard.state[inum] = state
		}
		if !state.held {
			state.held = true
			return
		}
		state.waiters++
		state.cond.Wait()
		// the state stays in the map while it has waiters
		shard.state[inum].waiters--
	}
}

func (shard *lockShard) release(inum common.Inum) {
	shard.mu.Lock()
	defer shard.mu.Unlock()
	state, ok := shard.state[inum]
	if !ok || !state.held {
		panic("lockmap: release of unheld lock")
	}
	state.held = false
	if state.waiters > 0 {
		state.cond.Signal()
	} else {
		delete(shard.state, inum)
	}
}

func (shard *lockShard) size() int {
	shard.mu.Lock()
	defer shard.mu.Unlock()
	return len(shard.state)
}

const NSHARD = 43

type LockMap struct {
	shards []*lockShard
}

func MkLockMap() *LockMap {
	shards := make([]*lockShard, NSHARD)
	for i := range shards {
		shards[i] = mkLockShard()
	}
	return &LockMap{shards: shards}
}

func (lmap *LockMap) shard(inum common.Inum) *lockShard {
	i := int64(inum) % NSHARD
	if i < 0 {
		i += NSHARD
	}
	return lmap.shards[i]
}

func (lmap *LockMap) Acquire(inum common.Inum) {
	lmap.shard(inum).acquire(inum)
}

func (lmap *LockMap) Release(inum common.Inum) {
	lmap.shard(inum).release(inum)
}

// Held returns the number of inode locks currently held or waited for.
func (lmap *LockMap) Held() int {
	n := 0
	for _, s := range lmap.shards {
		n += s.size()
	}
	return n
}
