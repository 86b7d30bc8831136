package dispatch

import (
	"sync"

	"github.com/anvilfs/zuscore/fsapi"
)

// inodeCache holds the *fsapi.Inode wrappers the dispatcher has
// already resolved via Iget/NewInode, keyed by inode number. The
// kernel can address the same inode from many concurrent operations;
// caching avoids a redundant Iget per operation and gives EVICT_INODE
// something to remove.
type inodeCache struct {
	mu sync.RWMutex
	m  map[fsapi.Ino]*fsapi.Inode
}

func newInodeCache() inodeCache {
	return inodeCache{m: make(map[fsapi.Ino]*fsapi.Inode)}
}

func (c *inodeCache) get(ino fsapi.Ino) (*fsapi.Inode, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	inode, ok := c.m[ino]
	return inode, ok
}

func (c *inodeCache) put(ino fsapi.Ino, inode *fsapi.Inode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[ino] = inode
}

func (c *inodeCache) delete(ino fsapi.Ino) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, ino)
}
