package whatsapp

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"go.mau.fi/whatsmeow"
)

type mediaRef struct {
	id       string
	msg      whatsmeow.DownloadableMessage
	mimeType string
	filename string
}

// mediaCache remembers the encrypted media references of recent inbound
// messages so they can be downloaded by message id. The least recently
// used entry is evicted first. A zero-size cache stores nothing.
type mediaCache struct {
	refs *lru.Cache[string, mediaRef]
}

func newMediaCache(size int) *mediaCache {
	if size <= 0 {
		return &mediaCache{}
	}
	refs, err := lru.New[string, mediaRef](size)
	if err != nil {
		return &mediaCache{}
	}
	return &mediaCache{refs: refs}
}

func (c *mediaCache) put(ref mediaRef) {
	if c.refs == nil || ref.id == "" || ref.msg == nil {
		return
	}
	c.refs.Add(ref.id, ref)
}

func (c *mediaCache) get(id string) (mediaRef, bool) {
	if c.refs == nil {
		return mediaRef{}, false
	}
	return c.refs.Get(id)
}

func (c *mediaCache) len() int {
	if c.refs == nil {
		return 0
	}
	return c.refs.Len()
}
