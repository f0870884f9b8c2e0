package system

import (
	"image"
	"sync"
)

// ImagePool recycles *image.RGBA frame buffers between render ticks. The
// compositor allocates two or three full-frame layers per frame; at 60 fps
// that is a lot of garbage unless the buffers come back here.
type ImagePool struct {
	pools map[string]*sync.Pool
	mu    sync.RWMutex
}

var framePool = &ImagePool{
	pools: make(map[string]*sync.Pool),
}

// GetFrame returns a buffer with the given bounds from the shared pool.
// Contents are undefined; callers must overwrite every pixel they use.
func GetFrame(rect image.Rectangle) *image.RGBA {
	return framePool.Get(rect)
}

// PutFrame returns a buffer to the shared pool for reuse.
func PutFrame(img *image.RGBA) {
	framePool.Put(img)
}

func (p *ImagePool) Get(rect image.Rectangle) *image.RGBA {
	key := rect.String()
	p.mu.RLock()
	pool, exists := p.pools[key]
	p.mu.RUnlock()

	if !exists {
		p.mu.Lock()
		pool, exists = p.pools[key]
		if !exists {
			pool = &sync.Pool{
				New: func() interface{} {
					return image.NewRGBA(rect)
				},
			}
			p.pools[key] = pool
		}
		p.mu.Unlock()
	}

	return pool.Get().(*image.RGBA)
}

func (p *ImagePool) Put(img *image.RGBA) {
	if img == nil {
		return
	}
	key := img.Rect.String()
	p.mu.RLock()
	pool, exists := p.pools[key]
	p.mu.RUnlock()

	if exists {
		pool.Put(img)
	}
}
