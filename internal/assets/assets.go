// Package assets loads and caches the texture files a combine job refers to.
package assets

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	// Registered decoders for image.Decode.
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-combine/internal/logger"
)

// ErrNotFound is returned when no root holds the requested file.
var ErrNotFound = errors.New("file not found")

// Loader reads files from a stack of roots and decodes textures.
// Roots are searched in reverse order (last added = highest priority).
type Loader struct {
	roots  []fs.FS
	files  *Cache[[]byte]
	images *Cache[image.Image]
	log    *zap.Logger
	mu     sync.RWMutex
}

// NewLoader creates a loader over the given roots.
func NewLoader(roots ...fs.FS) *Loader {
	return &Loader{
		roots:  roots,
		files:  NewCache[[]byte](),
		images: NewCache[image.Image](),
		log:    logger.Named("assets"),
	}
}

// AddDir adds a directory root.
func (l *Loader) AddDir(dir string) {
	l.mu.Lock()
	l.roots = append(l.roots, os.DirFS(dir))
	l.mu.Unlock()
}

// Read returns the contents of name. Absolute paths bypass the roots.
func (l *Loader) Read(name string) ([]byte, error) {
	if data, ok := l.files.Get(name); ok {
		return data, nil
	}

	if filepath.IsAbs(name) {
		data, err := os.ReadFile(name)
		if err != nil {
			return nil, err
		}
		l.files.Set(name, data)
		return data, nil
	}

	clean := path.Clean(filepath.ToSlash(name))
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := len(l.roots) - 1; i >= 0; i-- {
		data, err := fs.ReadFile(l.roots[i], clean)
		if err == nil {
			l.files.Set(name, data)
			return data, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Texture loads and decodes an image. With colorKey set, magenta pixels
// become transparent. Decoded images are cached per (name, colorKey).
func (l *Loader) Texture(name string, colorKey bool) (image.Image, error) {
	key := name
	if colorKey {
		key += "#key"
	}
	if img, ok := l.images.Get(key); ok {
		return img, nil
	}

	data, err := l.Read(name)
	if err != nil {
		return nil, err
	}
	img, err := Decode(name, data)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", name, err)
	}
	if colorKey {
		rgba := ToRGBA(img)
		ApplyMagentaKey(rgba)
		img = rgba
	}
	l.images.Set(key, img)
	l.log.Debug("texture loaded",
		zap.String("path", name),
		zap.Int("width", img.Bounds().Dx()),
		zap.Int("height", img.Bounds().Dy()))
	return img, nil
}

// Decode decodes data, using the file extension to pick the TGA decoder
// since TGA has no magic number. Everything else goes through image.Decode.
func Decode(name string, data []byte) (image.Image, error) {
	if strings.EqualFold(path.Ext(filepath.ToSlash(name)), ".tga") {
		return DecodeTGA(data)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	return img, err
}

// Close drops all cached data.
func (l *Loader) Close() {
	l.files.Clear()
	l.images.Clear()
}

// Stats returns texture cache statistics.
func (l *Loader) Stats() (hits, misses int) {
	return l.images.Stats()
}

// Cache is a simple in-memory cache for loaded assets.
type Cache[V any] struct {
	data map[string]V
	mu   sync.Mutex

	// Stats
	hits   int
	misses int
}

// NewCache creates a new cache.
func NewCache[V any]() *Cache[V] {
	return &Cache[V]{
		data: make(map[string]V),
	}
}

// Get retrieves an item from cache.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.data[key]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return v, ok
}

// Set stores an item in cache.
func (c *Cache[V]) Set(key string, v V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = v
}

// Clear clears the cache.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[string]V)
	c.hits = 0
	c.misses = 0
}

// Stats returns cache statistics.
func (c *Cache[V]) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
