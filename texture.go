package cinema

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"strings"
	"sync"

	"github.com/hajimehoshi/ebiten/v2"
	_ "golang.org/x/image/webp"
)

// TextureLoader loads an image path as a drawable texture.
type TextureLoader interface {
	Load(ctx context.Context, path string) (*ebiten.Image, error)
}

// FileTextures loads png, jpeg and webp images from a file system and caches
// them by path. It is safe for concurrent use.
type FileTextures struct {
	fsys fs.FS

	mu    sync.Mutex
	cache map[string]*ebiten.Image
}

// NewFileTextures creates a loader reading from fsys.
func NewFileTextures(fsys fs.FS) *FileTextures {
	return &FileTextures{fsys: fsys, cache: make(map[string]*ebiten.Image)}
}

// Load returns the cached texture for path, decoding it on first use.
func (t *FileTextures) Load(ctx context.Context, path string) (*ebiten.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := strings.TrimPrefix(path, "/")
	if !fs.ValidPath(name) {
		return nil, fmt.Errorf("load texture %q: %w", path, fs.ErrInvalid)
	}

	t.mu.Lock()
	img, ok := t.cache[name]
	t.mu.Unlock()
	if ok {
		return img, nil
	}

	f, err := t.fsys.Open(name)
	if err != nil {
		return nil, fmt.Errorf("load texture %q: %w", path, err)
	}
	defer f.Close()
	src, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode texture %q: %w", path, err)
	}
	img = ebiten.NewImageFromImage(src)

	t.mu.Lock()
	defer t.mu.Unlock()
	if cached, ok := t.cache[name]; ok {
		return cached, nil
	}
	t.cache[name] = img
	return img, nil
}
