package collage

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"

	// decoders for the formats walls serve
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// a decoded photo resource. Kept as RGBA so it can be handed to a gpu
// uploader without another conversion.
type Texture struct {
	Url  string
	RGBA *image.RGBA
}

func (self *Texture) String() string {
	return fmt.Sprintf("texture(%s)", self.Url)
}

type FetchError struct {
	Url string
	Err error
}

func (self *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %s", self.Url, self.Err)
}

func (self *FetchError) Unwrap() error {
	return self.Err
}

// (ctx, url)
type TextureFetchFunction func(ctx context.Context, url string) (*Texture, error)

type TextureCacheSettings struct {
	FetchTimeout time.Duration
	// nil uses the http fetcher
	Fetch TextureFetchFunction
}

func DefaultTextureCacheSettings() *TextureCacheSettings {
	return &TextureCacheSettings{
		FetchTimeout: 30 * time.Second,
	}
}

// deduplicated memoizing loader keyed by url. Concurrent acquires for the
// same url share one in-flight fetch. A ready entry always resolves to the
// same texture instance. A failed fetch rejects all waiters; the failed
// entry stays resident so peeks see the error, and the next acquire or
// dispose replaces it. The cache is safe to share process wide across walls.
type TextureCache struct {
	ctx    context.Context
	cancel context.CancelFunc

	settings *TextureCacheSettings

	stateLock sync.Mutex
	entries   map[string]*textureEntry
}

type textureEntry struct {
	// closed when the fetch resolves
	done    chan struct{}
	texture *Texture
	err     error
}

func NewTextureCacheWithDefaults(ctx context.Context) *TextureCache {
	return NewTextureCache(ctx, DefaultTextureCacheSettings())
}

func NewTextureCache(ctx context.Context, settings *TextureCacheSettings) *TextureCache {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &TextureCache{
		ctx:      cancelCtx,
		cancel:   cancel,
		settings: settings,
		entries:  map[string]*textureEntry{},
	}
}

// blocks until the texture is ready or the fetch fails.
// a previously failed entry is not replayed - the acquire starts a new fetch.
func (self *TextureCache) Acquire(ctx context.Context, url string) (*Texture, error) {
	entry := self.entry(url, true)

	select {
	case <-entry.done:
		return entry.texture, entry.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-self.ctx.Done():
		return nil, self.ctx.Err()
	}
}

// non-blocking view of the entry for per-frame rendering. Starts the fetch
// if the url has not been seen. `ready` is false while the fetch is in
// flight. A failed entry keeps reporting its error, so the renderer shows a
// placeholder instead of hammering a bad url every frame; `Acquire` or
// `Dispose` retries it.
func (self *TextureCache) Peek(url string) (texture *Texture, err error, ready bool) {
	entry := self.entry(url, false)

	select {
	case <-entry.done:
		return entry.texture, entry.err, true
	default:
		return nil, nil, false
	}
}

func (self *TextureCache) entry(url string, retryFailed bool) *textureEntry {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	entry, ok := self.entries[url]
	if ok && retryFailed {
		select {
		case <-entry.done:
			if entry.err != nil {
				// replace the failed entry with a fresh fetch
				ok = false
			}
		default:
		}
	}
	if !ok {
		entry = &textureEntry{
			done: make(chan struct{}),
		}
		self.entries[url] = entry
		go self.fetch(url, entry)
	}
	return entry
}

func (self *TextureCache) fetch(url string, entry *textureEntry) {
	fetchCtx, fetchCancel := context.WithTimeout(self.ctx, self.settings.FetchTimeout)
	defer fetchCancel()

	fetchFn := self.settings.Fetch
	if fetchFn == nil {
		fetchFn = httpTextureFetch
	}

	texture, err := fetchFn(fetchCtx, url)
	if err != nil {
		glog.Infof("[tx]fetch error %s = %s\n", url, err)
		// the failed entry stays resident so peeks keep reporting the
		// failure. Acquire and Dispose replace it with a fresh fetch.
		entry.err = &FetchError{
			Url: url,
			Err: err,
		}
		close(entry.done)
		return
	}

	entry.texture = texture
	close(entry.done)
}

// frees the underlying resource and removes the entry unconditionally
func (self *TextureCache) Dispose(url string) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	delete(self.entries, url)
}

func (self *TextureCache) Clear() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.entries = map[string]*textureEntry{}
}

func (self *TextureCache) Size() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return len(self.entries)
}

func (self *TextureCache) Close() {
	self.cancel()
	self.Clear()
}

func httpTextureFetch(ctx context.Context, url string) (*Texture, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer r.Body.Close()

	if http.StatusOK != r.StatusCode {
		io.Copy(io.Discard, r.Body)
		return nil, fmt.Errorf("status %d", r.StatusCode)
	}

	decoded, _, err := image.Decode(r.Body)
	if err != nil {
		return nil, err
	}

	rgba, ok := decoded.(*image.RGBA)
	if !ok {
		rgba = image.NewRGBA(decoded.Bounds())
		draw.Draw(rgba, rgba.Bounds(), decoded, decoded.Bounds().Min, draw.Src)
	}

	return &Texture{
		Url:  url,
		RGBA: rgba,
	}, nil
}
