package collage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang/glog"
)

var ErrNoOpenWall = errors.New("no open wall")

// the single object a renderer holds. Owns the store, slot table, pattern
// and session for the currently open wall, and shares a process-wide
// texture cache with other walls.

type WallSettings struct {
	SlotCount int
	SlotSeed  int64
	Pattern   Pattern
	// nil uses the api snapshot
	Snapshot        SnapshotFunc
	SessionSettings *SyncSessionSettings
}

func DefaultWallSettings() *WallSettings {
	return &WallSettings{
		SlotCount:       64,
		SlotSeed:        time.Now().UnixNano(),
		Pattern:         NewGridPatternWithDefaults(),
		SessionSettings: DefaultSyncSessionSettings(),
	}
}

// one rendered slot. `Photo` is nil for an empty slot. `TextureErr` marks a
// photo whose fetch failed, shown as a placeholder; other slots are
// unaffected.
type FrameItem struct {
	SlotIndex  int
	Photo      *Photo
	Placement  Placement
	Texture    *Texture
	TextureErr error
}

type Wall struct {
	ctx    context.Context
	cancel context.CancelFunc

	api   *CollageApi
	feed  Feed
	cache *TextureCache

	store *WallStore
	slots *SlotTable

	settings *WallSettings

	stateLock sync.Mutex
	pattern   Pattern
	session   *SyncSession

	removeStoreChange func()
}

func NewWallWithDefaults(ctx context.Context, api *CollageApi, feed Feed, cache *TextureCache) *Wall {
	return NewWall(ctx, api, feed, cache, DefaultWallSettings())
}

func NewWall(ctx context.Context, api *CollageApi, feed Feed, cache *TextureCache, settings *WallSettings) *Wall {
	cancelCtx, cancel := context.WithCancel(ctx)
	wall := &Wall{
		ctx:      cancelCtx,
		cancel:   cancel,
		api:      api,
		feed:     feed,
		cache:    cache,
		store:    NewWallStore(),
		slots:    NewSlotTable(settings.SlotCount, settings.SlotSeed),
		settings: settings,
		pattern:  settings.Pattern,
	}
	// the assignment is recomputed synchronously after every reconcile
	wall.removeStoreChange = wall.store.OnChange(wall.reassign)
	return wall
}

func (self *Wall) reassign() {
	self.slots.Assign(self.store.Photos())
}

func (self *Wall) Store() *WallStore {
	return self.store
}

func (self *Wall) OnChange(changeCallback ChangeFunction) func() {
	return self.store.OnChange(changeCallback)
}

// subscribes to the wall. Opening the wall that is already open is a no-op.
// Opening a different wall tears the previous session down first, so at
// most one subscription is ever active.
// the previous session is closed outside the state lock, because close and
// clear fire consumer callbacks that may reenter the wall.
func (self *Wall) Open(wallId Id) {
	self.stateLock.Lock()
	previous := self.session
	if previous != nil {
		if previous.WallId() == wallId {
			self.stateLock.Unlock()
			return
		}
		self.session = nil
	}
	self.stateLock.Unlock()

	if previous != nil {
		previous.Close()
		self.store.Clear()
	}

	glog.V(2).Infof("[w]open %s\n", wallId)

	snapshot := self.settings.Snapshot
	if snapshot == nil {
		snapshot = func(ctx context.Context, wallId Id) ([]*Photo, error) {
			result, err := self.api.WallPhotosSyncWithContext(ctx, wallId)
			if err != nil {
				return nil, err
			}
			return result.Photos, nil
		}
	}

	session := OpenSyncSession(
		self.ctx,
		wallId,
		self.feed,
		snapshot,
		self.store,
		self.settings.SessionSettings,
	)

	self.stateLock.Lock()
	self.session = session
	self.stateLock.Unlock()
}

func (self *Wall) Session() *SyncSession {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.session
}

func (self *Wall) IsLive() bool {
	session := self.Session()
	if session == nil {
		return false
	}
	return session.IsLive()
}

func (self *Wall) SetSlotCount(slotCount int) {
	self.slots.SetSlotCount(slotCount)
	self.reassign()
}

func (self *Wall) SlotCount() int {
	return self.slots.SlotCount()
}

func (self *Wall) SetPattern(pattern Pattern) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.pattern = pattern
}

func (self *Wall) SetPatternByName(name string) error {
	pattern, err := PatternByName(name)
	if err != nil {
		return err
	}
	self.SetPattern(pattern)
	return nil
}

func (self *Wall) Pattern() Pattern {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.pattern
}

func (self *Wall) InsertLocally(photo *Photo) {
	self.store.InsertLocal(photo)
}

func (self *Wall) RemoveLocally(photoId Id) {
	self.store.RemoveLocal(photoId)
}

// optimistic upload. The photo appears immediately; the feed echo is
// absorbed by the idempotent insert. On server failure the local insert is
// compensated with a remove. If the server assigned a different id, the
// local placeholder is swapped for the server photo.
func (self *Wall) AddPhoto(url string, callback AddPhotoCallback) {
	session := self.Session()
	if session == nil {
		callback.Result(nil, ErrNoOpenWall)
		return
	}

	local := &Photo{
		PhotoId:   NewId(),
		WallId:    session.WallId(),
		Url:       url,
		CreatedAt: time.Now(),
	}
	self.store.InsertLocal(local)

	self.api.AddPhoto(
		&AddPhotoArgs{
			WallId: local.WallId,
			Url:    url,
		},
		NewApiCallback[*AddPhotoResult](func(result *AddPhotoResult, err error) {
			if err != nil || (result != nil && result.Error != nil) {
				self.store.RemoveLocal(local.PhotoId)
			} else if result != nil && result.Photo != nil && result.Photo.PhotoId != local.PhotoId {
				self.store.RemoveLocal(local.PhotoId)
				self.store.ReconcileInserted(result.Photo)
			}
			callback.Result(result, err)
		}),
	)
}

// optimistic remove, re-inserted if the server call fails
func (self *Wall) RemovePhoto(photoId Id, callback RemovePhotoCallback) {
	photo, ok := self.store.Photo(photoId)
	if !ok {
		callback.Result(&RemovePhotoResult{}, nil)
		return
	}
	self.store.RemoveLocal(photoId)

	self.api.RemovePhoto(
		&RemovePhotoArgs{
			PhotoId: photoId,
		},
		NewApiCallback[*RemovePhotoResult](func(result *RemovePhotoResult, err error) {
			if err != nil || (result != nil && result.Error != nil) {
				self.store.InsertLocal(photo)
			}
			callback.Result(result, err)
		}),
	)
}

// the one call a renderer needs per frame. Items are indexed by slot.
// Textures are peeked, never awaited, so this does not block the frame.
func (self *Wall) CurrentFrame(t float32) []*FrameItem {
	pattern := self.Pattern()
	slotCount := self.slots.SlotCount()
	placements := Project(pattern, slotCount, t)
	photoIdsBySlot := self.slots.PhotoIdsBySlot()

	items := make([]*FrameItem, slotCount)
	for slotIndex := 0; slotIndex < slotCount; slotIndex += 1 {
		item := &FrameItem{
			SlotIndex: slotIndex,
			Placement: placements[slotIndex],
		}
		if photoId, ok := photoIdsBySlot[slotIndex]; ok {
			if photo, ok := self.store.Photo(photoId); ok {
				item.Photo = photo
				if texture, err, ready := self.cache.Peek(photo.Url); ready {
					item.Texture = texture
					item.TextureErr = err
				}
			}
		}
		items[slotIndex] = item
	}
	return items
}

func (self *Wall) Close() {
	self.stateLock.Lock()
	previous := self.session
	self.session = nil
	self.stateLock.Unlock()

	if previous != nil {
		previous.Close()
	}
	self.removeStoreChange()
	self.cancel()
}
