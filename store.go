package collage

import (
	"slices"
	"sync"
	"time"

	"github.com/golang/glog"

	"golang.org/x/exp/maps"
)

// note all callbacks are wrapped to check for nil and recover from errors

type ChangeFunction func()

// the authoritative local set of photos for one wall.
// `orderedIds` is most recent first and contains exactly the keys of
// `photosById`, no duplicates. All mutation goes through the reconcile and
// local-mutation operations below, which hold the state lock for the whole
// mutation and fire change callbacks outside of it, in mutation order.
type WallStore struct {
	stateLock sync.Mutex

	photosById       map[Id]*Photo
	orderedIds       []Id
	lastReconciledAt time.Time

	changeCallbacks *CallbackList[ChangeFunction]
}

func NewWallStore() *WallStore {
	return &WallStore{
		photosById:      map[Id]*Photo{},
		orderedIds:      []Id{},
		changeCallbacks: NewCallbackList[ChangeFunction](),
	}
}

func (self *WallStore) OnChange(changeCallback ChangeFunction) func() {
	return self.changeCallbacks.Add(changeCallback)
}

func (self *WallStore) change() {
	for _, changeCallback := range self.changeCallbacks.Get() {
		func() {
			defer func() {
				if r := recover(); r != nil {
					glog.Errorf("[store]change callback panic = %v\n", r)
				}
			}()
			changeCallback()
		}()
	}
}

// photos in order, most recent first
func (self *WallStore) Photos() []*Photo {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	photos := make([]*Photo, 0, len(self.orderedIds))
	for _, photoId := range self.orderedIds {
		photos = append(photos, self.photosById[photoId])
	}
	return photos
}

func (self *WallStore) Photo(photoId Id) (*Photo, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	photo, ok := self.photosById[photoId]
	return photo, ok
}

func (self *WallStore) PhotoCount() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return len(self.orderedIds)
}

func (self *WallStore) PhotoIds() map[Id]bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	photoIds := map[Id]bool{}
	for photoId := range self.photosById {
		photoIds[photoId] = true
	}
	return photoIds
}

func (self *WallStore) LastReconciledAt() time.Time {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.lastReconciledAt
}

// idempotent against duplicate delivery.
// returns whether the state changed.
func (self *WallStore) ReconcileInserted(photo *Photo) bool {
	self.stateLock.Lock()
	changed := self.insert(photo)
	self.lastReconciledAt = time.Now()
	self.stateLock.Unlock()

	if changed {
		glog.V(2).Infof("[store]+%s\n", photo.PhotoId)
		self.change()
	}
	return changed
}

func (self *WallStore) ReconcileRemoved(photoId Id) bool {
	self.stateLock.Lock()
	changed := self.remove(photoId)
	self.lastReconciledAt = time.Now()
	self.stateLock.Unlock()

	if changed {
		glog.V(2).Infof("[store]-%s\n", photoId)
		self.change()
	}
	return changed
}

// replaces the photo fields in place. The position in the order does not
// change, so the slot assignment is untouched downstream.
func (self *WallStore) ReconcileUpdated(photo *Photo) bool {
	self.stateLock.Lock()
	_, ok := self.photosById[photo.PhotoId]
	if ok {
		self.photosById[photo.PhotoId] = photo
	}
	self.lastReconciledAt = time.Now()
	self.stateLock.Unlock()

	if ok {
		self.change()
	}
	return ok
}

// diff by id set, not deep equality, so an unchanged snapshot is a no-op
// downstream. `photos` is most recent first, the api snapshot order.
func (self *WallStore) ReconcileSnapshot(photos []*Photo) (insertedCount int, removedCount int) {
	self.stateLock.Lock()

	snapshotIds := map[Id]bool{}
	for _, photo := range photos {
		snapshotIds[photo.PhotoId] = true
	}

	for _, photoId := range maps.Keys(self.photosById) {
		if !snapshotIds[photoId] {
			if self.remove(photoId) {
				removedCount += 1
			}
		}
	}

	// insert in reverse so that the snapshot order is preserved at the front
	for i := len(photos) - 1; 0 <= i; i -= 1 {
		if self.insert(photos[i]) {
			insertedCount += 1
		}
	}

	self.lastReconciledAt = time.Now()
	self.stateLock.Unlock()

	if 0 < insertedCount || 0 < removedCount {
		glog.V(2).Infof("[store]snapshot +%d -%d\n", insertedCount, removedCount)
		self.change()
	}
	return
}

// an upload initiated by this client, applied before server confirmation.
// the feed echo is absorbed by the idempotent insert. If the upload call
// ultimately fails the caller issues the compensating `RemoveLocal`.
func (self *WallStore) InsertLocal(photo *Photo) bool {
	return self.ReconcileInserted(photo)
}

func (self *WallStore) RemoveLocal(photoId Id) bool {
	return self.ReconcileRemoved(photoId)
}

// discards all photos. Used when switching walls.
func (self *WallStore) Clear() {
	self.stateLock.Lock()
	changed := 0 < len(self.orderedIds)
	self.photosById = map[Id]*Photo{}
	self.orderedIds = []Id{}
	self.stateLock.Unlock()

	if changed {
		self.change()
	}
}

// must be called with the state lock
func (self *WallStore) insert(photo *Photo) bool {
	if _, ok := self.photosById[photo.PhotoId]; ok {
		// already present
		return false
	}
	self.photosById[photo.PhotoId] = photo
	self.orderedIds = append([]Id{photo.PhotoId}, self.orderedIds...)
	return true
}

// must be called with the state lock
func (self *WallStore) remove(photoId Id) bool {
	if _, ok := self.photosById[photoId]; !ok {
		// not present
		return false
	}
	delete(self.photosById, photoId)
	i := slices.Index(self.orderedIds, photoId)
	self.orderedIds = slices.Delete(self.orderedIds, i, i+1)
	return true
}
