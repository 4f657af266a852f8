package collage

import (
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func testPhoto(wallId Id, createdAt time.Time) *Photo {
	photoId := NewId()
	return &Photo{
		PhotoId:   photoId,
		WallId:    wallId,
		Url:       "https://pics.test/" + photoId.String() + ".jpg",
		CreatedAt: createdAt,
	}
}

func TestStoreInsertIdempotent(t *testing.T) {
	store := NewWallStore()
	wallId := NewId()
	start := time.Now()

	a := testPhoto(wallId, start)

	assert.Equal(t, store.ReconcileInserted(a), true)
	assert.Equal(t, store.ReconcileInserted(a), false)
	assert.Equal(t, store.PhotoCount(), 1)

	photos := store.Photos()
	assert.Equal(t, len(photos), 1)
	assert.Equal(t, photos[0].PhotoId, a.PhotoId)
}

func TestStoreOrderMostRecentFirst(t *testing.T) {
	store := NewWallStore()
	wallId := NewId()
	start := time.Now()

	a := testPhoto(wallId, start)
	b := testPhoto(wallId, start.Add(time.Second))
	c := testPhoto(wallId, start.Add(2*time.Second))

	store.ReconcileInserted(a)
	store.ReconcileInserted(b)
	store.ReconcileInserted(c)

	photos := store.Photos()
	assert.Equal(t, photos[0].PhotoId, c.PhotoId)
	assert.Equal(t, photos[1].PhotoId, b.PhotoId)
	assert.Equal(t, photos[2].PhotoId, a.PhotoId)
}

func TestStoreRemove(t *testing.T) {
	store := NewWallStore()
	wallId := NewId()

	a := testPhoto(wallId, time.Now())
	store.ReconcileInserted(a)

	assert.Equal(t, store.ReconcileRemoved(a.PhotoId), true)
	assert.Equal(t, store.ReconcileRemoved(a.PhotoId), false)
	assert.Equal(t, store.PhotoCount(), 0)
}

func TestStoreUpdatedKeepsOrder(t *testing.T) {
	store := NewWallStore()
	wallId := NewId()
	start := time.Now()

	a := testPhoto(wallId, start)
	b := testPhoto(wallId, start.Add(time.Second))
	store.ReconcileInserted(a)
	store.ReconcileInserted(b)

	updated := &Photo{
		PhotoId:   a.PhotoId,
		WallId:    wallId,
		Url:       "https://pics.test/replaced.jpg",
		CreatedAt: a.CreatedAt,
	}
	assert.Equal(t, store.ReconcileUpdated(updated), true)

	photos := store.Photos()
	assert.Equal(t, photos[1].PhotoId, a.PhotoId)
	assert.Equal(t, photos[1].Url, "https://pics.test/replaced.jpg")

	missing := testPhoto(wallId, start)
	assert.Equal(t, store.ReconcileUpdated(missing), false)
}

func TestStoreSnapshotDiff(t *testing.T) {
	store := NewWallStore()
	wallId := NewId()
	start := time.Now()

	a := testPhoto(wallId, start)
	b := testPhoto(wallId, start.Add(time.Second))
	c := testPhoto(wallId, start.Add(2*time.Second))
	d := testPhoto(wallId, start.Add(3*time.Second))

	store.ReconcileInserted(a)
	store.ReconcileInserted(b)
	store.ReconcileInserted(c)

	// b, c stay, a leaves, d arrives
	insertedCount, removedCount := store.ReconcileSnapshot([]*Photo{d, c, b})
	assert.Equal(t, insertedCount, 1)
	assert.Equal(t, removedCount, 1)

	photoIds := store.PhotoIds()
	assert.Equal(t, len(photoIds), 3)
	assert.Equal(t, photoIds[a.PhotoId], false)
	assert.Equal(t, photoIds[d.PhotoId], true)
}

func TestStoreSnapshotNoChurn(t *testing.T) {
	store := NewWallStore()
	wallId := NewId()
	start := time.Now()

	a := testPhoto(wallId, start)
	b := testPhoto(wallId, start.Add(time.Second))
	store.ReconcileInserted(a)
	store.ReconcileInserted(b)

	var mutex sync.Mutex
	changeCount := 0
	removeCallback := store.OnChange(func() {
		mutex.Lock()
		changeCount += 1
		mutex.Unlock()
	})
	defer removeCallback()

	// same id set, different instances. Diff is by id, not deep equality.
	insertedCount, removedCount := store.ReconcileSnapshot([]*Photo{
		{PhotoId: b.PhotoId, WallId: wallId, Url: b.Url, CreatedAt: b.CreatedAt},
		{PhotoId: a.PhotoId, WallId: wallId, Url: a.Url, CreatedAt: a.CreatedAt},
	})
	assert.Equal(t, insertedCount, 0)
	assert.Equal(t, removedCount, 0)

	mutex.Lock()
	assert.Equal(t, changeCount, 0)
	mutex.Unlock()
}

func TestStoreSnapshotOrderPreserved(t *testing.T) {
	store := NewWallStore()
	wallId := NewId()
	start := time.Now()

	a := testPhoto(wallId, start)
	b := testPhoto(wallId, start.Add(time.Second))
	c := testPhoto(wallId, start.Add(2*time.Second))

	// most recent first, the api order
	store.ReconcileSnapshot([]*Photo{c, b, a})

	photos := store.Photos()
	assert.Equal(t, photos[0].PhotoId, c.PhotoId)
	assert.Equal(t, photos[1].PhotoId, b.PhotoId)
	assert.Equal(t, photos[2].PhotoId, a.PhotoId)
}

func TestStoreOptimisticInsertAbsorbsEcho(t *testing.T) {
	store := NewWallStore()
	wallId := NewId()

	local := testPhoto(wallId, time.Now())
	assert.Equal(t, store.InsertLocal(local), true)

	// the feed later delivers the same insert
	assert.Equal(t, store.ReconcileInserted(local), false)
	assert.Equal(t, store.PhotoCount(), 1)
}

func TestStoreClear(t *testing.T) {
	store := NewWallStore()
	wallId := NewId()

	store.ReconcileInserted(testPhoto(wallId, time.Now()))
	store.Clear()
	assert.Equal(t, store.PhotoCount(), 0)
	assert.Equal(t, len(store.Photos()), 0)
}
