package collage

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func testWall(ctx context.Context, feed Feed, snapshot SnapshotFunc, cache *TextureCache) *Wall {
	return NewWall(ctx, nil, feed, cache, &WallSettings{
		SlotCount:       3,
		SlotSeed:        1,
		Pattern:         NewGridPatternWithDefaults(),
		Snapshot:        snapshot,
		SessionSettings: testSessionSettings(),
	})
}

func instantFetch(ctx context.Context, url string) (*Texture, error) {
	return testTexture(url), nil
}

func TestWallFrameScenario(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := newTestFeed()
	snapshot := &testSnapshot{}
	cache := NewTextureCache(ctx, &TextureCacheSettings{
		FetchTimeout: 5 * time.Second,
		Fetch:        instantFetch,
	})
	defer cache.Close()

	wall := testWall(ctx, feed, snapshot.fn(), cache)
	defer wall.Close()

	wallId := NewId()
	wall.Open(wallId)
	feed.current().confirm()
	settleResyncs(t, snapshot, 2)

	start := time.Now()
	a := testPhoto(wallId, start)
	b := testPhoto(wallId, start.Add(time.Second))
	c := testPhoto(wallId, start.Add(2*time.Second))
	d := testPhoto(wallId, start.Add(3*time.Second))

	for _, photo := range []*Photo{a, b, c} {
		feed.current().deliver(&FeedMessage{
			Type:   FeedMessagePhotoInserted,
			WallId: wallId,
			Photo:  photo,
		})
	}

	items := wall.CurrentFrame(0)
	assert.Equal(t, len(items), 3)
	for _, item := range items {
		assert.NotEqual(t, item.Photo, nil)
	}

	slotA, _ := wall.slots.SlotIndex(a.PhotoId)
	slotB, _ := wall.slots.SlotIndex(b.PhotoId)
	slotC, _ := wall.slots.SlotIndex(c.PhotoId)

	feed.current().deliver(&FeedMessage{
		Type:    FeedMessagePhotoRemoved,
		WallId:  wallId,
		PhotoId: &b.PhotoId,
	})
	feed.current().deliver(&FeedMessage{
		Type:   FeedMessagePhotoInserted,
		WallId: wallId,
		Photo:  d,
	})

	// a and c keep their slots, d takes b's
	nextSlotA, _ := wall.slots.SlotIndex(a.PhotoId)
	nextSlotC, _ := wall.slots.SlotIndex(c.PhotoId)
	slotD, okD := wall.slots.SlotIndex(d.PhotoId)
	assert.Equal(t, okD, true)
	assert.Equal(t, nextSlotA, slotA)
	assert.Equal(t, nextSlotC, slotC)
	assert.Equal(t, slotD, slotB)

	// textures resolve and show up in later frames
	waitFor(t, func() bool {
		ready := 0
		for _, item := range wall.CurrentFrame(0) {
			if item.Texture != nil {
				ready += 1
			}
		}
		return ready == 3
	})

	items = wall.CurrentFrame(0)
	assert.Equal(t, items[slotD].Photo.PhotoId, d.PhotoId)
	assert.Equal(t, items[slotD].Texture.Url, d.Url)
}

func TestWallOpenSameWallNoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := newTestFeed()
	snapshot := &testSnapshot{}
	cache := NewTextureCache(ctx, &TextureCacheSettings{Fetch: instantFetch, FetchTimeout: time.Second})
	defer cache.Close()

	wall := testWall(ctx, feed, snapshot.fn(), cache)
	defer wall.Close()

	wallId := NewId()
	wall.Open(wallId)
	session := wall.Session()
	assert.NotEqual(t, session, nil)

	wall.Open(wallId)
	assert.Equal(t, wall.Session() == session, true)
	assert.Equal(t, feed.subscriptionCount(), 1)
}

func TestWallSwitchTearsDownPrevious(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := newTestFeed()
	snapshot := &testSnapshot{}
	cache := NewTextureCache(ctx, &TextureCacheSettings{Fetch: instantFetch, FetchTimeout: time.Second})
	defer cache.Close()

	wall := testWall(ctx, feed, snapshot.fn(), cache)
	defer wall.Close()

	firstWallId := NewId()
	wall.Open(firstWallId)
	firstSubscription := feed.current()
	feed.current().confirm()
	settleResyncs(t, snapshot, 2)
	feed.current().deliver(&FeedMessage{
		Type:   FeedMessagePhotoInserted,
		WallId: firstWallId,
		Photo:  testPhoto(firstWallId, time.Now()),
	})
	assert.Equal(t, wall.Store().PhotoCount(), 1)

	secondWallId := NewId()
	wall.Open(secondWallId)

	// the old subscription is released and the old photos are discarded
	assert.Equal(t, 1 <= int(firstSubscription.unsubscribeCount.Load()), true)
	assert.Equal(t, wall.Store().PhotoCount(), 0)
	assert.Equal(t, len(wall.slots.Assignment()), 0)
	assert.Equal(t, wall.Session().WallId(), secondWallId)
}

func TestWallCallbacksReenterDuringSwitch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := newTestFeed()
	snapshot := &testSnapshot{}
	cache := NewTextureCache(ctx, &TextureCacheSettings{Fetch: instantFetch, FetchTimeout: time.Second})
	defer cache.Close()

	wall := testWall(ctx, feed, snapshot.fn(), cache)
	defer wall.Close()

	firstWallId := NewId()
	wall.Open(firstWallId)
	feed.current().confirm()
	settleResyncs(t, snapshot, 2)

	// callbacks that reenter the wall. The switch fires these synchronously
	// while tearing the previous session down.
	removeState := wall.Session().OnState(func(state SessionState) {
		wall.IsLive()
	})
	defer removeState()
	removeChange := wall.OnChange(func() {
		wall.Session()
	})
	defer removeChange()

	feed.current().deliver(&FeedMessage{
		Type:   FeedMessagePhotoInserted,
		WallId: firstWallId,
		Photo:  testPhoto(firstWallId, time.Now()),
	})

	secondWallId := NewId()
	done := make(chan struct{})
	go func() {
		defer close(done)
		wall.Open(secondWallId)
	}()
	select {
	case <-done:
	case <-time.After(4 * time.Second):
		t.Fatal("switch deadlocked")
	}
	assert.Equal(t, wall.Session().WallId(), secondWallId)

	wall.Close()
	assert.Equal(t, wall.Session() == nil, true)
}

func TestWallSlotCountChange(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := newTestFeed()
	snapshot := &testSnapshot{}
	cache := NewTextureCache(ctx, &TextureCacheSettings{Fetch: instantFetch, FetchTimeout: time.Second})
	defer cache.Close()

	wall := testWall(ctx, feed, snapshot.fn(), cache)
	defer wall.Close()

	wallId := NewId()
	wall.Open(wallId)
	feed.current().confirm()
	settleResyncs(t, snapshot, 2)

	start := time.Now()
	for i := 0; i < 3; i += 1 {
		feed.current().deliver(&FeedMessage{
			Type:   FeedMessagePhotoInserted,
			WallId: wallId,
			Photo:  testPhoto(wallId, start.Add(time.Duration(i)*time.Second)),
		})
	}
	assert.Equal(t, len(wall.slots.Assignment()), 3)

	wall.SetSlotCount(1)
	assert.Equal(t, len(wall.CurrentFrame(0)), 1)
	assert.Equal(t, len(wall.slots.Assignment()), 1)

	wall.SetSlotCount(8)
	assert.Equal(t, len(wall.slots.Assignment()), 3)
	assert.Equal(t, len(wall.CurrentFrame(0)), 8)
}

func TestWallPatternSwitchKeepsAssignment(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := newTestFeed()
	snapshot := &testSnapshot{}
	cache := NewTextureCache(ctx, &TextureCacheSettings{Fetch: instantFetch, FetchTimeout: time.Second})
	defer cache.Close()

	wall := testWall(ctx, feed, snapshot.fn(), cache)
	defer wall.Close()

	wallId := NewId()
	wall.Open(wallId)
	feed.current().confirm()
	settleResyncs(t, snapshot, 2)
	feed.current().deliver(&FeedMessage{
		Type:   FeedMessagePhotoInserted,
		WallId: wallId,
		Photo:  testPhoto(wallId, time.Now()),
	})

	assignment := wall.slots.Assignment()

	assert.Equal(t, wall.SetPatternByName("spiral"), nil)
	assert.Equal(t, wall.Pattern().Name(), "spiral")
	assert.Equal(t, wall.slots.Assignment(), assignment)

	assert.NotEqual(t, wall.SetPatternByName("nope"), nil)
}

func TestWallOptimisticInsertRemove(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := newTestFeed()
	snapshot := &testSnapshot{}
	cache := NewTextureCache(ctx, &TextureCacheSettings{Fetch: instantFetch, FetchTimeout: time.Second})
	defer cache.Close()

	wall := testWall(ctx, feed, snapshot.fn(), cache)
	defer wall.Close()

	wallId := NewId()
	wall.Open(wallId)
	feed.current().confirm()
	settleResyncs(t, snapshot, 2)

	local := testPhoto(wallId, time.Now())
	wall.InsertLocally(local)
	assert.Equal(t, wall.Store().PhotoCount(), 1)

	// the feed echo of the optimistic insert does not double apply
	feed.current().deliver(&FeedMessage{
		Type:   FeedMessagePhotoInserted,
		WallId: wallId,
		Photo:  local,
	})
	assert.Equal(t, wall.Store().PhotoCount(), 1)

	wall.RemoveLocally(local.PhotoId)
	assert.Equal(t, wall.Store().PhotoCount(), 0)
}
