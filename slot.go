package collage

import (
	mathrand "math/rand"
	"slices"
	"sync"

	"golang.org/x/exp/maps"
)

// maps photos onto a fixed number of slots so that a photo keeps its slot
// for as long as it is present and the slot count is unchanged. Unrelated
// arrivals and departures never move an already placed photo.
//
// invariants:
// - no two photos share a slot
// - every assigned slot index is < slotCount and marked occupied
// - occupied is exactly the set of assigned slot indexes
//
// the free pool is handed out in seeded shuffled order so new arrivals do
// not visually cluster at the low indexes. A fixed seed makes the shuffle
// reproducible in tests.
type SlotTable struct {
	stateLock sync.Mutex

	slotCount   int
	random      *mathrand.Rand
	slotIndexes map[Id]int
	occupied    map[int]bool
}

func NewSlotTable(slotCount int, seed int64) *SlotTable {
	return &SlotTable{
		slotCount:   slotCount,
		random:      mathrand.New(mathrand.NewSource(seed)),
		slotIndexes: map[Id]int{},
		occupied:    map[int]bool{},
	}
}

func (self *SlotTable) SlotCount() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.slotCount
}

// shrinking the table drops assignments at or beyond the new count.
// growing keeps all assignments.
func (self *SlotTable) SetSlotCount(slotCount int) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.slotCount = slotCount
	for _, photoId := range maps.Keys(self.slotIndexes) {
		slotIndex := self.slotIndexes[photoId]
		if slotCount <= slotIndex {
			delete(self.slotIndexes, photoId)
			delete(self.occupied, slotIndex)
		}
	}
}

// recomputes the assignment for the current photo set. Existing assignments
// are kept; photos not yet assigned take free slots oldest first. Photos
// beyond the available slots get no assignment. Idempotent.
func (self *SlotTable) Assign(photos []*Photo) map[Id]int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	presentIds := map[Id]bool{}
	for _, photo := range photos {
		presentIds[photo.PhotoId] = true
	}

	// drop assignments for photos that left or slots that no longer exist
	for _, photoId := range maps.Keys(self.slotIndexes) {
		slotIndex := self.slotIndexes[photoId]
		if !presentIds[photoId] || self.slotCount <= slotIndex {
			delete(self.slotIndexes, photoId)
			delete(self.occupied, slotIndex)
		}
	}

	freeSlotIndexes := []int{}
	for slotIndex := 0; slotIndex < self.slotCount; slotIndex += 1 {
		if !self.occupied[slotIndex] {
			freeSlotIndexes = append(freeSlotIndexes, slotIndex)
		}
	}
	self.random.Shuffle(len(freeSlotIndexes), func(i int, j int) {
		freeSlotIndexes[i], freeSlotIndexes[j] = freeSlotIndexes[j], freeSlotIndexes[i]
	})

	unassigned := []*Photo{}
	for _, photo := range photos {
		if _, ok := self.slotIndexes[photo.PhotoId]; !ok {
			unassigned = append(unassigned, photo)
		}
	}
	slices.SortFunc(unassigned, func(a *Photo, b *Photo) int {
		if photoBefore(a, b) {
			return -1
		} else if photoBefore(b, a) {
			return 1
		} else {
			return 0
		}
	})

	for i, photo := range unassigned {
		if len(freeSlotIndexes) <= i {
			break
		}
		slotIndex := freeSlotIndexes[i]
		self.slotIndexes[photo.PhotoId] = slotIndex
		self.occupied[slotIndex] = true
	}

	return maps.Clone(self.slotIndexes)
}

func (self *SlotTable) SlotIndex(photoId Id) (int, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	slotIndex, ok := self.slotIndexes[photoId]
	return slotIndex, ok
}

func (self *SlotTable) Assignment() map[Id]int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return maps.Clone(self.slotIndexes)
}

// inverse of the assignment, slot index -> photo id
func (self *SlotTable) PhotoIdsBySlot() map[int]Id {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	photoIds := map[int]Id{}
	for photoId, slotIndex := range self.slotIndexes {
		photoIds[slotIndex] = photoId
	}
	return photoIds
}
