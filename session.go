package collage

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
)

// sync session states for one wall subscription:
//
//	disconnected -> connecting -> live | polling -> disconnected
//
// connecting arms a deadline. If the feed does not confirm before the
// deadline, or drops at any point, the session falls back to periodic
// snapshot polling. A late confirm while polling wins: the feed is
// authoritative once confirmed, so the session stops polling and goes live.
type SessionState string

const (
	SessionStateDisconnected SessionState = "disconnected"
	SessionStateConnecting   SessionState = "connecting"
	SessionStateLive         SessionState = "live"
	SessionStatePolling      SessionState = "polling"
)

// (ctx, wallId)
type SnapshotFunc func(ctx context.Context, wallId Id) ([]*Photo, error)

type StateFunction func(state SessionState)

type SyncSessionSettings struct {
	ConnectTimeout time.Duration
	PollInterval   time.Duration
}

func DefaultSyncSessionSettings() *SyncSessionSettings {
	return &SyncSessionSettings{
		ConnectTimeout: 5 * time.Second,
		PollInterval:   2 * time.Second,
	}
}

type SyncSession struct {
	ctx    context.Context
	cancel context.CancelFunc

	wallId   Id
	feed     Feed
	snapshot SnapshotFunc
	store    *WallStore

	settings *SyncSessionSettings

	stateLock    sync.Mutex
	state        SessionState
	subscription FeedSubscription
	connectTimer *time.Timer
	pollCancel   context.CancelFunc

	stateCallbacks *CallbackList[StateFunction]
	stateMonitor   *Monitor
}

func OpenSyncSessionWithDefaults(
	ctx context.Context,
	wallId Id,
	feed Feed,
	snapshot SnapshotFunc,
	store *WallStore,
) *SyncSession {
	return OpenSyncSession(ctx, wallId, feed, snapshot, store, DefaultSyncSessionSettings())
}

func OpenSyncSession(
	ctx context.Context,
	wallId Id,
	feed Feed,
	snapshot SnapshotFunc,
	store *WallStore,
	settings *SyncSessionSettings,
) *SyncSession {
	cancelCtx, cancel := context.WithCancel(ctx)
	session := &SyncSession{
		ctx:            cancelCtx,
		cancel:         cancel,
		wallId:         wallId,
		feed:           feed,
		snapshot:       snapshot,
		store:          store,
		settings:       settings,
		state:          SessionStateConnecting,
		stateCallbacks: NewCallbackList[StateFunction](),
		stateMonitor:   NewMonitor(),
	}

	session.connectTimer = time.AfterFunc(settings.ConnectTimeout, session.connectDeadline)
	session.subscription = feed.Subscribe(cancelCtx, wallId, &FeedEvents{
		Confirmed: session.feedConfirmed,
		Event:     session.feedEvent,
		Down:      session.feedDown,
	})

	// the feed only carries changes. Fill the initial set without waiting
	// for the live/polling race to settle.
	go session.resync()

	return session
}

func (self *SyncSession) WallId() Id {
	return self.wallId
}

func (self *SyncSession) State() SessionState {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.state
}

func (self *SyncSession) IsLive() bool {
	return self.State() == SessionStateLive
}

func (self *SyncSession) OnState(stateCallback StateFunction) func() {
	return self.stateCallbacks.Add(stateCallback)
}

// channel alternative to `OnState` for select loops
func (self *SyncSession) StateMonitor() *Monitor {
	return self.stateMonitor
}

func (self *SyncSession) stateChange(state SessionState) {
	self.stateMonitor.NotifyAll()
	for _, stateCallback := range self.stateCallbacks.Get() {
		func() {
			defer func() {
				if r := recover(); r != nil {
					glog.Errorf("[s]state callback panic = %v\n", r)
				}
			}()
			stateCallback(state)
		}()
	}
}

// FeedEvents Confirmed
func (self *SyncSession) feedConfirmed() {
	self.stateLock.Lock()
	transition := false
	switch self.state {
	case SessionStateConnecting, SessionStatePolling:
		// prefer live. The feed is authoritative once confirmed.
		self.connectTimer.Stop()
		self.stopPoll()
		self.state = SessionStateLive
		transition = true
	}
	self.stateLock.Unlock()

	if transition {
		glog.V(2).Infof("[s]%s live\n", self.wallId)
		self.stateChange(SessionStateLive)
		// cover events missed while not live
		go self.resync()
	}
}

// FeedEvents Down
func (self *SyncSession) feedDown(err error) {
	self.stateLock.Lock()
	transition := false
	switch self.state {
	case SessionStateConnecting, SessionStateLive:
		self.connectTimer.Stop()
		self.startPoll()
		self.state = SessionStatePolling
		transition = true
	}
	self.stateLock.Unlock()

	if transition {
		glog.Infof("[s]%s polling = %s\n", self.wallId, err)
		self.stateChange(SessionStatePolling)
	}
}

func (self *SyncSession) connectDeadline() {
	self.stateLock.Lock()
	transition := false
	if self.state == SessionStateConnecting {
		self.startPoll()
		self.state = SessionStatePolling
		transition = true
	}
	self.stateLock.Unlock()

	if transition {
		glog.Infof("[s]%s connect deadline, polling\n", self.wallId)
		self.stateChange(SessionStatePolling)
	}
}

// FeedEvents Event
func (self *SyncSession) feedEvent(message *FeedMessage) {
	if message.WallId != self.wallId {
		// stale event from a previous subscription
		return
	}
	switch message.Type {
	case FeedMessagePhotoInserted:
		if message.Photo != nil {
			self.store.ReconcileInserted(message.Photo)
		}
	case FeedMessagePhotoRemoved:
		if message.PhotoId != nil {
			self.store.ReconcileRemoved(*message.PhotoId)
		}
	case FeedMessagePhotoUpdated:
		if message.Photo != nil {
			self.store.ReconcileUpdated(message.Photo)
		}
	}
}

// must be called with the state lock
func (self *SyncSession) startPoll() {
	if self.pollCancel != nil {
		// already polling
		return
	}
	pollCtx, pollCancel := context.WithCancel(self.ctx)
	self.pollCancel = pollCancel
	go self.poll(pollCtx)
}

// must be called with the state lock
func (self *SyncSession) stopPoll() {
	if self.pollCancel != nil {
		self.pollCancel()
		self.pollCancel = nil
	}
}

func (self *SyncSession) poll(pollCtx context.Context) {
	for {
		self.resync()
		select {
		case <-pollCtx.Done():
			return
		case <-time.After(self.settings.PollInterval):
		}
	}
}

// a failed snapshot fetch keeps the previous state. It is retried on the
// next poll tick, never fatal.
func (self *SyncSession) resync() {
	photos, err := self.snapshot(self.ctx, self.wallId)
	if err != nil {
		glog.Infof("[s]%s snapshot error = %s\n", self.wallId, err)
		return
	}
	if self.ctx.Err() != nil {
		// closed while the snapshot was in flight. The store may already
		// belong to another wall.
		return
	}
	self.store.ReconcileSnapshot(photos)
}

// cancels the deadline and poll timers and releases the feed subscription
// before returning, so a new session can be opened immediately after.
func (self *SyncSession) Close() {
	self.stateLock.Lock()
	self.state = SessionStateDisconnected
	self.connectTimer.Stop()
	self.stopPoll()
	self.stateLock.Unlock()

	self.subscription.Unsubscribe()
	self.cancel()

	self.stateChange(SessionStateDisconnected)
}
