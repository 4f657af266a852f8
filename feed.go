package collage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang/glog"

	"github.com/gorilla/websocket"
)

// the live change feed for one wall. Delivery is at-least-once: events may be
// duplicated or arrive out of order across ids. The store's idempotent
// reconcile makes the final state order-insensitive.

type FeedMessageType string

const (
	FeedMessageSubscribed    FeedMessageType = "subscribed"
	FeedMessagePhotoInserted FeedMessageType = "photo_inserted"
	FeedMessagePhotoRemoved  FeedMessageType = "photo_removed"
	FeedMessagePhotoUpdated  FeedMessageType = "photo_updated"
)

type FeedMessage struct {
	Type    FeedMessageType `json:"type"`
	WallId  Id              `json:"wall_id"`
	Photo   *Photo          `json:"photo,omitempty"`
	PhotoId *Id             `json:"photo_id,omitempty"`
}

// all callbacks are optional and wrapped to recover from errors.
// `Confirmed` fires on every (re)connect once the server acknowledges the
// subscription. `Down` fires whenever the feed drops or fails to connect.
type FeedEvents struct {
	Confirmed func()
	Event     func(message *FeedMessage)
	Down      func(err error)
}

func (self *FeedEvents) confirmed() {
	if self.Confirmed != nil {
		defer func() {
			if r := recover(); r != nil {
				glog.Errorf("[f]confirmed callback panic = %v\n", r)
			}
		}()
		self.Confirmed()
	}
}

func (self *FeedEvents) event(message *FeedMessage) {
	if self.Event != nil {
		defer func() {
			if r := recover(); r != nil {
				glog.Errorf("[f]event callback panic = %v\n", r)
			}
		}()
		self.Event(message)
	}
}

func (self *FeedEvents) down(err error) {
	if self.Down != nil {
		defer func() {
			if r := recover(); r != nil {
				glog.Errorf("[f]down callback panic = %v\n", r)
			}
		}()
		self.Down(err)
	}
}

type FeedSubscription interface {
	// safe to call multiple times
	Unsubscribe()
}

type Feed interface {
	Subscribe(ctx context.Context, wallId Id, events *FeedEvents) FeedSubscription
}

// (ctx, url)
type WsDialFunc func(ctx context.Context, url string) (*websocket.Conn, error)

type WsFeedSettings struct {
	WsHandshakeTimeout time.Duration
	AuthTimeout        time.Duration
	ReconnectTimeout   time.Duration
	PingTimeout        time.Duration
	WriteTimeout       time.Duration
	ReadTimeout        time.Duration
	WsDial             WsDialFunc
}

func DefaultWsFeedSettings() *WsFeedSettings {
	return &WsFeedSettings{
		WsHandshakeTimeout: 2 * time.Second,
		AuthTimeout:        2 * time.Second,
		ReconnectTimeout:   5 * time.Second,
		PingTimeout:        1 * time.Second,
		WriteTimeout:       5 * time.Second,
		ReadTimeout:        15 * time.Second,
	}
}

type FeedAuth struct {
	ByJwt      string `json:"by_jwt"`
	InstanceId Id     `json:"instance_id"`
	ClientId   Id     `json:"client_id"`
	WallId     Id     `json:"wall_id"`
}

// derives the client id from the token claims. The instance id is fresh per
// call, so two tabs with the same token subscribe separately.
func NewFeedAuth(byJwt string) *FeedAuth {
	auth := &FeedAuth{
		ByJwt:      byJwt,
		InstanceId: NewId(),
	}
	if claims, err := ParseByJwtUnverified(byJwt); err == nil {
		auth.ClientId = claims.ClientId
	}
	return auth
}

// websocket change feed client.
// one `WsFeed` serves many sequential subscriptions; each subscription runs
// its own connect/read loop until unsubscribed.
type WsFeed struct {
	ctx    context.Context
	cancel context.CancelFunc

	feedUrl string
	auth    *FeedAuth

	settings *WsFeedSettings
}

func NewWsFeedWithDefaults(ctx context.Context, feedUrl string, auth *FeedAuth) *WsFeed {
	return NewWsFeed(ctx, feedUrl, auth, DefaultWsFeedSettings())
}

func NewWsFeed(ctx context.Context, feedUrl string, auth *FeedAuth, settings *WsFeedSettings) *WsFeed {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &WsFeed{
		ctx:      cancelCtx,
		cancel:   cancel,
		feedUrl:  feedUrl,
		auth:     auth,
		settings: settings,
	}
}

func (self *WsFeed) Subscribe(ctx context.Context, wallId Id, events *FeedEvents) FeedSubscription {
	cancelCtx, cancel := context.WithCancel(ctx)
	subscription := &wsFeedSubscription{
		ctx:      cancelCtx,
		cancel:   cancel,
		feed:     self,
		wallId:   wallId,
		events:   events,
		settings: self.settings,
	}
	go subscription.run()
	return subscription
}

func (self *WsFeed) Close() {
	self.cancel()
}

func (self *WsFeed) dial(ctx context.Context) (*websocket.Conn, error) {
	if self.settings.WsDial != nil {
		return self.settings.WsDial(ctx, self.feedUrl)
	}
	dialer := &websocket.Dialer{
		HandshakeTimeout: self.settings.WsHandshakeTimeout,
	}
	ws, _, err := dialer.DialContext(ctx, self.feedUrl, nil)
	return ws, err
}

type wsFeedSubscription struct {
	ctx    context.Context
	cancel context.CancelFunc

	feed   *WsFeed
	wallId Id
	events *FeedEvents

	settings *WsFeedSettings
}

func (self *wsFeedSubscription) run() {
	defer self.cancel()

	auth := &FeedAuth{
		ByJwt:      self.feed.auth.ByJwt,
		InstanceId: self.feed.auth.InstanceId,
		ClientId:   self.feed.auth.ClientId,
		WallId:     self.wallId,
	}
	authBytes, err := json.Marshal(auth)
	if err != nil {
		return
	}

	for {
		select {
		case <-self.ctx.Done():
			return
		case <-self.feed.ctx.Done():
			return
		default:
		}

		connect := func() (*websocket.Conn, error) {
			ws, err := self.feed.dial(self.ctx)
			if err != nil {
				return nil, err
			}

			success := false
			defer func() {
				if !success {
					ws.Close()
				}
			}()

			ws.SetWriteDeadline(time.Now().Add(self.settings.AuthTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, authBytes); err != nil {
				return nil, err
			}
			ws.SetReadDeadline(time.Now().Add(self.settings.AuthTimeout))
			_, message, err := ws.ReadMessage()
			if err != nil {
				return nil, err
			}
			// verify the subscription ack for this wall
			var ack FeedMessage
			if err := json.Unmarshal(message, &ack); err != nil {
				return nil, err
			}
			if ack.Type != FeedMessageSubscribed || ack.WallId != self.wallId {
				return nil, fmt.Errorf("Subscribe ack error: %s %s.", ack.Type, ack.WallId)
			}

			success = true
			return ws, nil
		}

		ws, err := connect()
		if err != nil {
			glog.Infof("[f]subscribe error %s = %s\n", self.wallId, err)
			self.events.down(err)
			select {
			case <-self.ctx.Done():
				return
			case <-self.feed.ctx.Done():
				return
			case <-time.After(self.settings.ReconnectTimeout):
				continue
			}
		}

		self.events.confirmed()

		c := func() {
			defer ws.Close()

			handleCtx, handleCancel := context.WithCancel(self.ctx)
			defer handleCancel()

			go func() {
				defer handleCancel()

				for {
					select {
					case <-handleCtx.Done():
						return
					case <-self.feed.ctx.Done():
						return
					case <-time.After(self.settings.PingTimeout):
						ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
						if err := ws.WriteMessage(websocket.BinaryMessage, make([]byte, 0)); err != nil {
							// note that for websocket a deadline timeout cannot be recovered
							return
						}
					}
				}
			}()

			for {
				select {
				case <-handleCtx.Done():
					return
				default:
				}

				ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
				messageType, message, err := ws.ReadMessage()
				if err != nil {
					glog.Infof("[f]%s<- error = %s\n", self.wallId, err)
					return
				}

				switch messageType {
				case websocket.TextMessage:
					var feedMessage FeedMessage
					if err := json.Unmarshal(message, &feedMessage); err != nil {
						glog.Infof("[f]%s<- decode error = %s\n", self.wallId, err)
						continue
					}
					glog.V(2).Infof("[f]%s<- %s\n", self.wallId, feedMessage.Type)
					self.events.event(&feedMessage)
				case websocket.BinaryMessage:
					if 0 == len(message) {
						// ping
						glog.V(2).Infof("[f]ping %s<-\n", self.wallId)
						continue
					}
				}
			}
		}
		c()

		self.events.down(fmt.Errorf("Feed closed."))
		select {
		case <-self.ctx.Done():
			return
		case <-self.feed.ctx.Done():
			return
		case <-time.After(self.settings.ReconnectTimeout):
		}
	}
}

func (self *wsFeedSubscription) Unsubscribe() {
	self.cancel()
}
