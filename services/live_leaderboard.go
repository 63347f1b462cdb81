// A room exists per challenge while at least one subscriber is connected.
// register, unregister and broadcast are only drained by the room's run loop,
// which owns the subscriber set and closes each subscriber's send channel.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"stepChallengeAPI/internal/logger"
	"stepChallengeAPI/internal/types/leaderboard"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Subscribers only send control frames.
	maxMessageSize = 512

	sendBuffer = 16
)

// StandingsFunc computes the current standings of a challenge.
type StandingsFunc func(ctx context.Context, challengeID int64) (*leaderboard.Leaderboard, error)

// LiveMessage is the frame pushed to subscribers.
type LiveMessage struct {
	Action      string                   `json:"action"`
	Leaderboard *leaderboard.Leaderboard `json:"leaderboard"`
}

const actionStandings = "standings"

type LeaderboardHub struct {
	standings StandingsFunc
	log       *logger.Logger

	mu    sync.RWMutex
	rooms map[int64]*room
	quit  chan struct{}
	once  sync.Once
}

func NewLeaderboardHub(standings StandingsFunc, log *logger.Logger) *LeaderboardHub {
	return &LeaderboardHub{
		standings: standings,
		log:       log,
		rooms:     make(map[int64]*room),
		quit:      make(chan struct{}),
	}
}

type registration struct {
	sub      *Subscriber
	snapshot []byte
}

type room struct {
	challengeID int64
	hub         *LeaderboardHub
	subscribers map[*Subscriber]bool
	broadcast   chan []byte
	register    chan registration
	unregister  chan *Subscriber
	done        chan struct{}
}

// Subscriber sits between one websocket connection and its room.
type Subscriber struct {
	room   *room
	conn   *websocket.Conn
	send   chan []byte
	UserID int64
}

// Join registers conn as a subscriber of challengeID, queues snapshot as its
// first frame and starts the connection pumps. userID is 0 for anonymous viewers.
func (h *LeaderboardHub) Join(challengeID int64, conn *websocket.Conn, userID int64, snapshot *leaderboard.Leaderboard) error {
	data, err := encodeStandings(snapshot)
	if err != nil {
		return err
	}

	sub := &Subscriber{conn: conn, send: make(chan []byte, sendBuffer), UserID: userID}
	for {
		r, err := h.room(challengeID)
		if err != nil {
			return err
		}
		select {
		case r.register <- registration{sub: sub, snapshot: data}:
			sub.room = r
			go sub.writePump()
			go sub.readPump()
			return nil
		case <-r.done:
			// The room emptied out while we were joining; start a fresh one.
		}
	}
}

// ChallengeChanged recomputes and pushes the standings of challengeID when
// anyone is watching it.
func (h *LeaderboardHub) ChallengeChanged(ctx context.Context, challengeID int64) {
	h.mu.RLock()
	r, ok := h.rooms[challengeID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	lb, err := h.standings(ctx, challengeID)
	if err != nil {
		h.log.Warnw("live standings refresh failed", "challenge_id", challengeID, "error", err)
		return
	}
	data, err := encodeStandings(lb)
	if err != nil {
		h.log.Errorw("encode live standings", "challenge_id", challengeID, "error", err)
		return
	}

	select {
	case r.broadcast <- data:
	case <-r.done:
	case <-ctx.Done():
	}
}

// RefreshAll pushes fresh standings to every watched challenge and reports
// how many were refreshed. It picks up changes made by other processes.
func (h *LeaderboardHub) RefreshAll(ctx context.Context) int {
	h.mu.RLock()
	ids := make([]int64, 0, len(h.rooms))
	for id := range h.rooms {
		ids = append(ids, id)
	}
	h.mu.RUnlock()

	for _, id := range ids {
		h.ChallengeChanged(ctx, id)
	}
	return len(ids)
}

// Close disconnects every subscriber. Joins after Close fail.
func (h *LeaderboardHub) Close() {
	h.once.Do(func() { close(h.quit) })
}

// Notifying wraps cache so that every invalidation also refreshes live viewers.
func (h *LeaderboardHub) Notifying(cache LeaderboardCache) LeaderboardCache {
	return notifyingCache{LeaderboardCache: cacheOrNoop(cache), hub: h}
}

type notifyingCache struct {
	LeaderboardCache
	hub *LeaderboardHub
}

func (c notifyingCache) Invalidate(ctx context.Context, challengeID int64) {
	c.LeaderboardCache.Invalidate(ctx, challengeID)
	c.hub.ChallengeChanged(ctx, challengeID)
}

var ErrHubClosed = errors.New("live leaderboard is closed")

func (h *LeaderboardHub) room(challengeID int64) (*room, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	select {
	case <-h.quit:
		return nil, ErrHubClosed
	default:
	}

	if r, ok := h.rooms[challengeID]; ok {
		return r, nil
	}
	r := &room{
		challengeID: challengeID,
		hub:         h,
		subscribers: make(map[*Subscriber]bool),
		broadcast:   make(chan []byte),
		register:    make(chan registration),
		unregister:  make(chan *Subscriber),
		done:        make(chan struct{}),
	}
	h.rooms[challengeID] = r
	go r.run()
	return r, nil
}

func (h *LeaderboardHub) removeRoom(r *room) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[r.challengeID] == r {
		delete(h.rooms, r.challengeID)
	}
}

func (r *room) run() {
	defer func() {
		for sub := range r.subscribers {
			close(sub.send)
		}
		r.hub.removeRoom(r)
		close(r.done)
	}()

	for {
		select {
		case reg := <-r.register:
			r.subscribers[reg.sub] = true
			reg.sub.send <- reg.snapshot
			r.hub.log.Debugw("live viewer joined", "challenge_id", r.challengeID, "user_id", reg.sub.UserID, "viewers", len(r.subscribers))

		case sub := <-r.unregister:
			if _, ok := r.subscribers[sub]; ok {
				delete(r.subscribers, sub)
				close(sub.send)
			}
			if len(r.subscribers) == 0 {
				r.hub.log.Debugw("live room empty", "challenge_id", r.challengeID)
				return
			}

		case message := <-r.broadcast:
			for sub := range r.subscribers {
				select {
				case sub.send <- message:
				default:
					// Slow reader; drop it rather than stall the room.
					close(sub.send)
					delete(r.subscribers, sub)
				}
			}
			if len(r.subscribers) == 0 {
				return
			}

		case <-r.hub.quit:
			return
		}
	}
}

// readPump discards inbound frames and keeps the pong deadline moving. It
// unregisters the subscriber once the peer goes away.
func (s *Subscriber) readPump() {
	defer func() {
		select {
		case s.room.unregister <- s:
		case <-s.room.done:
		}
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump handles frames going to the peer.
func (s *Subscriber) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func encodeStandings(lb *leaderboard.Leaderboard) ([]byte, error) {
	return json.Marshal(LiveMessage{Action: actionStandings, Leaderboard: lb})
}
