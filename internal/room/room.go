// Package room runs one document session: the connected participants,
// leadership arbitration, page-sync fan-out and annotation event fan-out.
// All state is owned by a single goroutine fed through the inbox.
package room

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/coreadhq/coread-backend/internal/participant"
	"github.com/coreadhq/coread-backend/internal/protocol"
)

type Msg interface{ isRoomMsg() }

type Join struct {
	UserID      string
	DisplayName string
	Outbox      chan protocol.Message // where this participant receives frames
}

func (Join) isRoomMsg() {}

// Leave removes a participant. Conn, when set, must match the member's
// current outbox: a replaced connection's deferred leave arriving after a
// rejoin must not evict the live connection.
type Leave struct {
	UserID string
	Conn   chan protocol.Message
}

func (Leave) isRoomMsg() {}

// FromClient carries a frame received over a participant's websocket.
type FromClient struct {
	UserID string
	Msg    protocol.Message
}

func (FromClient) isRoomMsg() {}

// AnnotationEvent is injected by the REST layer after a successful write
// and fanned out to every participant.
type AnnotationEvent struct{ Msg protocol.Message }

func (AnnotationEvent) isRoomMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isRoomMsg() {}

type Shutdown struct{}

func (Shutdown) isRoomMsg() {}

// View reflects internal state for tests and diagnostics.
type View struct {
	Epoch      int64
	LeaderID   string
	Page       int
	NumClients int
}

type member struct {
	outbox      chan protocol.Message
	displayName string
	connectedAt time.Time
}

type Room struct {
	docID    string
	inbox    chan Msg
	members  map[string]*member
	leaderID string
	epoch    int64
	page     int
	logger   *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewRoom(parent context.Context, docID string, logger *zap.Logger) *Room {
	ctx, cancel := context.WithCancel(parent)

	r := &Room{
		docID:   docID,
		inbox:   make(chan Msg, 64),
		members: make(map[string]*member),
		logger:  logger.With(zap.String("doc_id", docID)),
		ctx:     ctx,
		cancel:  cancel,
	}

	go r.loop()
	return r
}

// Inbox exposes the message channel to the ws and REST layers.
func (r *Room) Inbox() chan<- Msg { return r.inbox }

func (r *Room) loop() {
	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Join:
				r.handleJoin(msg)
			case Leave:
				r.handleLeave(msg)
			case FromClient:
				r.handleFromClient(msg)
			case AnnotationEvent:
				r.broadcast("", msg.Msg)
			case GetState:
				msg.Reply <- View{
					Epoch:      r.epoch,
					LeaderID:   r.leaderID,
					Page:       r.page,
					NumClients: len(r.members),
				}
			case Shutdown:
				r.shutdown()
				return
			}
		}
	}
}

func (r *Room) handleJoin(msg Join) {
	// A rejoin under the same user id replaces the stale connection.
	if old, ok := r.members[msg.UserID]; ok {
		close(old.outbox)
	}
	m := &member{
		outbox:      msg.Outbox,
		displayName: msg.DisplayName,
		connectedAt: time.Now(),
	}
	r.members[msg.UserID] = m

	// First participant in becomes leader.
	if r.leaderID == "" {
		r.epoch++
		r.leaderID = msg.UserID
		r.logger.Info("leader assigned", zap.String("user_id", msg.UserID), zap.Int64("epoch", r.epoch))
	}

	msg.Outbox <- protocol.Message{
		Type:         protocol.TypeWelcome,
		LeaderID:     r.leaderID,
		Epoch:        r.epoch,
		CurrentPage:  r.page,
		Participants: r.participants(),
	}

	r.broadcast(msg.UserID, protocol.Message{
		Type: protocol.TypeParticipantJoined,
		Participant: &participant.Participant{
			UserID:      msg.UserID,
			DisplayName: msg.DisplayName,
			ConnectedAt: m.connectedAt,
		},
	})
}

func (r *Room) handleLeave(msg Leave) {
	m, ok := r.members[msg.UserID]
	if !ok {
		return
	}
	// A stale handler whose connection was replaced by a rejoin still
	// fires its deferred leave when its reader finally errors out.
	if msg.Conn != nil && m.outbox != msg.Conn {
		return
	}
	delete(r.members, msg.UserID)
	close(m.outbox)

	r.broadcast("", protocol.Message{
		Type:        protocol.TypeParticipantLeft,
		Participant: &participant.Participant{UserID: msg.UserID, DisplayName: m.displayName},
	})

	if msg.UserID == r.leaderID {
		r.promoteNextLeader()
	}
}

// promoteNextLeader hands leadership to the longest-connected participant.
// An empty room keeps its epoch so late joiners never see it regress.
func (r *Room) promoteNextLeader() {
	r.leaderID = ""
	var nextID string
	for id, m := range r.members {
		if nextID == "" {
			nextID = id
			continue
		}
		cur := r.members[nextID]
		if m.connectedAt.Before(cur.connectedAt) ||
			(m.connectedAt.Equal(cur.connectedAt) && id < nextID) {
			nextID = id
		}
	}
	if nextID == "" {
		return
	}
	r.epoch++
	r.leaderID = nextID
	r.logger.Info("leader promoted", zap.String("user_id", nextID), zap.Int64("epoch", r.epoch))
	r.broadcast("", protocol.Message{
		Type:        protocol.TypeLeadershipChanged,
		NewLeaderID: nextID,
		Epoch:       r.epoch,
	})
}

func (r *Room) handleFromClient(msg FromClient) {
	switch msg.Msg.Type {
	case protocol.TypePageSync:
		// Only the current leader at the current epoch may drive pages.
		if msg.UserID != r.leaderID || msg.Msg.Epoch != r.epoch {
			r.logger.Debug("stale page sync dropped",
				zap.String("user_id", msg.UserID), zap.Int64("epoch", msg.Msg.Epoch))
			return
		}
		r.page = msg.Msg.Page
		out := msg.Msg
		out.LeaderID = msg.UserID
		r.broadcast(msg.UserID, out)

	case protocol.TypeTransferRequest:
		r.handleTransfer(msg.UserID, msg.Msg.TargetID)

	default:
		r.sendError(msg.UserID, protocol.CodeUnknownType, "unsupported message type")
	}
}

// handleTransfer is the single arbiter for leadership hand-offs: requests
// are applied in arrival order, validated against the current leader and
// the connected set, and the outcome is broadcast to everyone.
func (r *Room) handleTransfer(requester, targetID string) {
	if requester != r.leaderID {
		r.sendError(requester, protocol.CodeNotLeader, "only the leader may transfer leadership")
		return
	}
	if _, ok := r.members[targetID]; !ok {
		r.sendError(requester, protocol.CodeTargetNotConnected, "transfer target is not connected")
		return
	}
	r.epoch++
	r.leaderID = targetID
	r.logger.Info("leadership transferred",
		zap.String("from", requester), zap.String("to", targetID), zap.Int64("epoch", r.epoch))
	r.broadcast("", protocol.Message{
		Type:        protocol.TypeLeadershipChanged,
		NewLeaderID: targetID,
		Epoch:       r.epoch,
	})
}

func (r *Room) sendError(userID, code, text string) {
	m, ok := r.members[userID]
	if !ok {
		return
	}
	select {
	case m.outbox <- protocol.Message{Type: protocol.TypeError, Code: code, Error: text}:
	default:
	}
}

// broadcast sends to every member except skipID. Slow clients are dropped;
// a dropped leader triggers promotion, same as a leave.
func (r *Room) broadcast(skipID string, msg protocol.Message) {
	var dropped []string
	for id, m := range r.members {
		if id == skipID {
			continue
		}
		select {
		case m.outbox <- msg:
		default:
			close(m.outbox)
			dropped = append(dropped, id)
		}
	}
	for _, id := range dropped {
		delete(r.members, id)
		r.logger.Warn("dropped slow participant", zap.String("user_id", id))
	}
	for _, id := range dropped {
		if id == r.leaderID {
			r.promoteNextLeader()
		}
	}
}

func (r *Room) participants() []participant.Participant {
	out := make([]participant.Participant, 0, len(r.members))
	for id, m := range r.members {
		out = append(out, participant.Participant{
			UserID:          id,
			DisplayName:     m.displayName,
			IsCurrentLeader: id == r.leaderID,
			ConnectedAt:     m.connectedAt,
		})
	}
	return out
}

func (r *Room) shutdown() {
	for id, m := range r.members {
		close(m.outbox)
		delete(r.members, id)
	}
	r.cancel()
}
