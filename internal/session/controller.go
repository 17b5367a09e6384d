package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/coreadhq/coread-backend/internal/annotation"
	"github.com/coreadhq/coread-backend/internal/participant"
	"github.com/coreadhq/coread-backend/internal/protocol"
)

const tempIDPrefix = "pending-"

type Config struct {
	DocumentID  string
	UserID      string
	DisplayName string
	Connect     Connector
	API         API
	Logger      *zap.Logger
}

// command is the sealed union fed to the controller loop. Presentation
// commands and internal completion events share one ordered queue, so
// every state transition is serialized.
type command interface{ isCommand() }

type cmdChangePage struct {
	page  int
	reply chan error
}

type cmdRequestTransfer struct {
	target string
	reply  chan error
}

type createResult struct {
	ann annotation.Annotation
	err error
}

type cmdCreate struct {
	kind  annotation.Kind
	req   protocol.CreateAnnotationRequest
	reply chan createResult
}

type cmdDelete struct {
	id    string
	reply chan error
}

type cmdSetFilter struct{ authors []string }

type cmdRetry struct{ reply chan error }

type cmdView struct{ reply chan View }

type evtCreateDone struct {
	tempID string
	ann    annotation.Annotation
	err    error
	reply  chan createResult
}

type evtDeleteFailed struct {
	ann   annotation.Annotation
	err   error
	reply chan error
}

type evtReconnected struct {
	tr   Transport
	snap protocol.AnnotationSnapshot
}

type evtReconnectFailed struct{ err error }

func (cmdChangePage) isCommand()      {}
func (cmdRequestTransfer) isCommand() {}
func (cmdCreate) isCommand()          {}
func (cmdDelete) isCommand()          {}
func (cmdSetFilter) isCommand()       {}
func (cmdRetry) isCommand()           {}
func (cmdView) isCommand()            {}
func (evtCreateDone) isCommand()      {}
func (evtDeleteFailed) isCommand()    {}
func (evtReconnected) isCommand()     {}
func (evtReconnectFailed) isCommand() {}

type Controller struct {
	cfg      Config
	store    *annotation.Store
	registry *participant.Registry
	logger   *zap.Logger

	inbox       chan command
	pageTargets chan int
	events      chan Event

	filterMu sync.RWMutex
	filter   map[string]struct{}

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started bool

	// Everything below is owned by the loop goroutine.
	tr               Transport
	role             Role
	epoch            int64
	lastAppliedEpoch int64
	leaderID         string
	page             int
	synced           bool
	reconnecting     bool
	pendingCreates   map[string]struct{}
	tombstones       map[string]struct{}
	tempSeq          int
}

func New(cfg Config) (*Controller, error) {
	if cfg.DocumentID == "" || cfg.UserID == "" {
		return nil, fmt.Errorf("document id and user id are required")
	}
	if cfg.Connect == nil || cfg.API == nil {
		return nil, fmt.Errorf("connector and api client are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Controller{
		cfg:            cfg,
		store:          annotation.NewStore(),
		registry:       participant.NewRegistry(),
		logger:         cfg.Logger.With(zap.String("doc_id", cfg.DocumentID), zap.String("user_id", cfg.UserID)),
		inbox:          make(chan command, 64),
		pageTargets:    make(chan int, 16),
		events:         make(chan Event, 32),
		filter:         make(map[string]struct{}),
		done:           make(chan struct{}),
		role:           RoleFollower,
		pendingCreates: make(map[string]struct{}),
		tombstones:     make(map[string]struct{}),
	}, nil
}

// Start connects, performs the initial full sync, and starts the loop.
// Incremental events are only trusted after the snapshot is in place.
func (c *Controller) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	tr, err := c.cfg.Connect(c.ctx)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	snap, err := c.cfg.API.FetchAnnotations(c.ctx, c.cfg.DocumentID)
	if err != nil {
		tr.Close()
		return fmt.Errorf("initial sync: %w", err)
	}
	c.applyResync(tr, snap)
	c.started = true
	go c.loop()
	return nil
}

// Close cancels the loop, any in-flight reconnect, and tears the
// transport down. Unacknowledged local commands are dropped, not retried.
func (c *Controller) Close() error {
	if !c.started {
		return nil
	}
	c.cancel()
	<-c.done
	if c.tr != nil {
		return c.tr.Close()
	}
	return nil
}

// PageTargets delivers remote-driven page changes to the renderer
// adapter. Only the latest target is retained under backpressure.
func (c *Controller) PageTargets() <-chan int { return c.pageTargets }

// Events delivers lightweight change notifications.
func (c *Controller) Events() <-chan Event { return c.events }

// Annotations returns the currently visible annotations, with the local
// highlight filter applied.
func (c *Controller) Annotations() []annotation.Annotation {
	c.filterMu.RLock()
	authors := make(map[string]struct{}, len(c.filter))
	for a := range c.filter {
		authors[a] = struct{}{}
	}
	c.filterMu.RUnlock()
	return c.store.SnapshotVisible(authors)
}

// Participants returns a snapshot of the connected users.
func (c *Controller) Participants() []participant.Participant {
	return c.registry.Snapshot()
}

func (c *Controller) enqueue(cmd command) error {
	if c.ctx == nil {
		return ErrClosed
	}
	select {
	case c.inbox <- cmd:
		return nil
	case <-c.ctx.Done():
		return ErrClosed
	}
}

// ChangePage records local navigation. A leader broadcasts it; a
// follower's free browsing stays local and never emits a sync event.
func (c *Controller) ChangePage(page int) error {
	reply := make(chan error, 1)
	if err := c.enqueue(cmdChangePage{page: page, reply: reply}); err != nil {
		return err
	}
	return c.await(reply)
}

// RequestTransfer asks the service to hand leadership to target. A
// non-leader is rejected locally before any network call.
func (c *Controller) RequestTransfer(target string) error {
	reply := make(chan error, 1)
	if err := c.enqueue(cmdRequestTransfer{target: target, reply: reply}); err != nil {
		return err
	}
	return c.await(reply)
}

func (c *Controller) create(kind annotation.Kind, req protocol.CreateAnnotationRequest) (annotation.Annotation, error) {
	reply := make(chan createResult, 1)
	if err := c.enqueue(cmdCreate{kind: kind, req: req, reply: reply}); err != nil {
		return annotation.Annotation{}, err
	}
	select {
	case res := <-reply:
		return res.ann, res.err
	case <-c.ctx.Done():
		return annotation.Annotation{}, ErrClosed
	}
}

// CreateComment creates a comment optimistically and blocks until the
// service confirms (or rejects) it.
func (c *Controller) CreateComment(req protocol.CreateAnnotationRequest) (annotation.Annotation, error) {
	return c.create(annotation.KindComment, req)
}

func (c *Controller) CreateHighlight(req protocol.CreateAnnotationRequest) (annotation.Annotation, error) {
	return c.create(annotation.KindHighlight, req)
}

func (c *Controller) CreateBookmark(req protocol.CreateAnnotationRequest) (annotation.Annotation, error) {
	return c.create(annotation.KindBookmark, req)
}

// DeleteAnnotation removes an annotation optimistically; a service
// rejection rolls the local removal back.
func (c *Controller) DeleteAnnotation(id string) error {
	reply := make(chan error, 1)
	if err := c.enqueue(cmdDelete{id: id, reply: reply}); err != nil {
		return err
	}
	return c.await(reply)
}

// SetHighlightFilter limits which authors' highlights are visible. The
// empty set shows everything. Purely local; nothing is sent.
func (c *Controller) SetHighlightFilter(authors []string) error {
	return c.enqueue(cmdSetFilter{authors: authors})
}

// Retry triggers a manual reconnect after the automatic attempts have
// been exhausted.
func (c *Controller) Retry() error {
	reply := make(chan error, 1)
	if err := c.enqueue(cmdRetry{reply: reply}); err != nil {
		return err
	}
	return c.await(reply)
}

// View returns a snapshot of role, epoch, leader and page.
func (c *Controller) View() (View, error) {
	reply := make(chan View, 1)
	if err := c.enqueue(cmdView{reply: reply}); err != nil {
		return View{}, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-c.ctx.Done():
		return View{}, ErrClosed
	}
}

func (c *Controller) await(reply chan error) error {
	select {
	case err := <-reply:
		return err
	case <-c.ctx.Done():
		return ErrClosed
	}
}

func (c *Controller) loop() {
	defer close(c.done)
	for {
		var inbound <-chan protocol.Message
		if c.tr != nil {
			inbound = c.tr.Inbound()
		}
		select {
		case <-c.ctx.Done():
			return

		case cmd := <-c.inbox:
			c.handleCommand(cmd)

		case msg, ok := <-inbound:
			if !ok {
				c.onConnectionLost()
				continue
			}
			c.applyRemote(msg)
		}
	}
}

func (c *Controller) handleCommand(cmd command) {
	switch m := cmd.(type) {
	case cmdChangePage:
		c.page = m.page
		if c.role == RoleLeader && c.tr != nil {
			err := c.tr.Send(protocol.Message{
				Type:     protocol.TypePageSync,
				LeaderID: c.cfg.UserID,
				Epoch:    c.epoch,
				Page:     m.page,
				SentAt:   time.Now().UTC(),
			})
			if err != nil {
				c.logger.Warn("page sync not sent", zap.Error(err))
			}
		}
		m.reply <- nil

	case cmdRequestTransfer:
		if c.role != RoleLeader {
			m.reply <- ErrNotLeader
			return
		}
		if c.tr == nil {
			m.reply <- ErrNotConnected
			return
		}
		if err := c.tr.Send(protocol.Message{Type: protocol.TypeTransferRequest, TargetID: m.target}); err != nil {
			m.reply <- err
			return
		}
		c.role = RoleTransferPending
		m.reply <- nil

	case cmdCreate:
		c.handleCreate(m)

	case cmdDelete:
		c.handleDelete(m)

	case cmdSetFilter:
		c.filterMu.Lock()
		c.filter = make(map[string]struct{}, len(m.authors))
		for _, a := range m.authors {
			c.filter[a] = struct{}{}
		}
		c.filterMu.Unlock()
		c.emit(Event{Kind: EventAnnotationsChanged})

	case cmdRetry:
		if c.tr != nil || c.reconnecting {
			m.reply <- nil
			return
		}
		c.startReconnect()
		m.reply <- nil

	case cmdView:
		m.reply <- View{
			Role:     c.role,
			Epoch:    c.epoch,
			LeaderID: c.leaderID,
			Page:     c.page,
			Synced:   c.synced,
		}

	case evtCreateDone:
		c.finishCreate(m)

	case evtDeleteFailed:
		c.store.Put(m.ann)
		c.emit(Event{Kind: EventAnnotationsChanged})
		m.reply <- m.err

	case evtReconnected:
		c.reconnecting = false
		c.applyResync(m.tr, m.snap)
		c.emit(Event{Kind: EventSyncRestored})

	case evtReconnectFailed:
		c.reconnecting = false
		c.logger.Warn("reconnect failed", zap.Error(m.err))
		c.emit(Event{Kind: EventSyncFailed, Detail: m.err.Error()})
	}
}

func (c *Controller) handleCreate(m cmdCreate) {
	c.tempSeq++
	tempID := fmt.Sprintf("%s%s-%d", tempIDPrefix, c.cfg.UserID, c.tempSeq)

	req := m.req
	req.AuthorID = c.cfg.UserID

	ann := annotation.Annotation{
		ID:        tempID,
		Kind:      m.kind,
		AuthorID:  c.cfg.UserID,
		Page:      req.Page,
		UpdatedAt: time.Now().UTC(),
		Snippet:   req.Snippet,
		Text:      req.Text,
		Color:     req.Color,
		Coords:    req.Coords,
	}
	if m.kind == annotation.KindBookmark {
		ann.Snippet, ann.Text, ann.Color, ann.Coords = "", "", "", nil
	}
	if err := ann.Validate(); err != nil {
		m.reply <- createResult{err: err}
		return
	}

	c.store.Put(ann)
	c.pendingCreates[tempID] = struct{}{}
	c.emit(Event{Kind: EventAnnotationsChanged})

	go func() {
		var confirmed annotation.Annotation
		var err error
		switch m.kind {
		case annotation.KindComment:
			confirmed, err = c.cfg.API.CreateComment(c.ctx, c.cfg.DocumentID, req)
		case annotation.KindHighlight:
			confirmed, err = c.cfg.API.CreateHighlight(c.ctx, c.cfg.DocumentID, req)
		default:
			confirmed, err = c.cfg.API.CreateBookmark(c.ctx, c.cfg.DocumentID, req)
		}
		if qerr := c.enqueue(evtCreateDone{tempID: tempID, ann: confirmed, err: err, reply: m.reply}); qerr != nil {
			m.reply <- createResult{err: qerr}
		}
	}()
}

// finishCreate swaps the optimistic temp entry for the server-confirmed
// one, or rolls it back on rejection. A remote delete that raced the id
// confirmation is honored via the tombstone set.
func (c *Controller) finishCreate(e evtCreateDone) {
	delete(c.pendingCreates, e.tempID)
	c.store.Remove(e.tempID)

	if e.err != nil {
		c.emit(Event{Kind: EventAnnotationsChanged})
		e.reply <- createResult{err: e.err}
		return
	}
	if _, deleted := c.tombstones[e.ann.ID]; deleted {
		delete(c.tombstones, e.ann.ID)
		e.reply <- createResult{ann: e.ann}
		return
	}
	c.store.Put(e.ann)
	c.emit(Event{Kind: EventAnnotationsChanged})
	e.reply <- createResult{ann: e.ann}
}

func (c *Controller) handleDelete(m cmdDelete) {
	if strings.HasPrefix(m.id, tempIDPrefix) {
		m.reply <- ErrPendingAnnotation
		return
	}
	ann, ok := c.store.Get(m.id)
	if !ok {
		m.reply <- ErrUnknownAnnotation
		return
	}

	c.store.Remove(m.id)
	c.emit(Event{Kind: EventAnnotationsChanged})

	go func() {
		var err error
		switch ann.Kind {
		case annotation.KindComment:
			err = c.cfg.API.DeleteComment(c.ctx, m.id, c.cfg.UserID)
		case annotation.KindHighlight:
			err = c.cfg.API.DeleteHighlight(c.ctx, m.id, c.cfg.UserID)
		default:
			err = c.cfg.API.DeleteBookmark(c.ctx, m.id, c.cfg.UserID)
		}
		if err != nil {
			if qerr := c.enqueue(evtDeleteFailed{ann: ann, err: err, reply: m.reply}); qerr != nil {
				m.reply <- qerr
			}
			return
		}
		m.reply <- nil
	}()
}

func (c *Controller) applyRemote(msg protocol.Message) {
	switch msg.Type {
	case protocol.TypePageSync:
		// Events the client itself just emitted are never re-applied.
		if msg.LeaderID == c.cfg.UserID {
			return
		}
		if msg.LeaderID != c.leaderID || msg.Epoch < c.lastAppliedEpoch {
			c.logger.Debug("stale page sync dropped",
				zap.String("from", msg.LeaderID), zap.Int64("epoch", msg.Epoch))
			return
		}
		c.lastAppliedEpoch = msg.Epoch
		c.page = msg.Page
		c.pushPageTarget(msg.Page)

	case protocol.TypeLeadershipChanged:
		if msg.Epoch <= c.epoch {
			c.logger.Debug("stale leadership change dropped", zap.Int64("epoch", msg.Epoch))
			return
		}
		c.epoch = msg.Epoch
		c.leaderID = msg.NewLeaderID
		if msg.NewLeaderID == c.cfg.UserID {
			c.role = RoleLeader
		} else {
			c.role = RoleFollower
		}
		c.registry.OnLeadershipChanged(msg.NewLeaderID, msg.Epoch)
		c.emit(Event{Kind: EventLeadershipChanged, Detail: msg.NewLeaderID})

	case protocol.TypeParticipantJoined:
		if msg.Participant != nil {
			c.registry.OnJoin(*msg.Participant)
			c.emit(Event{Kind: EventParticipantsChanged})
		}

	case protocol.TypeParticipantLeft:
		if msg.Participant != nil {
			c.registry.OnLeave(msg.Participant.UserID)
			c.emit(Event{Kind: EventParticipantsChanged})
		}

	case protocol.TypeAnnotationCreated:
		if msg.Annotation == nil {
			return
		}
		if _, dead := c.tombstones[msg.Annotation.ID]; dead {
			delete(c.tombstones, msg.Annotation.ID)
			return
		}
		if c.store.Put(*msg.Annotation) {
			c.emit(Event{Kind: EventAnnotationsChanged})
		}

	case protocol.TypeAnnotationUpdated:
		if msg.Annotation == nil {
			return
		}
		if c.store.Put(*msg.Annotation) {
			c.emit(Event{Kind: EventAnnotationsChanged})
		}

	case protocol.TypeAnnotationDeleted:
		if c.store.Remove(msg.AnnotationID) {
			c.emit(Event{Kind: EventAnnotationsChanged})
		} else {
			// Possibly our own pending create; remember the verdict.
			c.tombstones[msg.AnnotationID] = struct{}{}
		}

	case protocol.TypeError:
		if c.role == RoleTransferPending {
			// Only the arbiter's transfer verdicts resolve the pending
			// state; unrelated stream errors leave it to the broadcast.
			switch msg.Code {
			case protocol.CodeNotLeader:
				c.role = RoleFollower
			case protocol.CodeTargetNotConnected:
				c.role = RoleLeader
			}
		}
		c.emit(Event{Kind: EventServiceError, Detail: msg.Code})

	default:
		c.logger.Debug("unhandled frame", zap.String("type", msg.Type))
	}
}

func (c *Controller) onConnectionLost() {
	if c.tr != nil {
		c.tr.Close()
		c.tr = nil
	}
	c.synced = false
	c.emit(Event{Kind: EventSyncLost})
	c.startReconnect()
}

func (c *Controller) startReconnect() {
	if c.reconnecting {
		return
	}
	c.reconnecting = true
	go func() {
		tr, err := c.cfg.Connect(c.ctx)
		if err != nil {
			_ = c.enqueue(evtReconnectFailed{err: err})
			return
		}
		snap, err := c.cfg.API.FetchAnnotations(c.ctx, c.cfg.DocumentID)
		if err != nil {
			tr.Close()
			_ = c.enqueue(evtReconnectFailed{err: err})
			return
		}
		if qerr := c.enqueue(evtReconnected{tr: tr, snap: snap}); qerr != nil {
			tr.Close()
		}
	}()
}

// applyResync installs a fresh transport and the full server state:
// individual events missed while disconnected are never replayed, the
// snapshot simply prevails.
func (c *Controller) applyResync(tr Transport, snap protocol.AnnotationSnapshot) {
	c.tr = tr
	w := tr.Welcome()

	c.epoch = w.Epoch
	c.lastAppliedEpoch = w.Epoch
	c.leaderID = w.LeaderID
	c.page = w.CurrentPage
	if w.LeaderID == c.cfg.UserID {
		c.role = RoleLeader
	} else {
		c.role = RoleFollower
	}
	c.registry.Reset(w.Participants, w.LeaderID, w.Epoch)
	c.store.ReplaceAll(snap.Flatten())
	c.tombstones = make(map[string]struct{})
	c.synced = true
	c.pushPageTarget(c.page)
}

// pushPageTarget keeps only the latest target when the renderer lags.
func (c *Controller) pushPageTarget(page int) {
	select {
	case c.pageTargets <- page:
		return
	default:
	}
	select {
	case <-c.pageTargets:
	default:
	}
	select {
	case c.pageTargets <- page:
	default:
	}
}

func (c *Controller) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
	}
}
