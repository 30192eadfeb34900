// Package task implements the conversation task event loop: a cooperative
// single-task-per-conversation scheduler. Every command, inbound topic
// message, and periodic timer funnels through one goroutine's select
// loop, in a fixed priority order, so no mutation of the conversation's
// in-memory state ever needs a lock. LeaveConversation and
// DeleteConversation are the exceptions: they run on the caller's
// goroutine and call the Store directly.
package task

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/sirupsen/logrus"

	"github.com/dagmesh/convocore/attachment"
	"github.com/dagmesh/convocore/capability"
	"github.com/dagmesh/convocore/chaterr"
	"github.com/dagmesh/convocore/conversation"
	"github.com/dagmesh/convocore/crypto"
	"github.com/dagmesh/convocore/did"
	"github.com/dagmesh/convocore/envelope"
	"github.com/dagmesh/convocore/keyexchange"
	"github.com/dagmesh/convocore/mailbox"
	"github.com/dagmesh/convocore/message"
	"github.com/dagmesh/convocore/queue"
	"github.com/dagmesh/convocore/wire"
)

// ErrStopped is returned by Submit/SubmitAttachment once the task has
// been dropped.
var ErrStopped = errors.New("task: stopped")

const (
	// queueDrainInterval and parkedDrainInterval are the 1 Hz timers for
	// the retry queue and the key-exchange parked-payload replay.
	queueDrainInterval  = time.Second
	parkedDrainInterval = time.Second
	// mailboxPollInterval and pingAllInterval are the 60s housekeeping timers.
	mailboxPollInterval = 60 * time.Second
	pingAllInterval     = 60 * time.Second
	// pingTimeout bounds how long a Ping waits for its Pong before the
	// per-peer pending-probe timer fires.
	pingTimeout = 30 * time.Second
)

// Topic naming: deterministic strings derived from conversation/peer DIDs.
func mainTopic(id uuid.UUID) string          { return id.String() }
func eventsTopic(id uuid.UUID) string        { return id.String() + "/events" }
func exchangeTopic(id uuid.UUID, p did.DID) string { return id.String() + "/" + p.String() }
func messagingTopic(recipient did.DID) string      { return recipient.String() + "/messaging" }

// Command is a user API call run to completion by the task goroutine
// before the next event is processed.
type Command struct {
	fn   func(t *Task) error
	done chan error
}

// NewCommand wraps fn as a Command for Submit.
func NewCommand(fn func(t *Task) error) Command {
	return Command{fn: fn, done: make(chan error, 1)}
}

// Applier handles the content-level and ephemeral events the task only
// dispatches rather than applying directly to the log: Pin and React
// mutate a message's off-log Content, Event carries ephemeral
// typing/receipt state the task never persists, and Notify reports a
// mailbox-originated message the reconciler has already applied to the log.
type Applier interface {
	Pin(ctx context.Context, conversationID, messageID uuid.UUID, member did.DID, state bool)
	React(ctx context.Context, conversationID, messageID uuid.UUID, reactor did.DID, emoji string, state bool)
	Ephemeral(ctx context.Context, conversationID uuid.UUID, member did.DID, event string, cancelled bool)
	Notify(ctx context.Context, ev mailbox.Event)
}

type subMessage struct {
	data []byte
	from peer.ID
}

// Task is the per-conversation event loop.
type Task struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	conversationID uuid.UUID
	self           did.DID
	identity       *crypto.KeyPair

	store    *conversation.Store
	log      *message.Log
	q        *queue.Queue
	keys     *crypto.Keystore
	exch     *keyexchange.Exchange
	probe    *keyexchange.PendingProbe
	mailReco *mailbox.Reconciler
	applier  Applier

	pubsub  capability.PubSub
	keypair capability.Keypair
	files   capability.Files

	commands     chan Command
	attachments  chan attachment.Event
	pingTimeouts chan did.DID
	reqResp      chan subMessage
	events       chan subMessage
	main         chan subMessage

	queueTicker   *time.Ticker
	parkedTicker  *time.Ticker
	mailboxTicker *time.Ticker
	pingTicker    *time.Ticker
}

// Deps bundles a Task's collaborators so New stays a single readable call.
type Deps struct {
	ConversationID uuid.UUID
	Self           did.DID
	Identity       *crypto.KeyPair

	Store      *conversation.Store
	Log        *message.Log
	Queue      *queue.Queue
	Keystore   *crypto.Keystore
	Exchange   *keyexchange.Exchange
	Mailbox    *mailbox.Reconciler
	Applier    Applier

	PubSub  capability.PubSub
	Keypair capability.Keypair
	Files   capability.Files
}

// New creates a Task wired to its collaborators. Start must be called to
// subscribe to topics and begin the event loop.
func New(d Deps) *Task {
	ctx, cancel := context.WithCancel(context.Background())
	return &Task{
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
		conversationID: d.ConversationID,
		self:           d.Self,
		identity:       d.Identity,
		store:          d.Store,
		log:            d.Log,
		q:              d.Queue,
		keys:           d.Keystore,
		exch:           d.Exchange,
		probe:          keyexchange.NewPendingProbe(),
		mailReco:       d.Mailbox,
		applier:        d.Applier,
		pubsub:         d.PubSub,
		keypair:        d.Keypair,
		files:          d.Files,
		commands:       make(chan Command, 32),
		attachments:    make(chan attachment.Event, 8),
		pingTimeouts:   make(chan did.DID, 8),
		reqResp:        make(chan subMessage, 32),
		events:         make(chan subMessage, 32),
		main:           make(chan subMessage, 32),
		queueTicker:    time.NewTicker(queueDrainInterval),
		parkedTicker:   time.NewTicker(parkedDrainInterval),
		mailboxTicker:  time.NewTicker(mailboxPollInterval),
		pingTicker:     time.NewTicker(pingAllInterval),
	}
}

// Start subscribes to the conversation's three topics and launches the
// event loop goroutine. Nothing guards against a second call: it
// subscribes again and launches another event loop.
func (t *Task) Start() error {
	reqRespSub, err := t.pubsub.Subscribe(t.ctx, exchangeTopic(t.conversationID, t.self))
	if err != nil {
		return err
	}
	eventSub, err := t.pubsub.Subscribe(t.ctx, eventsTopic(t.conversationID))
	if err != nil {
		return err
	}
	mainSub, err := t.pubsub.Subscribe(t.ctx, mainTopic(t.conversationID))
	if err != nil {
		return err
	}

	go t.pump(reqRespSub, t.reqResp)
	go t.pump(eventSub, t.events)
	go t.pump(mainSub, t.main)
	go t.Run()

	return nil
}

// Stop drops the task: subscription pumps, timers, and the event loop all
// exit. Stop is idempotent.
func (t *Task) Stop() {
	t.once.Do(func() {
		t.cancel()
		close(t.done)
		t.queueTicker.Stop()
		t.parkedTicker.Stop()
		t.mailboxTicker.Stop()
		t.pingTicker.Stop()
	})
}

func (t *Task) pump(sub capability.Subscription, out chan<- subMessage) {
	defer sub.Close()
	for {
		data, from, err := sub.Next(t.ctx)
		if err != nil {
			return
		}
		select {
		case out <- subMessage{data: data, from: from}:
		case <-t.done:
			return
		}
	}
}

// Submit enqueues cmd and blocks until it has run to completion.
func (t *Task) Submit(ctx context.Context, cmd Command) error {
	select {
	case t.commands <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return ErrStopped
	}
	select {
	case err := <-cmd.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Attach opens an upload stream for locations via the attachment
// orchestrator, using the task's configured file store.
func (t *Task) Attach(ctx context.Context, replyID *uuid.UUID, locations []attachment.Location) (<-chan attachment.Event, error) {
	return attachment.Attach(ctx, replyID, locations, t.files)
}

// SubmitAttachment hands a completed attach() stream's terminal event to
// the task so it can run the standard insert-and-publish path.
func (t *Task) SubmitAttachment(ctx context.Context, ev attachment.Event) error {
	select {
	case t.attachments <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return ErrStopped
	}
}

// validateContent checks c against the message size bound, or against
// the attachment-presence rule for Attachment-type content.
func validateContent(c message.Content) error {
	if c.Type == message.TypeAttachment {
		if len(c.Attachments) == 0 {
			return chaterr.ErrNoAttachments
		}
		return nil
	}
	n := c.NonWhitespaceLen()
	if n < message.MinSize {
		return chaterr.ErrEmptyMessage
	}
	if n > message.MaxSize {
		return chaterr.NewLengthError("message", n, message.MinSize, message.MaxSize)
	}
	return nil
}

// Send validates lines/attachments, inserts a new message into the
// conversation's log, and broadcasts it to every other recipient. It
// returns the new message's id.
func (t *Task) Send(ctx context.Context, lines []string, attachments []envelope.ContentRef, replied *uuid.UUID) (uuid.UUID, error) {
	typ := message.TypeText
	if len(attachments) > 0 {
		typ = message.TypeAttachment
	}
	if err := validateContent(message.Content{Type: typ, Lines: lines, Attachments: attachments, Replied: replied}); err != nil {
		return uuid.UUID{}, err
	}

	id := uuid.New()
	err := t.Submit(ctx, NewCommand(func(t *Task) error {
		doc := message.Doc{
			ID:             id,
			ConversationID: t.conversationID,
			Sender:         t.self,
			Created:        time.Now(),
			Modified:       time.Now(),
		}
		if err := doc.Sign(t.identity.Private); err != nil {
			return err
		}
		if err := t.log.Insert(doc); err != nil {
			return err
		}
		t.publishNew(doc)
		return nil
	}))
	if err != nil {
		return uuid.UUID{}, err
	}
	return id, nil
}

// Edit validates new lines for messageID, replaces its log entry, and
// broadcasts the change to every other recipient. Only the original
// sender may edit their own message.
func (t *Task) Edit(ctx context.Context, messageID uuid.UUID, lines []string) error {
	if err := validateContent(message.Content{Type: message.TypeText, Lines: lines}); err != nil {
		return err
	}

	return t.Submit(ctx, NewCommand(func(t *Task) error {
		doc, err := t.log.Get(messageID)
		if err != nil {
			return err
		}
		if doc.Sender != t.self {
			return chaterr.ErrUnauthorized
		}
		doc.Modified = time.Now()
		if err := doc.Sign(t.identity.Private); err != nil {
			return err
		}
		if err := t.log.Update(doc); err != nil {
			return err
		}
		t.broadcast(wire.MessagingEvent{
			Kind:           wire.KindEdit,
			ConversationID: doc.ConversationID,
			MessageID:      doc.ID,
			Sender:         doc.Sender,
			Created:        doc.Created.UnixNano(),
			Modified:       doc.Modified.UnixNano(),
			Nonce:          doc.Nonce,
			Signature:      doc.Signature,
			ContentCID:     doc.ContentCID,
			AttachmentsCID: doc.AttachmentsCID,
		}, &doc.ID)
		return nil
	}))
}

// Delete removes messageID from the log and broadcasts the deletion to
// every other recipient. Only the original sender may delete their own
// message.
func (t *Task) Delete(ctx context.Context, messageID uuid.UUID) error {
	return t.Submit(ctx, NewCommand(func(t *Task) error {
		doc, err := t.log.Get(messageID)
		if err != nil {
			return err
		}
		if doc.Sender != t.self {
			return chaterr.ErrUnauthorized
		}
		if _, err := t.log.Delete(messageID); err != nil {
			return err
		}
		t.broadcast(wire.MessagingEvent{
			Kind:           wire.KindDelete,
			ConversationID: t.conversationID,
			MessageID:      messageID,
		}, &messageID)
		return nil
	}))
}

// Pin toggles messageID's pinned state on the local applier and
// broadcasts the change to every other recipient.
func (t *Task) Pin(ctx context.Context, messageID uuid.UUID, state bool) error {
	return t.Submit(ctx, NewCommand(func(t *Task) error {
		if !t.log.Contains(messageID) {
			return chaterr.ErrMessageNotFound
		}
		if t.applier != nil {
			t.applier.Pin(t.ctx, t.conversationID, messageID, t.self, state)
		}
		t.broadcast(wire.MessagingEvent{
			Kind:           wire.KindPin,
			ConversationID: t.conversationID,
			MessageID:      messageID,
			Member:         t.self,
			State:          state,
		}, nil)
		return nil
	}))
}

// React toggles the local node's emoji reaction on messageID on the local
// applier and broadcasts the change to every other recipient.
func (t *Task) React(ctx context.Context, messageID uuid.UUID, emoji string, state bool) error {
	return t.Submit(ctx, NewCommand(func(t *Task) error {
		if !t.log.Contains(messageID) {
			return chaterr.ErrMessageNotFound
		}
		if t.applier != nil {
			t.applier.React(t.ctx, t.conversationID, messageID, t.self, emoji, state)
		}
		t.broadcast(wire.MessagingEvent{
			Kind:           wire.KindReact,
			ConversationID: t.conversationID,
			MessageID:      messageID,
			Emoji:          emoji,
			State:          state,
		}, nil)
		return nil
	}))
}

// PublishToMessaging implements conversation.Publisher: it seals kind as a
// ConversationEvent and sends it to recipient's messaging inbox, used by
// Store.CreateDirect/CreateGroup to announce a new conversation.
func (t *Task) PublishToMessaging(ctx context.Context, recipient did.DID, kind string, doc conversation.Document) error {
	var evtKind wire.ConversationEventKind
	switch kind {
	case "NewConversation":
		evtKind = wire.KindNewConversation
	case "NewGroupConversation":
		evtKind = wire.KindNewGroupConversation
	default:
		return errors.New("task: unknown conversation event kind " + kind)
	}

	evt := wire.ConversationEvent{
		Kind:           evtKind,
		ConversationID: doc.ID,
		Recipient:      recipient,
		Conversation:   &doc,
	}
	data, err := wire.MarshalConversationEvent(evt)
	if err != nil {
		return err
	}
	payload, err := t.sealAsymmetric(data, recipient)
	if err != nil {
		return err
	}
	return t.publishOrEnqueue(ctx, recipient, messagingTopic(recipient), payload, nil)
}

// PublishLeave implements conversation.LeavePublisher: it seals a
// LeaveConversation notice and sends it to recipient's messaging inbox.
func (t *Task) PublishLeave(ctx context.Context, recipient did.DID, doc conversation.Document, leaver did.DID, sig crypto.Signature) error {
	evt := wire.ConversationEvent{
		Kind:           wire.KindLeaveConversation,
		ConversationID: doc.ID,
		Recipient:      recipient,
		Leaver:         leaver,
		Conversation:   &doc,
		Signature:      sig,
	}
	data, err := wire.MarshalConversationEvent(evt)
	if err != nil {
		return err
	}
	payload, err := t.sealAsymmetric(data, recipient)
	if err != nil {
		return err
	}
	return t.publishOrEnqueue(ctx, recipient, messagingTopic(recipient), payload, nil)
}

// LeaveConversation runs the departing-member side of the leave protocol
// against this task's conversation, notifying every other current member
// and the creator.
func (t *Task) LeaveConversation(ctx context.Context) error {
	doc, err := t.store.Get(t.conversationID)
	if err != nil {
		return err
	}
	return conversation.Leave(ctx, doc, t.self, t.identity.Private, t)
}

// DeleteConversation soft-deletes this task's conversation locally and
// broadcasts a DeleteConversation notice to every other recipient.
func (t *Task) DeleteConversation(ctx context.Context) error {
	doc, err := t.store.Delete(t.conversationID)
	if err != nil {
		return err
	}
	for _, recipient := range doc.Recipients {
		if recipient == t.self {
			continue
		}
		evt := wire.ConversationEvent{
			Kind:           wire.KindDeleteConversation,
			ConversationID: doc.ID,
			Recipient:      recipient,
		}
		data, err := wire.MarshalConversationEvent(evt)
		if err != nil {
			continue
		}
		payload, err := t.sealAsymmetric(data, recipient)
		if err != nil {
			continue
		}
		if err := t.publishOrEnqueue(ctx, recipient, messagingTopic(recipient), payload, nil); err != nil {
			warn("Task.DeleteConversation", logrus.Fields{"peer": recipient.String()}, err, "failed to publish conversation deletion")
		}
	}
	return nil
}

// Run processes events until Stop is called. Callers normally reach this
// through Start; it is exported so tests can drive a bounded number of
// iterations directly.
func (t *Task) Run() {
	for t.runOnce() {
	}
}

// runOnce processes exactly one event, trying each source in priority
// order via a chain of non-blocking selects before falling back to a
// single blocking select across every source.
func (t *Task) runOnce() bool {
	select {
	case <-t.done:
		return false
	default:
	}

	select {
	case cmd := <-t.commands:
		t.runCommand(cmd)
		return true
	default:
	}
	select {
	case ev := <-t.attachments:
		t.handleAttachment(ev)
		return true
	default:
	}
	select {
	case peerDID := <-t.pingTimeouts:
		t.handlePingTimeout(peerDID)
		return true
	default:
	}
	select {
	case msg := <-t.reqResp:
		t.handleReqResp(msg)
		return true
	default:
	}
	select {
	case msg := <-t.events:
		t.handleEvent(msg)
		return true
	default:
	}
	select {
	case msg := <-t.main:
		t.handleMain(msg)
		return true
	default:
	}
	select {
	case <-t.queueTicker.C:
		t.drainQueue()
		return true
	default:
	}
	select {
	case <-t.parkedTicker.C:
		t.drainParked()
		return true
	default:
	}
	select {
	case <-t.mailboxTicker.C:
		t.pollMailbox()
		return true
	default:
	}
	select {
	case <-t.pingTicker.C:
		t.pingAll()
		return true
	default:
	}

	select {
	case <-t.done:
		return false
	case cmd := <-t.commands:
		t.runCommand(cmd)
	case ev := <-t.attachments:
		t.handleAttachment(ev)
	case peerDID := <-t.pingTimeouts:
		t.handlePingTimeout(peerDID)
	case msg := <-t.reqResp:
		t.handleReqResp(msg)
	case msg := <-t.events:
		t.handleEvent(msg)
	case msg := <-t.main:
		t.handleMain(msg)
	case <-t.queueTicker.C:
		t.drainQueue()
	case <-t.parkedTicker.C:
		t.drainParked()
	case <-t.mailboxTicker.C:
		t.pollMailbox()
	case <-t.pingTicker.C:
		t.pingAll()
	}
	return true
}

func (t *Task) runCommand(cmd Command) {
	err := cmd.fn(t)
	select {
	case cmd.done <- err:
	default:
	}
}

func warn(function string, fields logrus.Fields, err error, msg string) {
	entry := logrus.WithField("function", function)
	for k, v := range fields {
		entry = entry.WithField(k, v)
	}
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Warn(msg)
}

// publishOrEnqueue publishes if the recipient is currently reachable on
// topic, otherwise (or on publish failure) enqueues for the 1 Hz drain
// loop to retry.
func (t *Task) publishOrEnqueue(ctx context.Context, recipient did.DID, topic string, payload []byte, messageID *uuid.UUID) error {
	if t.connected(ctx, recipient, topic) {
		if err := t.pubsub.Publish(ctx, topic, payload); err == nil {
			return nil
		}
	}
	return t.q.Enqueue(ctx, queue.Item{Recipient: recipient, MessageID: messageID, Topic: topic, Ciphertext: payload})
}

func (t *Task) connected(ctx context.Context, recipient did.DID, topic string) bool {
	peerID, err := t.keypair.PeerID(recipient)
	if err != nil {
		return false
	}
	peers, err := t.pubsub.Peers(ctx, topic)
	if err != nil {
		return false
	}
	for _, p := range peers {
		if p == peerID {
			return true
		}
	}
	return false
}

type queuePublisher struct{ t *Task }

func (p *queuePublisher) Connected(ctx context.Context, recipient did.DID, topic string) bool {
	return p.t.connected(ctx, recipient, topic)
}

func (p *queuePublisher) Publish(ctx context.Context, topic string, ciphertext []byte) error {
	return p.t.pubsub.Publish(ctx, topic, ciphertext)
}

func (t *Task) drainQueue() {
	if err := t.q.Drain(t.ctx, &queuePublisher{t: t}); err != nil {
		warn("Task.drainQueue", nil, err, "queue drain failed")
	}
}

func (t *Task) drainParked() {
	t.exch.DrainReceived(t.ctx, t.replayParked)
}

func (t *Task) replayParked(ctx context.Context, conversationID uuid.UUID, sender did.DID, plaintext []byte) {
	evt, err := wire.UnmarshalMessagingEvent(plaintext)
	if err != nil {
		warn("Task.replayParked", logrus.Fields{"conversation_id": conversationID.String()}, err, "failed to decode parked payload")
		return
	}
	t.applyMessagingEvent(ctx, evt, sender)
}

// Log implements mailbox.Logs: the mailbox reconciler only ever applies
// entries for this task's own conversation.
func (t *Task) Log(conversationID uuid.UUID) (*message.Log, bool) {
	if conversationID != t.conversationID {
		return nil, false
	}
	return t.log, true
}

// Emit implements mailbox.Sink. The reconciler has already inserted or
// replaced the log entry by the time this fires; the task just forwards
// the notification to the applier layer if one is wired.
func (t *Task) Emit(ev mailbox.Event) {
	if t.applier == nil {
		return
	}
	t.applier.Notify(t.ctx, ev)
}

func (t *Task) pollMailbox() {
	if t.mailReco == nil {
		return
	}
	t.mailReco.Tick(t.ctx, t.self)
}

func (t *Task) pingAll() {
	doc, err := t.store.Get(t.conversationID)
	if err != nil {
		return
	}
	for _, recipient := range doc.Recipients {
		if recipient == t.self {
			continue
		}
		t.sendPing(recipient)
	}
}

func (t *Task) sendPing(recipient did.DID) {
	req := wire.RequestResponse{Kind: wire.KindPing, ConversationID: t.conversationID}
	data, err := wire.MarshalRequestResponse(req)
	if err != nil {
		return
	}
	payload, err := t.sealAsymmetric(data, recipient)
	if err != nil {
		return
	}
	if err := t.publishOrEnqueue(t.ctx, recipient, exchangeTopic(t.conversationID, recipient), payload, nil); err != nil {
		warn("Task.sendPing", logrus.Fields{"peer": recipient.String()}, err, "failed to send ping")
		return
	}
	t.probe.Sent(t.conversationID, recipient)
	peerDID := recipient
	time.AfterFunc(pingTimeout, func() {
		select {
		case t.pingTimeouts <- peerDID:
		case <-t.done:
		}
	})
}

func (t *Task) handlePingTimeout(peerDID did.DID) {
	if t.probe.Pending(t.conversationID, peerDID) {
		warn("Task.handlePingTimeout", logrus.Fields{"peer": peerDID.String()}, nil, "ping timed out, no pong received")
		t.probe.Cleared(t.conversationID, peerDID)
	}
}

func (t *Task) sealAsymmetric(plaintext []byte, recipient did.DID) ([]byte, error) {
	recipientPublic, err := recipient.PublicKey()
	if err != nil {
		return nil, err
	}
	senderPeer, err := t.keypair.PeerID(t.self)
	if err != nil {
		return nil, err
	}
	p, err := envelope.Seal(envelope.Asymmetric, plaintext, senderPeer, t.identity, recipientPublic, nil, [16]byte(t.conversationID), t.self)
	if err != nil {
		return nil, err
	}
	return p.MarshalCanonical()
}

func (t *Task) sendKeyRequest(ctx context.Context, recipient did.DID) {
	req := wire.RequestResponse{Kind: wire.KindRequestKey, ConversationID: t.conversationID}
	data, err := wire.MarshalRequestResponse(req)
	if err != nil {
		return
	}
	payload, err := t.sealAsymmetric(data, recipient)
	if err != nil {
		return
	}
	if err := t.publishOrEnqueue(ctx, recipient, exchangeTopic(t.conversationID, recipient), payload, nil); err != nil {
		warn("Task.sendKeyRequest", logrus.Fields{"peer": recipient.String()}, err, "failed to send key request")
	}
}

func (t *Task) handleReqResp(msg subMessage) {
	sender, err := t.keypair.Resolve(msg.from)
	if err != nil {
		warn("Task.handleReqResp", nil, err, "failed to resolve sender peer id")
		return
	}

	payload, err := envelope.UnmarshalPayload(msg.data)
	if err != nil {
		return
	}
	senderPublic, err := sender.PublicKey()
	if err != nil {
		return
	}
	plaintext, err := envelope.Open(envelope.Asymmetric, payload, senderPublic, t.identity, nil, [16]byte(t.conversationID), sender)
	if err != nil {
		warn("Task.handleReqResp", logrus.Fields{"peer": sender.String()}, err, "failed to open request/response envelope")
		return
	}

	evt, err := wire.UnmarshalRequestResponse(plaintext)
	if err != nil {
		return
	}

	switch evt.Kind {
	case wire.KindRequestKey:
		key, err := t.exch.HandleRequest(t.conversationID, t.self.String())
		if err != nil {
			warn("Task.handleReqResp", logrus.Fields{"peer": sender.String()}, err, "failed to handle key request")
			return
		}
		resp := wire.RequestResponse{Kind: wire.KindResponseKey, ConversationID: t.conversationID, Key: key}
		data, err := wire.MarshalRequestResponse(resp)
		if err != nil {
			return
		}
		respPayload, err := t.sealAsymmetric(data, sender)
		if err != nil {
			return
		}
		if err := t.publishOrEnqueue(t.ctx, sender, exchangeTopic(t.conversationID, sender), respPayload, nil); err != nil {
			warn("Task.handleReqResp", logrus.Fields{"peer": sender.String()}, err, "failed to send key response")
		}
	case wire.KindResponseKey:
		t.exch.HandleResponse(t.conversationID, sender, evt.Key)
	case wire.KindPing:
		pong := wire.RequestResponse{Kind: wire.KindPong, ConversationID: t.conversationID}
		data, err := wire.MarshalRequestResponse(pong)
		if err != nil {
			return
		}
		respPayload, err := t.sealAsymmetric(data, sender)
		if err != nil {
			return
		}
		_ = t.publishOrEnqueue(t.ctx, sender, exchangeTopic(t.conversationID, sender), respPayload, nil)
	case wire.KindPong:
		t.probe.Cleared(t.conversationID, sender)
	}
}

func (t *Task) handleEvent(msg subMessage) {
	if t.applier == nil {
		return
	}
	sender, err := t.keypair.Resolve(msg.from)
	if err != nil {
		return
	}
	doc, err := t.store.Get(t.conversationID)
	if err != nil {
		return
	}
	mode := envelope.Asymmetric
	if doc.Type == conversation.Group {
		mode = envelope.Symmetric
	}
	payload, err := envelope.UnmarshalPayload(msg.data)
	if err != nil {
		return
	}
	senderPublic, err := sender.PublicKey()
	if err != nil {
		return
	}
	plaintext, err := envelope.Open(mode, payload, senderPublic, t.identity, t.keys, [16]byte(t.conversationID), sender)
	if err != nil {
		return
	}
	evt, err := wire.UnmarshalMessagingEvent(plaintext)
	if err != nil || evt.Kind != wire.KindEvent {
		return
	}
	t.applier.Ephemeral(t.ctx, t.conversationID, sender, evt.Event, evt.Cancelled)
}

func (t *Task) handleMain(msg subMessage) {
	sender, err := t.keypair.Resolve(msg.from)
	if err != nil {
		warn("Task.handleMain", nil, err, "failed to resolve sender peer id")
		return
	}

	doc, err := t.store.Get(t.conversationID)
	if err != nil {
		return
	}
	mode := envelope.Asymmetric
	if doc.Type == conversation.Group {
		mode = envelope.Symmetric
	}

	payload, err := envelope.UnmarshalPayload(msg.data)
	if err != nil {
		return
	}
	senderPublic, err := sender.PublicKey()
	if err != nil {
		return
	}

	plaintext, err := envelope.Open(mode, payload, senderPublic, t.identity, t.keys, [16]byte(t.conversationID), sender)
	if err != nil {
		if errors.Is(err, chaterr.ErrUnknownKey) {
			// A Group message arrived before the sender's key did. Park it
			// and request the key if not already pending.
			if t.exch.Park(t.conversationID, sender, payload.Ciphertext, payload.Nonce) {
				t.sendKeyRequest(t.ctx, sender)
			}
			return
		}
		warn("Task.handleMain", logrus.Fields{"peer": sender.String()}, err, "failed to open main-topic envelope")
		return
	}

	evt, err := wire.UnmarshalMessagingEvent(plaintext)
	if err != nil {
		return
	}
	t.applyMessagingEvent(t.ctx, evt, sender)
}

func (t *Task) applyMessagingEvent(ctx context.Context, evt wire.MessagingEvent, sender did.DID) {
	senderPublic, err := sender.PublicKey()
	if err != nil {
		return
	}

	switch evt.Kind {
	case wire.KindNew, wire.KindEdit:
		doc := message.Doc{
			ID:             evt.MessageID,
			ConversationID: evt.ConversationID,
			Sender:         sender,
			Created:        time.Unix(0, evt.Created),
			Modified:       time.Unix(0, evt.Modified),
			Nonce:          evt.Nonce,
			Signature:      evt.Signature,
			ContentCID:     evt.ContentCID,
			AttachmentsCID: evt.AttachmentsCID,
		}
		valid, err := doc.Verify(senderPublic)
		if err != nil || !valid {
			warn("Task.applyMessagingEvent", logrus.Fields{"message_id": doc.ID.String()}, err, "message failed signature verification")
			return
		}
		if evt.Kind == wire.KindNew {
			if err := t.log.Insert(doc); err != nil && !errors.Is(err, chaterr.ErrMessageFound) {
				warn("Task.applyMessagingEvent", logrus.Fields{"message_id": doc.ID.String()}, err, "failed to insert message")
			}
		} else {
			if err := t.log.Update(doc); err != nil {
				warn("Task.applyMessagingEvent", logrus.Fields{"message_id": doc.ID.String()}, err, "failed to update message")
			}
		}
	case wire.KindDelete:
		if _, err := t.log.Delete(evt.MessageID); err != nil && !errors.Is(err, chaterr.ErrMessageNotFound) {
			warn("Task.applyMessagingEvent", logrus.Fields{"message_id": evt.MessageID.String()}, err, "failed to delete message")
		}
	case wire.KindPin:
		if t.applier != nil {
			t.applier.Pin(ctx, evt.ConversationID, evt.MessageID, evt.Member, evt.State)
		}
	case wire.KindReact:
		if t.applier != nil {
			t.applier.React(ctx, evt.ConversationID, evt.MessageID, sender, evt.Emoji, evt.State)
		}
	case wire.KindUpdateConversation:
		t.applyUpdateConversation(evt)
	}
}

// applyUpdateConversation handles an inbound membership/metadata change
// broadcast by a peer. The carried document replaces the stored one
// wholesale, except the receiver's own local-only view state —
// Excluded, Messages, Favorite, and Archived — is preserved across the
// replacement.
func (t *Task) applyUpdateConversation(evt wire.MessagingEvent) {
	if evt.Conversation == nil {
		return
	}
	incoming := *evt.Conversation

	var creatorPublic [32]byte
	if incoming.Type == conversation.Group {
		key, err := incoming.Creator.PublicKey()
		if err != nil {
			warn("Task.applyUpdateConversation", logrus.Fields{"conversation_id": evt.ConversationID.String()}, err, "failed to resolve creator key for inbound conversation update")
			return
		}
		creatorPublic = key
	}

	_, err := t.store.Set(t.ctx, evt.ConversationID, nil, creatorPublic, func(doc *conversation.Document) error {
		excluded, messages, favorite, archived := doc.Excluded, doc.Messages, doc.Favorite, doc.Archived
		*doc = incoming
		doc.Excluded = excluded
		doc.Messages = messages
		doc.Favorite = favorite
		doc.Archived = archived
		return nil
	})
	if err != nil {
		warn("Task.applyUpdateConversation", logrus.Fields{"conversation_id": evt.ConversationID.String()}, err, "failed to apply inbound conversation update")
	}
}

// handleAttachment performs the standard insert-and-publish path for a
// completed attach() stream's terminal event.
func (t *Task) handleAttachment(ev attachment.Event) {
	if ev.Kind != attachment.Pending {
		return
	}
	if ev.Result.Err != nil {
		warn("Task.handleAttachment", nil, ev.Result.Err, "attachment upload failed, dropping commit")
		return
	}

	doc := message.Doc{
		ID:             uuid.New(),
		ConversationID: t.conversationID,
		Sender:         t.self,
		Created:        time.Now(),
		Modified:       time.Now(),
	}
	// ev.Result.ReplyID and ev.Result.Attachments carry the reply
	// relationship and content references; both belong on Content, not Doc,
	// and this path does not store them anywhere.
	if err := doc.Sign(t.identity.Private); err != nil {
		warn("Task.handleAttachment", nil, err, "failed to sign attachment message")
		return
	}
	if err := t.log.Insert(doc); err != nil {
		warn("Task.handleAttachment", nil, err, "failed to insert attachment message")
		return
	}

	t.publishNew(doc)
}

func (t *Task) publishNew(doc message.Doc) {
	t.broadcast(wire.MessagingEvent{
		Kind:           wire.KindNew,
		ConversationID: doc.ConversationID,
		MessageID:      doc.ID,
		Sender:         doc.Sender,
		Created:        doc.Created.UnixNano(),
		Modified:       doc.Modified.UnixNano(),
		Nonce:          doc.Nonce,
		Signature:      doc.Signature,
		ContentCID:     doc.ContentCID,
		AttachmentsCID: doc.AttachmentsCID,
	}, &doc.ID)
}

// broadcast fans evt out to every other recipient of the task's
// conversation, sealing Direct-conversation payloads asymmetrically per
// recipient and Group payloads once under the conversation's current
// symmetric key. messageID, if non-nil, tags the queued retry entry so a
// later drain can correlate it back to the originating message.
func (t *Task) broadcast(evt wire.MessagingEvent, messageID *uuid.UUID) {
	convDoc, err := t.store.Get(t.conversationID)
	if err != nil {
		return
	}

	data, err := wire.MarshalMessagingEvent(evt)
	if err != nil {
		return
	}

	topic := mainTopic(t.conversationID)
	if convDoc.Type == conversation.Direct {
		for _, recipient := range convDoc.Recipients {
			if recipient == t.self {
				continue
			}
			payload, err := t.sealAsymmetric(data, recipient)
			if err != nil {
				continue
			}
			if err := t.publishOrEnqueue(t.ctx, recipient, topic, payload, messageID); err != nil {
				warn("Task.broadcast", logrus.Fields{"peer": recipient.String()}, err, "failed to publish message")
			}
		}
		return
	}

	senderPeer, err := t.keypair.PeerID(t.self)
	if err != nil {
		return
	}
	sealed, err := envelope.Seal(envelope.Symmetric, data, senderPeer, t.identity, [32]byte{}, t.keys, [16]byte(t.conversationID), t.self)
	if err != nil {
		warn("Task.broadcast", nil, err, "failed to seal group message")
		return
	}
	payload, err := sealed.MarshalCanonical()
	if err != nil {
		return
	}
	for _, recipient := range convDoc.Recipients {
		if recipient == t.self {
			continue
		}
		if err := t.publishOrEnqueue(t.ctx, recipient, topic, payload, messageID); err != nil {
			warn("Task.broadcast", logrus.Fields{"peer": recipient.String()}, err, "failed to publish message")
		}
	}
}
