package chat_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"

	"pingme/internal/chat"
	domainchat "pingme/internal/domain/chat"
	"pingme/internal/infra/storage/memory"
	"pingme/internal/infra/storage/storeerr"
	"pingme/internal/realtime"
)

type recordingBroadcaster struct {
	mu      sync.Mutex
	events  []realtime.Event
	ctxErrs []error
	perUser map[string]int
}

func (b *recordingBroadcaster) Broadcast(ctx context.Context, conversationID string, ev realtime.Event) realtime.Delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	ev.ConversationID = conversationID
	b.events = append(b.events, ev)
	b.ctxErrs = append(b.ctxErrs, ctx.Err())

	delivery := realtime.Delivery{PerUser: make(map[string]int)}
	for userID, conns := range b.perUser {
		delivery.PerUser[userID] = conns
		delivery.Connections += conns
	}
	return delivery
}

func (b *recordingBroadcaster) recorded() []realtime.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]realtime.Event(nil), b.events...)
}

// failingMessageStore fails every insert the way a storage adapter would,
// after running the raw driver error through the classifier.
type failingMessageStore struct {
	chat.MessageStore
	insertErr error
}

func (s failingMessageStore) InsertMessage(ctx context.Context, draft domainchat.MessageDraft) (domainchat.Message, error) {
	return domainchat.Message{}, s.insertErr
}

type recordingQueue struct {
	mu    sync.Mutex
	tasks []string
}

func (q *recordingQueue) Enqueue(ctx context.Context, taskType string, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, taskType+":"+string(payload))
	return nil
}

type recordingOutbox struct {
	mu    sync.Mutex
	names []string
}

func (o *recordingOutbox) Append(ctx context.Context, name, aggregateID string, payload []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.names = append(o.names, name)
	return nil
}

func newTestService(t *testing.T) (*chat.Service, *memory.ChatStore, *recordingBroadcaster) {
	t.Helper()
	store := memory.NewChatStore()
	broadcaster := &recordingBroadcaster{perUser: map[string]int{}}
	service := &chat.Service{
		Conversations: store,
		Messages:      store,
		Receipts:      store,
		Broadcast:     broadcaster,
	}
	return service, store, broadcaster
}

func startConversation(t *testing.T, service *chat.Service, a, b string) string {
	t.Helper()
	conv, err := service.StartDirect(context.Background(), a, b)
	if err != nil {
		t.Fatalf("StartDirect: %v", err)
	}
	return conv.ID
}

func TestStartDirectIsIdempotentAcrossOrder(t *testing.T) {
	service, _, _ := newTestService(t)
	first := startConversation(t, service, "alice", "bob")
	second := startConversation(t, service, "bob", "alice")
	if first != second {
		t.Fatalf("same pair produced two conversations: %s vs %s", first, second)
	}
}

func TestStartDirectRejectsSelf(t *testing.T) {
	service, _, _ := newTestService(t)
	if _, err := service.StartDirect(context.Background(), "alice", "alice"); !errors.Is(err, domainchat.ErrSelfConversation) {
		t.Fatalf("self conversation = %v, want ErrSelfConversation", err)
	}
	if _, err := service.StartDirect(context.Background(), "alice", "  "); !errors.Is(err, domainchat.ErrSelfConversation) {
		t.Fatalf("blank peer = %v, want ErrSelfConversation", err)
	}
}

func TestSendAssignsIncreasingIDsAndBroadcastsInOrder(t *testing.T) {
	service, _, broadcaster := newTestService(t)
	conversationID := startConversation(t, service, "alice", "bob")

	const sends = 40
	var wg sync.WaitGroup
	for i := 0; i < sends; i++ {
		wg.Add(1)
		sender := "alice"
		if i%2 == 1 {
			sender = "bob"
		}
		go func(sender string, n int) {
			defer wg.Done()
			if _, err := service.Send(context.Background(), conversationID, sender, fmt.Sprintf("msg %d", n)); err != nil {
				t.Errorf("Send: %v", err)
			}
		}(sender, i)
	}
	wg.Wait()

	events := broadcaster.recorded()
	if len(events) != sends {
		t.Fatalf("broadcast %d events, want %d", len(events), sends)
	}
	var prev int64
	for i, ev := range events {
		if ev.Type != realtime.EventMessage {
			t.Fatalf("event %d type = %s, want MESSAGE", i, ev.Type)
		}
		if ev.Payload.MessageID <= prev {
			t.Fatalf("broadcast order violates id order: %d after %d", ev.Payload.MessageID, prev)
		}
		prev = ev.Payload.MessageID
	}

	history, _, err := service.History(context.Background(), conversationID, "alice", chat.MaxPageLimit, "")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != sends {
		t.Fatalf("history has %d messages, want %d", len(history), sends)
	}
	for i := 1; i < len(history); i++ {
		if history[i].ID <= history[i-1].ID {
			t.Fatalf("history not ascending at %d", i)
		}
	}
}

func TestSendRejectsNonParticipantWithoutSideEffects(t *testing.T) {
	service, _, broadcaster := newTestService(t)
	conversationID := startConversation(t, service, "alice", "bob")

	_, err := service.Send(context.Background(), conversationID, "mallory", "hi")
	if !errors.Is(err, domainchat.ErrNotParticipant) {
		t.Fatalf("Send = %v, want ErrNotParticipant", err)
	}
	if got := len(broadcaster.recorded()); got != 0 {
		t.Fatalf("rejected send broadcast %d events, want 0", got)
	}
	history, _, err := service.History(context.Background(), conversationID, "alice", 10, "")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("rejected send persisted %d messages", len(history))
	}
}

func TestSendValidation(t *testing.T) {
	service, _, _ := newTestService(t)
	conversationID := startConversation(t, service, "alice", "bob")

	if _, err := service.Send(context.Background(), conversationID, "alice", "   "); !errors.Is(err, domainchat.ErrEmptyBody) {
		t.Fatalf("blank body = %v, want ErrEmptyBody", err)
	}
	if _, err := service.Send(context.Background(), "missing", "alice", "hi"); !errors.Is(err, domainchat.ErrConversationNotFound) {
		t.Fatalf("unknown conversation = %v, want ErrConversationNotFound", err)
	}
}

func TestSendStorageTimeoutShortCircuitsBroadcast(t *testing.T) {
	service, store, broadcaster := newTestService(t)
	conversationID := startConversation(t, service, "alice", "bob")

	service.Messages = failingMessageStore{
		MessageStore: store,
		insertErr:    storeerr.Classify(fmt.Errorf("insert message: %w", context.DeadlineExceeded)),
	}
	_, err := service.Send(context.Background(), conversationID, "alice", "hello")
	if !errors.Is(err, domainchat.ErrStoreTimeout) {
		t.Fatalf("Send with deadline-exceeded store = %v, want ErrStoreTimeout", err)
	}
	if got := len(broadcaster.recorded()); got != 0 {
		t.Fatalf("failed persist broadcast %d events, want 0", got)
	}

	service.Messages = store
	history, _, err := service.History(context.Background(), conversationID, "alice", 10, "")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("failed persist left %d messages behind", len(history))
	}
}

func TestSendStorageUnavailableSurfaces(t *testing.T) {
	service, store, broadcaster := newTestService(t)
	conversationID := startConversation(t, service, "alice", "bob")

	service.Messages = failingMessageStore{
		MessageStore: store,
		insertErr:    storeerr.Classify(&net.OpError{Op: "dial", Err: errors.New("connection refused")}),
	}
	_, err := service.Send(context.Background(), conversationID, "alice", "hello")
	if !errors.Is(err, domainchat.ErrStoreUnavailable) {
		t.Fatalf("Send with unreachable store = %v, want ErrStoreUnavailable", err)
	}
	if got := len(broadcaster.recorded()); got != 0 {
		t.Fatalf("failed persist broadcast %d events, want 0", got)
	}
}

func TestSendBroadcastsAfterSenderContextCanceled(t *testing.T) {
	service, _, broadcaster := newTestService(t)
	conversationID := startConversation(t, service, "alice", "bob")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	msg, err := service.Send(ctx, conversationID, "alice", "still here")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	events := broadcaster.recorded()
	if len(events) != 1 || events[0].Payload.MessageID != msg.ID {
		t.Fatalf("events = %+v, want the persisted message broadcast once", events)
	}
	broadcaster.mu.Lock()
	defer broadcaster.mu.Unlock()
	if broadcaster.ctxErrs[0] != nil {
		t.Fatalf("broadcast context carried %v; a stored message must reach the stream regardless of the sender", broadcaster.ctxErrs[0])
	}
}

func TestHistoryPagination(t *testing.T) {
	service, _, _ := newTestService(t)
	conversationID := startConversation(t, service, "alice", "bob")

	const total = 25
	for i := 0; i < total; i++ {
		if _, err := service.Send(context.Background(), conversationID, "alice", fmt.Sprintf("msg %d", i)); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	var pages [][]domainchat.Message
	cursor := ""
	for {
		page, next, err := service.History(context.Background(), conversationID, "bob", 10, cursor)
		if err != nil {
			t.Fatalf("History: %v", err)
		}
		if len(page) == 0 {
			break
		}
		pages = append(pages, page)
		if next == "" {
			break
		}
		cursor = next
	}

	if len(pages) != 3 {
		t.Fatalf("got %d pages, want 3", len(pages))
	}
	if len(pages[0]) != 10 || len(pages[1]) != 10 || len(pages[2]) != 5 {
		t.Fatalf("page sizes = %d,%d,%d want 10,10,5", len(pages[0]), len(pages[1]), len(pages[2]))
	}

	// pages run newest to oldest; stitching them back together must
	// reproduce the full ascending history with no gaps or overlaps
	var all []domainchat.Message
	for i := len(pages) - 1; i >= 0; i-- {
		all = append(all, pages[i]...)
	}
	if len(all) != total {
		t.Fatalf("stitched %d messages, want %d", len(all), total)
	}
	for i := 1; i < len(all); i++ {
		if all[i].ID <= all[i-1].ID {
			t.Fatalf("stitched history not strictly ascending at %d", i)
		}
	}
}

func TestHistoryRejectsBadInput(t *testing.T) {
	service, _, _ := newTestService(t)
	conversationID := startConversation(t, service, "alice", "bob")

	if _, _, err := service.History(context.Background(), conversationID, "alice", 0, ""); !errors.Is(err, domainchat.ErrBadLimit) {
		t.Fatalf("limit 0 = %v, want ErrBadLimit", err)
	}
	if _, _, err := service.History(context.Background(), conversationID, "alice", -5, ""); !errors.Is(err, domainchat.ErrBadLimit) {
		t.Fatalf("negative limit = %v, want ErrBadLimit", err)
	}
	if _, _, err := service.History(context.Background(), conversationID, "alice", 10, "not-a-cursor!"); !errors.Is(err, domainchat.ErrBadCursor) {
		t.Fatalf("bad cursor = %v, want ErrBadCursor", err)
	}
	if _, _, err := service.History(context.Background(), conversationID, "mallory", 10, ""); !errors.Is(err, domainchat.ErrNotParticipant) {
		t.Fatalf("outsider = %v, want ErrNotParticipant", err)
	}
}

func TestMarkReadValidatesAndIsIdempotent(t *testing.T) {
	service, store, broadcaster := newTestService(t)
	conversationID := startConversation(t, service, "alice", "bob")

	msg, err := service.Send(context.Background(), conversationID, "alice", "hello")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if err := service.MarkRead(context.Background(), conversationID, "bob", msg.ID+999); !errors.Is(err, domainchat.ErrMessageNotFound) {
		t.Fatalf("unknown message = %v, want ErrMessageNotFound", err)
	}
	if err := service.MarkRead(context.Background(), conversationID, "mallory", msg.ID); !errors.Is(err, domainchat.ErrNotParticipant) {
		t.Fatalf("outsider = %v, want ErrNotParticipant", err)
	}

	if err := service.MarkRead(context.Background(), conversationID, "bob", msg.ID); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	receipts, err := store.ReceiptsForMessage(context.Background(), conversationID, msg.ID)
	if err != nil {
		t.Fatalf("ReceiptsForMessage: %v", err)
	}
	if len(receipts) != 1 || receipts[0].UserID != "bob" || receipts[0].Status != domainchat.ReceiptRead {
		t.Fatalf("receipts = %+v, want one read receipt for bob", receipts)
	}
	firstUpdate := receipts[0].UpdatedAt

	if err := service.MarkRead(context.Background(), conversationID, "bob", msg.ID); err != nil {
		t.Fatalf("repeat MarkRead: %v", err)
	}
	receipts, _ = store.ReceiptsForMessage(context.Background(), conversationID, msg.ID)
	if !receipts[0].UpdatedAt.Equal(firstUpdate) {
		t.Fatal("repeat MarkRead must not rewrite receipt state")
	}

	var readEvents int
	for _, ev := range broadcaster.recorded() {
		if ev.Type == realtime.EventRead {
			readEvents++
			if ev.Payload.UserID != "bob" || ev.Payload.MessageID != msg.ID || ev.Payload.Status != string(domainchat.ReceiptRead) {
				t.Fatalf("unexpected READ payload %+v", ev.Payload)
			}
		}
	}
	if readEvents == 0 {
		t.Fatal("MarkRead must broadcast a READ event")
	}
}

func TestSenderGetsNoReceiptForOwnMessages(t *testing.T) {
	service, store, _ := newTestService(t)
	conversationID := startConversation(t, service, "alice", "bob")

	msg, err := service.Send(context.Background(), conversationID, "alice", "hello")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := service.MarkRead(context.Background(), conversationID, "alice", msg.ID); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	receipts, _ := store.ReceiptsForMessage(context.Background(), conversationID, msg.ID)
	if len(receipts) != 0 {
		t.Fatalf("sender acknowledging own message created %d receipts", len(receipts))
	}
}

func TestAfterSendSplitsDeliveredAndOffline(t *testing.T) {
	service, store, broadcaster := newTestService(t)
	queue := &recordingQueue{}
	outbox := &recordingOutbox{}
	service.Queue = queue
	service.Outbox = outbox
	conversationID := startConversation(t, service, "alice", "bob")

	// bob holds a live connection: delivered receipt, no offline task
	broadcaster.perUser = map[string]int{"bob": 1}
	msg, err := service.Send(context.Background(), conversationID, "alice", "first")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	receipts, _ := store.ReceiptsForMessage(context.Background(), conversationID, msg.ID)
	if len(receipts) != 1 || receipts[0].Status != domainchat.ReceiptDelivered {
		t.Fatalf("receipts = %+v, want one delivered receipt", receipts)
	}
	queue.mu.Lock()
	tasksAfterOnline := len(queue.tasks)
	queue.mu.Unlock()
	if tasksAfterOnline != 0 {
		t.Fatalf("online recipient enqueued %d offline tasks", tasksAfterOnline)
	}

	// bob disconnected: offline task, no delivered receipt
	broadcaster.perUser = map[string]int{}
	msg, err = service.Send(context.Background(), conversationID, "alice", "second")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	receipts, _ = store.ReceiptsForMessage(context.Background(), conversationID, msg.ID)
	if len(receipts) != 0 {
		t.Fatalf("offline recipient got %d receipts", len(receipts))
	}
	queue.mu.Lock()
	tasksAfterOffline := len(queue.tasks)
	queue.mu.Unlock()
	if tasksAfterOffline != 1 {
		t.Fatalf("offline recipient enqueued %d tasks, want 1", tasksAfterOffline)
	}

	outbox.mu.Lock()
	defer outbox.mu.Unlock()
	if len(outbox.names) != 2 {
		t.Fatalf("outbox got %d events, want 2", len(outbox.names))
	}
	for _, name := range outbox.names {
		if name != "chat.message_created" {
			t.Fatalf("unexpected outbox event %s", name)
		}
	}
}

func TestConversationMetadataTracksLastMessage(t *testing.T) {
	service, _, _ := newTestService(t)
	conversationID := startConversation(t, service, "alice", "bob")

	msg, err := service.Send(context.Background(), conversationID, "alice", "latest news")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	conv, err := service.GetConversation(context.Background(), conversationID, "bob")
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if conv.LastMessageID != msg.ID || conv.LastSenderID != "alice" || conv.LastMessageText != "latest news" {
		t.Fatalf("conversation metadata = %+v, want last message %d by alice", conv, msg.ID)
	}
}
