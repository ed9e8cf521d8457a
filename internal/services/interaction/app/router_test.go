package app

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/auditorium.live/internal/services/interaction/domain/answer"
	"github.com/louisbranch/auditorium.live/internal/services/interaction/domain/content"
	"github.com/louisbranch/auditorium.live/internal/services/interaction/storage"
)

type fakeContentStore struct {
	contents map[string]content.Content
}

func (f *fakeContentStore) PutContent(_ context.Context, c content.Content) error {
	f.contents[c.ID] = c
	return nil
}

func (f *fakeContentStore) GetContent(_ context.Context, id string) (content.Content, error) {
	c, ok := f.contents[id]
	if !ok {
		return content.Content{}, storage.ErrNotFound
	}
	return c, nil
}

func (f *fakeContentStore) ListContents(_ context.Context, roomID string) ([]content.Content, error) {
	var out []content.Content
	for _, c := range f.contents {
		if c.RoomID == roomID {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakeAnswerStore struct {
	answers []answer.Answer
}

func (f *fakeAnswerStore) UpsertAnswer(_ context.Context, a answer.Answer) (bool, error) {
	f.answers = append(f.answers, a)
	return true, nil
}

func (f *fakeAnswerStore) ImportAnswers(_ context.Context, answers []answer.Answer) error {
	f.answers = append(f.answers, answers...)
	return nil
}

func (f *fakeAnswerStore) ListAnswers(_ context.Context, contentID string, round int) ([]answer.Answer, error) {
	var out []answer.Answer
	for _, a := range f.answers {
		if a.ContentID == contentID && a.Round == round {
			out = append(out, a)
		}
	}
	return out, nil
}

// capturingPublisher records publishes; the router workers publish from
// their own goroutines, so it locks.
type capturingPublisher struct {
	mu         sync.Mutex
	deliveries []Delivery
}

func (p *capturingPublisher) Publish(key string, msg Message) {
	p.mu.Lock()
	p.deliveries = append(p.deliveries, Delivery{Key: key, Message: msg})
	p.mu.Unlock()
}

func (p *capturingPublisher) byType(messageType string) []Delivery {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Delivery
	for _, d := range p.deliveries {
		if d.Message.Type == messageType {
			out = append(out, d)
		}
	}
	return out
}

func choiceContent(id string) content.Content {
	return content.Content{
		ID:     id,
		RoomID: "room-1",
		Format: content.FormatChoice,
		Round:  1,
		Choice: &content.ChoiceSpec{Options: []string{"a", "b"}, CorrectIndexes: []int{0}},
	}
}

func choiceAnswer(id, contentID string) answer.Answer {
	return answer.Answer{
		ID:              id,
		ContentID:       contentID,
		RoomID:          "room-1",
		CreatorID:       "user-" + id,
		Format:          content.FormatChoice,
		Round:           1,
		SelectedIndexes: []int{0},
	}
}

func TestRouterBroadcastsOncePerContent(t *testing.T) {
	contents := &fakeContentStore{contents: map[string]content.Content{}}
	answers := &fakeAnswerStore{}
	for i := 1; i <= 3; i++ {
		id := fmt.Sprintf("c%d", i)
		contents.contents[id] = choiceContent(id)
	}

	var batch []answer.Answer
	for i := 0; i < 10; i++ {
		contentID := fmt.Sprintf("c%d", i%3+1)
		a := choiceAnswer(fmt.Sprintf("ans-%d", i), contentID)
		batch = append(batch, a)
		answers.answers = append(answers.answers, a)
	}

	pub := &capturingPublisher{}
	router := NewRouter(contents, answers, pub)
	defer router.Close()

	router.AnswersChanged(context.Background(), storage.ChangeEvent{
		EntityType: storage.EntityTypeAnswer,
		Kind:       storage.OperationCreated,
		Answers:    batch,
	})
	router.Drain()

	changed := pub.byType(MessageTypeAnswersChanged)
	if len(changed) != 3 {
		t.Fatalf("published %d AnswersChanged messages, want 3", len(changed))
	}

	keys := map[string]bool{}
	for _, d := range changed {
		keys[d.Key] = true
	}
	for i := 1; i <= 3; i++ {
		key := AnswersChangedKey("room-1", fmt.Sprintf("c%d", i))
		if !keys[key] {
			t.Fatalf("missing broadcast on %s", key)
		}
	}
}

func TestRouterAnswersChangedPayload(t *testing.T) {
	contents := &fakeContentStore{contents: map[string]content.Content{"c1": choiceContent("c1")}}
	answers := &fakeAnswerStore{answers: []answer.Answer{
		choiceAnswer("ans-1", "c1"),
		choiceAnswer("ans-2", "c1"),
	}}
	pub := &capturingPublisher{}
	router := NewRouter(contents, answers, pub)
	defer router.Close()

	router.AnswersChanged(context.Background(), storage.ChangeEvent{
		EntityType: storage.EntityTypeAnswer,
		Kind:       storage.OperationCreated,
		Answers:    []answer.Answer{choiceAnswer("ans-2", "c1")},
	})
	router.Drain()

	changed := pub.byType(MessageTypeAnswersChanged)
	if len(changed) != 1 {
		t.Fatalf("published %d AnswersChanged messages, want 1", len(changed))
	}
	payload, ok := changed[0].Message.Payload.(answersChangedPayload)
	if !ok {
		t.Fatalf("payload type %T", changed[0].Message.Payload)
	}
	if len(payload.IDs) != 1 || payload.IDs[0] != "ans-2" {
		t.Fatalf("payload ids = %v, want [ans-2]", payload.IDs)
	}
	// Statistics are recomputed from the full stored set, not the batch.
	if payload.Statistics.AnswerCount != 2 {
		t.Fatalf("answer count = %d, want 2", payload.Statistics.AnswerCount)
	}
}

func TestRouterEmitsTextAnswerCreated(t *testing.T) {
	textContent := content.Content{
		ID:     "c1",
		RoomID: "room-1",
		Format: content.FormatText,
		Round:  1,
	}
	contents := &fakeContentStore{contents: map[string]content.Content{"c1": textContent}}
	created := answer.Answer{
		ID:        "ans-1",
		ContentID: "c1",
		RoomID:    "room-1",
		CreatorID: "user-1",
		Format:    content.FormatText,
		Round:     1,
		Body:      "great lecture",
	}
	answers := &fakeAnswerStore{answers: []answer.Answer{created}}
	pub := &capturingPublisher{}
	router := NewRouter(contents, answers, pub)
	defer router.Close()

	router.AnswersChanged(context.Background(), storage.ChangeEvent{
		EntityType: storage.EntityTypeAnswer,
		Kind:       storage.OperationCreated,
		Answers:    []answer.Answer{created},
	})
	router.Drain()

	texts := pub.byType(MessageTypeTextAnswerCreated)
	if len(texts) != 1 {
		t.Fatalf("published %d TextAnswerCreated messages, want 1", len(texts))
	}
	if texts[0].Key != TextAnswerCreatedKey("room-1", "c1") {
		t.Fatalf("key = %q", texts[0].Key)
	}
	payload, ok := texts[0].Message.Payload.(textAnswerCreatedPayload)
	if !ok {
		t.Fatalf("payload type %T", texts[0].Message.Payload)
	}
	if payload.ID != "ans-1" || payload.Body != "great lecture" {
		t.Fatalf("payload = %+v", payload)
	}
}

func TestRouterSkipsTextAnswerCreatedForUpdates(t *testing.T) {
	textContent := content.Content{ID: "c1", RoomID: "room-1", Format: content.FormatText, Round: 1}
	contents := &fakeContentStore{contents: map[string]content.Content{"c1": textContent}}
	updated := answer.Answer{
		ID: "ans-1", ContentID: "c1", RoomID: "room-1", CreatorID: "user-1",
		Format: content.FormatText, Round: 1, Body: "revised",
	}
	answers := &fakeAnswerStore{answers: []answer.Answer{updated}}
	pub := &capturingPublisher{}
	router := NewRouter(contents, answers, pub)
	defer router.Close()

	router.AnswersChanged(context.Background(), storage.ChangeEvent{
		EntityType: storage.EntityTypeAnswer,
		Kind:       storage.OperationUpdated,
		Answers:    []answer.Answer{updated},
	})
	router.Drain()

	if texts := pub.byType(MessageTypeTextAnswerCreated); len(texts) != 0 {
		t.Fatalf("published %d TextAnswerCreated messages for an update, want 0", len(texts))
	}
	if changed := pub.byType(MessageTypeAnswersChanged); len(changed) != 1 {
		t.Fatalf("published %d AnswersChanged messages, want 1", len(changed))
	}
}

func TestRouterFailedGroupDoesNotBlockSiblings(t *testing.T) {
	// Only c2 resolves; c1's lookup fails and its group is dropped.
	contents := &fakeContentStore{contents: map[string]content.Content{"c2": choiceContent("c2")}}
	answers := &fakeAnswerStore{answers: []answer.Answer{choiceAnswer("ans-2", "c2")}}
	pub := &capturingPublisher{}
	router := NewRouter(contents, answers, pub)
	defer router.Close()

	router.AnswersChanged(context.Background(), storage.ChangeEvent{
		EntityType: storage.EntityTypeAnswer,
		Kind:       storage.OperationCreated,
		Answers: []answer.Answer{
			choiceAnswer("ans-1", "c1"),
			choiceAnswer("ans-2", "c2"),
		},
	})
	router.Drain()

	changed := pub.byType(MessageTypeAnswersChanged)
	if len(changed) != 1 {
		t.Fatalf("published %d AnswersChanged messages, want 1", len(changed))
	}
	if changed[0].Key != AnswersChangedKey("room-1", "c2") {
		t.Fatalf("key = %q, want c2 broadcast", changed[0].Key)
	}
}

// gatedContentStore blocks GetContent for one content until the gate is
// closed, simulating a worker stuck mid-recompute.
type gatedContentStore struct {
	fakeContentStore
	gatedID string
	gate    chan struct{}
}

func (g *gatedContentStore) GetContent(ctx context.Context, id string) (content.Content, error) {
	if id == g.gatedID {
		<-g.gate
	}
	return g.fakeContentStore.GetContent(ctx, id)
}

func TestRouterBackloggedContentDoesNotStallSiblings(t *testing.T) {
	gate := make(chan struct{})
	contents := &gatedContentStore{
		fakeContentStore: fakeContentStore{contents: map[string]content.Content{
			"c1": choiceContent("c1"),
			"c2": choiceContent("c2"),
		}},
		gatedID: "c1",
		gate:    gate,
	}
	answers := &fakeAnswerStore{answers: []answer.Answer{
		choiceAnswer("ans-c1", "c1"),
		choiceAnswer("ans-c2", "c2"),
	}}
	pub := &capturingPublisher{}
	router := NewRouter(contents, answers, pub)

	// Stall c1's worker on the gated lookup, then overfill its queue.
	var dispatched []string
	for i := 0; i < workerQueueDepth+4; i++ {
		a := choiceAnswer(fmt.Sprintf("ans-c1-%d", i), "c1")
		dispatched = append(dispatched, a.ID)
		router.AnswersChanged(context.Background(), storage.ChangeEvent{
			EntityType: storage.EntityTypeAnswer,
			Kind:       storage.OperationUpdated,
			Answers:    []answer.Answer{a},
		})
	}

	done := make(chan struct{})
	go func() {
		router.AnswersChanged(context.Background(), storage.ChangeEvent{
			EntityType: storage.EntityTypeAnswer,
			Kind:       storage.OperationCreated,
			Answers:    []answer.Answer{choiceAnswer("ans-c2", "c2")},
		})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch for an idle content stalled behind a backlogged sibling")
	}

	close(gate)
	router.Drain()
	router.Close()

	if changed := pub.byType(MessageTypeAnswersChanged); len(changed) == 0 {
		t.Fatal("expected broadcasts after releasing the gate")
	}

	// Coalescing a full queue must carry every affected answer id forward.
	seen := map[string]bool{}
	for _, d := range pub.byType(MessageTypeAnswersChanged) {
		if d.Key != AnswersChangedKey("room-1", "c1") {
			continue
		}
		payload, ok := d.Message.Payload.(answersChangedPayload)
		if !ok {
			t.Fatalf("payload type %T", d.Message.Payload)
		}
		for _, id := range payload.IDs {
			seen[id] = true
		}
	}
	for _, id := range dispatched {
		if !seen[id] {
			t.Fatalf("answer id %s lost while coalescing the backlog", id)
		}
	}
}

func TestRouterIgnoresForeignEntities(t *testing.T) {
	contents := &fakeContentStore{contents: map[string]content.Content{"c1": choiceContent("c1")}}
	pub := &capturingPublisher{}
	router := NewRouter(contents, &fakeAnswerStore{}, pub)
	defer router.Close()

	router.AnswersChanged(context.Background(), storage.ChangeEvent{
		EntityType: "room",
		Kind:       storage.OperationUpdated,
	})
	router.Drain()

	if len(pub.byType(MessageTypeAnswersChanged)) != 0 {
		t.Fatal("expected no broadcasts for non-answer entities")
	}
}
