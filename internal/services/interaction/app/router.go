package app

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/louisbranch/auditorium.live/internal/services/interaction/domain/answer"
	"github.com/louisbranch/auditorium.live/internal/services/interaction/domain/content"
	"github.com/louisbranch/auditorium.live/internal/services/interaction/domain/stats"
	"github.com/louisbranch/auditorium.live/internal/services/interaction/storage"
)

const workerQueueDepth = 32

// answersChangedPayload carries the affected answer ids and the freshly
// recomputed statistics of one content item.
type answersChangedPayload struct {
	IDs        []string         `json:"ids"`
	Statistics stats.Statistics `json:"stats"`
}

// textAnswerCreatedPayload lets clients render a new free-text answer
// immediately, without waiting for the statistics recompute.
type textAnswerCreatedPayload struct {
	ID   string `json:"id"`
	Body string `json:"body"`
}

// Router converts persistence change events into topic-routed broadcasts.
//
// Each batch is grouped by content so exactly one statistics recompute and
// one broadcast happens per content per batch. Recomputes for the same
// (room, content) pair are serialized through a dedicated worker goroutine
// fed by a bounded queue: a stale statistics snapshot must never be
// published after a newer one. Different contents proceed independently;
// a failing or backlogged group never blocks its siblings. When a worker's
// queue fills, the oldest pending task is folded into the newest instead
// of blocking dispatch.
type Router struct {
	contents storage.ContentStore
	answers  storage.AnswerStore
	pub      Publisher

	mu      sync.Mutex
	workers map[string]chan recomputeTask
	closed  bool

	tasks      sync.WaitGroup
	goroutines sync.WaitGroup
}

type recomputeTask struct {
	roomID       string
	contentID    string
	answerIDs    []string
	createdTexts []answer.Answer
}

// NewRouter creates a router publishing through pub.
func NewRouter(contents storage.ContentStore, answers storage.AnswerStore, pub Publisher) *Router {
	return &Router{
		contents: contents,
		answers:  answers,
		pub:      pub,
		workers:  make(map[string]chan recomputeTask),
	}
}

// AnswersChanged implements storage.ChangeListener. It groups the batch by
// content and enqueues one recompute per group, returning once every group
// is queued.
func (r *Router) AnswersChanged(_ context.Context, event storage.ChangeEvent) {
	if event.EntityType != storage.EntityTypeAnswer {
		return
	}

	type group struct {
		roomID       string
		answerIDs    []string
		createdTexts []answer.Answer
	}
	groups := make(map[string]*group)
	var order []string

	for _, a := range event.Answers {
		g, ok := groups[a.ContentID]
		if !ok {
			g = &group{roomID: a.RoomID}
			groups[a.ContentID] = g
			order = append(order, a.ContentID)
		}
		g.answerIDs = append(g.answerIDs, a.ID)
		if event.Kind == storage.OperationCreated && isTextLike(a.Format) {
			g.createdTexts = append(g.createdTexts, a)
		}
	}

	for _, contentID := range order {
		g := groups[contentID]
		r.dispatch(recomputeTask{
			roomID:       g.roomID,
			contentID:    contentID,
			answerIDs:    g.answerIDs,
			createdTexts: g.createdTexts,
		})
	}
}

func isTextLike(f content.Format) bool {
	return f == content.FormatText || f == content.FormatWordcloud
}

// dispatch enqueues the task on the worker owning its (room, content) key,
// starting the worker on first use. The enqueue happens under the router
// lock so Close never races a late send, and it never blocks: when the
// worker's queue is full the oldest pending task is coalesced into this
// one. The recompute reads the full stored set either way, so only the
// affected ids and new texts need carrying forward.
func (r *Router) dispatch(task recomputeTask) {
	key := task.roomID + "/" + task.contentID

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		log.Printf("router: dropping recompute for content %s: router closed", task.contentID)
		return
	}
	ch, ok := r.workers[key]
	if !ok {
		ch = make(chan recomputeTask, workerQueueDepth)
		r.workers[key] = ch
		r.goroutines.Add(1)
		go r.runWorker(ch)
	}
	r.tasks.Add(1)
	for {
		select {
		case ch <- task:
		default:
			select {
			case stale := <-ch:
				task.answerIDs = append(stale.answerIDs, task.answerIDs...)
				task.createdTexts = append(stale.createdTexts, task.createdTexts...)
				r.tasks.Done()
			default:
				// The worker drained the queue between the two selects.
			}
			continue
		}
		break
	}
}

func (r *Router) runWorker(ch <-chan recomputeTask) {
	defer r.goroutines.Done()
	for task := range ch {
		r.process(task)
		r.tasks.Done()
	}
}

// process recomputes one content's statistics from the stored answer set
// and publishes the result. The triggering write is already committed, so
// the recompute is not cancellable; failures are logged, not retried.
func (r *Router) process(task recomputeTask) {
	ctx := context.Background()

	c, err := r.contents.GetContent(ctx, task.contentID)
	if err != nil {
		log.Printf("router: load content %s: %v", task.contentID, err)
		return
	}
	round := c.CurrentRound()

	current, err := r.answers.ListAnswers(ctx, task.contentID, round)
	if err != nil {
		log.Printf("router: list answers for content %s round %d: %v", task.contentID, round, err)
		return
	}

	statistics, err := stats.Aggregate(c, current, round)
	if err != nil {
		log.Printf("router: aggregate content %s: %v", task.contentID, err)
		return
	}

	r.pub.Publish(AnswersChangedKey(task.roomID, task.contentID), Message{
		Type: MessageTypeAnswersChanged,
		Payload: answersChangedPayload{
			IDs:        task.answerIDs,
			Statistics: statistics,
		},
	})

	for _, created := range task.createdTexts {
		r.pub.Publish(TextAnswerCreatedKey(task.roomID, task.contentID), Message{
			Type: MessageTypeTextAnswerCreated,
			Payload: textAnswerCreatedPayload{
				ID:   created.ID,
				Body: textBody(created),
			},
		})
	}
}

func textBody(a answer.Answer) string {
	if a.Format == content.FormatWordcloud {
		return strings.Join(a.Texts, ", ")
	}
	return a.Body
}

// Drain blocks until every queued recompute has been processed.
func (r *Router) Drain() {
	r.tasks.Wait()
}

// Close stops accepting work, lets in-flight recomputes finish, and waits
// for the workers to exit.
func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	for _, ch := range r.workers {
		close(ch)
	}
	r.mu.Unlock()
	r.goroutines.Wait()
}
