package aggregator_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/sseview/pkg/aggregator"
	"github.com/papercomputeco/sseview/pkg/capture"
	"github.com/papercomputeco/sseview/pkg/eventstream"
	"github.com/papercomputeco/sseview/pkg/protocol"
	"github.com/papercomputeco/sseview/proxy/worker"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []*eventstream.CaptureEvent
}

func (r *recordingPublisher) Publish(_ context.Context, ev *eventstream.CaptureEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingPublisher) Close() error { return nil }

func (r *recordingPublisher) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []string{}
	for _, ev := range r.events {
		out = append(out, ev.EventType)
	}
	return out
}

func start(id, url string) protocol.Message {
	return protocol.SessionStart(id, url, "POST", nil, capture.BodyParams{})
}

func event(id, data string) protocol.Message {
	return protocol.EventReceived(id, capture.StreamEvent{Data: data})
}

var _ = Describe("Aggregator", func() {
	var (
		agg *aggregator.Aggregator
		ctx context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		agg = aggregator.New(aggregator.Config{})
		DeferCleanup(agg.Close)
	})

	Describe("Deliver", func() {
		It("registers a session and appends its events in order", func() {
			Expect(agg.Deliver(ctx, "tab-1", start("r1", "https://x/stream?a=1"))).To(Succeed())
			Expect(agg.Deliver(ctx, "tab-1", event("r1", "one"))).To(Succeed())
			Expect(agg.Deliver(ctx, "tab-1", event("r1", "two"))).To(Succeed())

			sessions, err := agg.Sessions(ctx, "tab-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(sessions).To(HaveKey("r1"))

			s := sessions["r1"]
			Expect(s.Method).To(Equal("POST"))
			Expect(s.QueryParams).To(Equal(map[string]string{"a": "1"}))
			Expect(s.Events).To(HaveLen(2))
			Expect(s.Events[0].Data).To(Equal("one"))
			Expect(s.Events[1].Data).To(Equal("two"))
			Expect(s.Events[0].ReceivedAt).NotTo(BeZero())
		})

		It("drops events for unknown sessions without error", func() {
			Expect(agg.Deliver(ctx, "tab-1", event("ghost", "x"))).To(Succeed())
			sessions, _ := agg.Sessions(ctx, "tab-1")
			Expect(sessions).To(BeEmpty())
		})

		It("reports duplicate session starts", func() {
			Expect(agg.Deliver(ctx, "tab-1", start("", "https://x/s"))).To(Succeed())
			err := agg.Deliver(ctx, "tab-1", start("", "https://x/s"))
			Expect(err).To(MatchError(capture.ErrDuplicateSession))
		})

		It("rejects invalid messages", func() {
			err := agg.Deliver(ctx, "tab-1", protocol.Message{Type: "NOPE"})
			Expect(err).To(MatchError(protocol.ErrInvalidMessage))
		})

		It("tracks content script liveness per context", func() {
			Expect(agg.Deliver(ctx, "tab-2", protocol.ContentScriptLoaded("https://b"))).To(Succeed())
			Expect(agg.Deliver(ctx, "tab-1", protocol.ContentScriptLoaded("https://a"))).To(Succeed())

			loaded, err := agg.LoadedContexts(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded).To(HaveLen(2))
			Expect(loaded[0].ContextID).To(Equal("tab-1"))
			Expect(loaded[0].URL).To(Equal("https://a"))
			Expect(loaded[1].ContextID).To(Equal("tab-2"))
		})

		It("accepts interleaved deliveries from many goroutines", func() {
			const sessions, events = 8, 25
			for i := range sessions {
				Expect(agg.Deliver(ctx, "tab-1", start(fmt.Sprintf("r%d", i), fmt.Sprintf("/s/%d", i)))).To(Succeed())
			}

			var wg sync.WaitGroup
			for i := range sessions {
				wg.Add(1)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()
					for j := range events {
						Expect(agg.Deliver(ctx, "tab-1", event(fmt.Sprintf("r%d", i), fmt.Sprint(j)))).To(Succeed())
					}
				}(i)
			}
			wg.Wait()

			all, err := agg.Sessions(ctx, "tab-1")
			Expect(err).NotTo(HaveOccurred())
			for i := range sessions {
				s := all[fmt.Sprintf("r%d", i)]
				Expect(s.Events).To(HaveLen(events))
				for j, ev := range s.Events {
					Expect(ev.Data).To(Equal(fmt.Sprint(j)))
				}
			}
		})
	})

	Describe("Handle", func() {
		BeforeEach(func() {
			Expect(agg.Deliver(ctx, "tab-A", start("a1", "/a"))).To(Succeed())
			Expect(agg.Deliver(ctx, "tab-B", start("b1", "/b"))).To(Succeed())
		})

		It("answers getSSERequests with the context snapshot", func() {
			resp, err := agg.Handle(ctx, "tab-A", protocol.Request{Action: protocol.ActionGetSessions})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Action).To(Equal(protocol.ActionAllSessions))
			Expect(resp.Sessions).To(HaveLen(1))
			Expect(resp.Sessions).To(HaveKey("a1"))
		})

		It("clears only the requesting context", func() {
			resp, err := agg.Handle(ctx, "tab-A", protocol.Request{Action: protocol.ActionClearSessions})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Action).To(Equal(protocol.ActionAllSessions))
			Expect(resp.Sessions).NotTo(BeNil())
			Expect(resp.Sessions).To(BeEmpty())

			remaining, _ := agg.Sessions(ctx, "tab-B")
			Expect(remaining).To(HaveKey("b1"))
		})

		It("lists and clears every context through the wildcard", func() {
			all, err := agg.Sessions(ctx, aggregator.WildcardContext)
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(2))

			n, err := agg.Clear(ctx, aggregator.WildcardContext)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(2))
		})

		It("rejects unknown actions", func() {
			_, err := agg.Handle(ctx, "tab-A", protocol.Request{Action: "reload"})
			Expect(err).To(MatchError(protocol.ErrInvalidMessage))
		})

		It("returns one session by id", func() {
			s, err := agg.Session(ctx, "b1")
			Expect(err).NotTo(HaveOccurred())
			Expect(s.ContextID).To(Equal("tab-B"))

			_, err = agg.Session(ctx, "missing")
			Expect(err).To(MatchError(capture.NotFoundError{ID: "missing"}))
		})
	})

	Describe("observers", func() {
		It("pushes notifications to observers of the owning context", func() {
			mine, err := agg.Subscribe(ctx, "tab-1")
			Expect(err).NotTo(HaveOccurred())
			other, err := agg.Subscribe(ctx, "tab-2")
			Expect(err).NotTo(HaveOccurred())
			all, err := agg.Subscribe(ctx, aggregator.WildcardContext)
			Expect(err).NotTo(HaveOccurred())

			Expect(agg.Deliver(ctx, "tab-1", start("r1", "/s"))).To(Succeed())
			Expect(agg.Deliver(ctx, "tab-1", event("r1", "hello"))).To(Succeed())

			var n protocol.Notification
			Eventually(mine.Notifications()).Should(Receive(&n))
			Expect(n.Action).To(Equal(protocol.ActionNewSession))
			Expect(n.SessionID).To(Equal("r1"))
			Expect(n.Session.URL).To(Equal("/s"))

			Eventually(mine.Notifications()).Should(Receive(&n))
			Expect(n.Action).To(Equal(protocol.ActionNewEvent))
			Expect(n.Event.Data).To(Equal("hello"))

			Eventually(all.Notifications()).Should(Receive())
			Eventually(all.Notifications()).Should(Receive())
			Consistently(other.Notifications(), 50*time.Millisecond).ShouldNot(Receive())
		})

		It("routes events to the session owner regardless of the sender", func() {
			owner, _ := agg.Subscribe(ctx, "tab-1")
			Expect(agg.Deliver(ctx, "tab-1", start("r1", "/s"))).To(Succeed())
			Eventually(owner.Notifications()).Should(Receive())

			Expect(agg.Deliver(ctx, "relay", event("r1", "x"))).To(Succeed())
			var n protocol.Notification
			Eventually(owner.Notifications()).Should(Receive(&n))
			Expect(n.ContextID).To(Equal("tab-1"))
		})

		It("drops notifications when an observer falls behind", func() {
			small := aggregator.New(aggregator.Config{ObserverBuffer: 1})
			defer small.Close()

			o, err := small.Subscribe(ctx, "tab-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(small.Deliver(ctx, "tab-1", start("r1", "/a"))).To(Succeed())
			Expect(small.Deliver(ctx, "tab-1", start("r2", "/b"))).To(Succeed())

			Expect(o.Notifications()).To(HaveLen(1))
			sessions, _ := small.Sessions(ctx, "tab-1")
			Expect(sessions).To(HaveLen(2))
		})

		It("closes the channel on unsubscribe", func() {
			o, _ := agg.Subscribe(ctx, "tab-1")
			Expect(agg.Unsubscribe(ctx, o)).To(Succeed())
			Eventually(o.Notifications()).Should(BeClosed())
			Expect(agg.Unsubscribe(ctx, o)).To(Succeed())
		})
	})

	Describe("Close", func() {
		It("closes observers and refuses further work", func() {
			o, _ := agg.Subscribe(ctx, "tab-1")
			agg.Close()

			Eventually(o.Notifications()).Should(BeClosed())
			Expect(agg.Deliver(ctx, "tab-1", start("r1", "/s"))).To(MatchError(aggregator.ErrClosed))
			_, err := agg.Sessions(ctx, "tab-1")
			Expect(err).To(MatchError(aggregator.ErrClosed))
			Expect(agg.Unsubscribe(ctx, o)).To(Succeed())
		})

		It("is idempotent", func() {
			agg.Close()
			Expect(agg.Close).NotTo(Panic())
		})
	})

	It("honors context cancellation", func() {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		// The inbox has room, so the command may still be accepted; either
		// way the call must not block.
		_, err := agg.Sessions(cancelled, "tab-1")
		if err != nil {
			Expect(err).To(MatchError(context.Canceled))
		}
	})

	Context("when the caller gives up while the loop is busy", func() {
		var release func()

		BeforeEach(func() {
			release = aggregator.Stall(agg)
			DeferCleanup(func() { release() })
		})

		It("undoes a subscription the caller never received", func() {
			short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
			defer cancel()

			o, err := agg.Subscribe(short, "tab-1")
			Expect(err).To(MatchError(context.DeadlineExceeded))
			Expect(o).To(BeNil())

			release()
			release = func() {}
			Eventually(func() int { return aggregator.ObserverCount(agg) }).Should(BeZero())
		})

		It("returns nothing from queries that did not complete", func() {
			short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
			defer cancel()

			loaded, err := agg.LoadedContexts(short)
			Expect(err).To(MatchError(context.DeadlineExceeded))
			Expect(loaded).To(BeNil())

			n, err := agg.Clear(short, "tab-1")
			Expect(err).To(MatchError(context.DeadlineExceeded))
			Expect(n).To(BeZero())
		})
	})

	It("lists loaded contexts ordered by id", func() {
		for _, id := range []string{"tab-b", "tab-a", "tab-c"} {
			Expect(agg.Deliver(ctx, id, protocol.ContentScriptLoaded("https://example.test/"+id))).To(Succeed())
		}

		loaded, err := agg.LoadedContexts(ctx)
		Expect(err).NotTo(HaveOccurred())
		ids := []string{}
		for _, lc := range loaded {
			ids = append(ids, lc.ContextID)
		}
		Expect(ids).To(Equal([]string{"tab-a", "tab-b", "tab-c"}))
	})

	It("publishes capture events through the worker pool", func() {
		publisher := &recordingPublisher{}
		pool, err := worker.NewPool(&worker.Config{Publisher: publisher})
		Expect(err).NotTo(HaveOccurred())

		a := aggregator.New(aggregator.Config{Pool: pool, Host: "test-host"})
		Expect(a.Deliver(ctx, "tab-1", start("r1", "/s"))).To(Succeed())
		Expect(a.Deliver(ctx, "tab-1", event("r1", "x"))).To(Succeed())
		a.Close()
		pool.Close()

		Expect(publisher.types()).To(ConsistOf(
			eventstream.EventTypeSessionStarted,
			eventstream.EventTypeEventReceived,
		))
	})
})
