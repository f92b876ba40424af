package capture_test

import (
	"errors"
	"fmt"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/sseview/pkg/capture"
	"github.com/papercomputeco/sseview/pkg/sse"
)

var _ = Describe("Registry", func() {
	var (
		now      time.Time
		registry *capture.Registry
	)

	advance := func(d time.Duration) {
		now = now.Add(d)
	}

	BeforeEach(func() {
		now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		registry = capture.NewRegistry(capture.WithClock(func() time.Time { return now }))
	})

	Describe("Register", func() {
		It("stores a session and returns a generated id", func() {
			id, err := registry.Register(capture.Registration{
				URL:       "https://api.example.com/stream?model=m1",
				Method:    "POST",
				ContextID: "tab-1",
				BodyParams: capture.JSONBody(map[string]any{
					"prompt": "hi",
				}),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(id).To(HavePrefix(capture.SessionIDPrefix))

			s, err := registry.Get(id)
			Expect(err).NotTo(HaveOccurred())
			Expect(s.URL).To(Equal("https://api.example.com/stream?model=m1"))
			Expect(s.Method).To(Equal("POST"))
			Expect(s.ContextID).To(Equal("tab-1"))
			Expect(s.StartedAt).To(Equal(now))
			Expect(s.QueryParams).To(Equal(map[string]string{"model": "m1"}))
			Expect(s.Events).To(BeEmpty())
		})

		It("generates distinct ids", func() {
			a, err := registry.Register(capture.Registration{URL: "/a", ContextID: "tab-1"})
			Expect(err).NotTo(HaveOccurred())
			b, err := registry.Register(capture.Registration{URL: "/b", ContextID: "tab-1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(a).NotTo(Equal(b))
		})

		It("defaults the method to GET", func() {
			id, err := registry.Register(capture.Registration{URL: "/events", ContextID: "tab-1"})
			Expect(err).NotTo(HaveOccurred())
			s, _ := registry.Get(id)
			Expect(s.Method).To(Equal("GET"))
		})

		It("honors a caller-supplied id", func() {
			id, err := registry.Register(capture.Registration{ID: "sse-req-page-1", URL: "/a", ContextID: "tab-1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(id).To(Equal("sse-req-page-1"))
		})

		It("suppresses a duplicate within the window", func() {
			reg := capture.Registration{URL: "/stream", ContextID: "tab-1"}
			_, err := registry.Register(reg)
			Expect(err).NotTo(HaveOccurred())

			advance(500 * time.Millisecond)
			_, err = registry.Register(reg)
			Expect(errors.Is(err, capture.ErrDuplicateSession)).To(BeTrue())
			Expect(registry.ListFor("tab-1")).To(HaveLen(1))
		})

		It("accepts the same url again after the window", func() {
			reg := capture.Registration{URL: "/stream", ContextID: "tab-1"}
			_, err := registry.Register(reg)
			Expect(err).NotTo(HaveOccurred())

			advance(1500 * time.Millisecond)
			_, err = registry.Register(reg)
			Expect(err).NotTo(HaveOccurred())
			Expect(registry.ListFor("tab-1")).To(HaveLen(2))
		})

		It("does not treat other contexts or urls as duplicates", func() {
			_, err := registry.Register(capture.Registration{URL: "/stream", ContextID: "tab-1"})
			Expect(err).NotTo(HaveOccurred())
			_, err = registry.Register(capture.Registration{URL: "/stream", ContextID: "tab-2"})
			Expect(err).NotTo(HaveOccurred())
			_, err = registry.Register(capture.Registration{URL: "/other", ContextID: "tab-1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(registry.Len()).To(Equal(3))
		})

		It("never reuses an id, even after a clear", func() {
			_, err := registry.Register(capture.Registration{ID: "fixed", URL: "/a", ContextID: "tab-1"})
			Expect(err).NotTo(HaveOccurred())
			registry.Clear("tab-1")

			advance(2 * time.Second)
			_, err = registry.Register(capture.Registration{ID: "fixed", URL: "/a", ContextID: "tab-1"})
			Expect(errors.Is(err, capture.ErrSessionExists)).To(BeTrue())
		})

		It("rejects an id that is still live", func() {
			_, err := registry.Register(capture.Registration{ID: "fixed", URL: "/a", ContextID: "tab-1"})
			Expect(err).NotTo(HaveOccurred())
			_, err = registry.Register(capture.Registration{ID: "fixed", URL: "/b", ContextID: "tab-2"})
			Expect(errors.Is(err, capture.ErrSessionExists)).To(BeTrue())
		})

		It("does not remember generated ids after a clear", func() {
			_, err := registry.Register(capture.Registration{URL: "/a", ContextID: "tab-1"})
			Expect(err).NotTo(HaveOccurred())
			_, err = registry.Register(capture.Registration{ID: capture.NewSessionID(), URL: "/b", ContextID: "tab-1"})
			Expect(err).NotTo(HaveOccurred())

			Expect(registry.Clear("tab-1")).To(Equal(2))
			Expect(capture.RetiredIDs(registry)).To(BeZero())
		})

		It("bounds the cleared custom ids it remembers", func() {
			r := capture.NewRegistry(capture.WithDedupeWindow(0))
			for i := range capture.MaxRetiredIDs + 1 {
				_, err := r.Register(capture.Registration{ID: fmt.Sprintf("custom-%d", i), URL: "/a", ContextID: "tab-1"})
				Expect(err).NotTo(HaveOccurred())
				r.Clear("tab-1")
			}
			Expect(capture.RetiredIDs(r)).To(Equal(capture.MaxRetiredIDs))

			_, err := r.Register(capture.Registration{ID: "custom-0", URL: "/a", ContextID: "tab-1"})
			Expect(err).NotTo(HaveOccurred())
			_, err = r.Register(capture.Registration{ID: "custom-1", URL: "/a", ContextID: "tab-1"})
			Expect(errors.Is(err, capture.ErrSessionExists)).To(BeTrue())
		})

		It("recognizes generated ids", func() {
			Expect(capture.IsGeneratedID(capture.NewSessionID())).To(BeTrue())
			Expect(capture.IsGeneratedID("sse-req-test")).To(BeFalse())
			Expect(capture.IsGeneratedID("fixed")).To(BeFalse())
		})

		It("can disable duplicate suppression", func() {
			r := capture.NewRegistry(capture.WithDedupeWindow(0))
			reg := capture.Registration{URL: "/stream", ContextID: "tab-1"}
			_, err := r.Register(reg)
			Expect(err).NotTo(HaveOccurred())
			_, err = r.Register(reg)
			Expect(err).NotTo(HaveOccurred())
		})

		It("uses the configured id generator", func() {
			n := 0
			r := capture.NewRegistry(capture.WithIDGenerator(func() string {
				n++
				return "id-" + strings.Repeat("x", n)
			}))
			id, err := r.Register(capture.Registration{URL: "/a"})
			Expect(err).NotTo(HaveOccurred())
			Expect(id).To(Equal("id-x"))
		})
	})

	Describe("AppendEvent", func() {
		It("appends in arrival order", func() {
			id, err := registry.Register(capture.Registration{URL: "/s", ContextID: "tab-1"})
			Expect(err).NotTo(HaveOccurred())

			Expect(registry.AppendEvent(id, capture.StreamEvent{Data: "one"})).To(BeTrue())
			Expect(registry.AppendEvent(id, capture.StreamEvent{Data: "two"})).To(BeTrue())

			s, _ := registry.Get(id)
			Expect(s.Events).To(HaveLen(2))
			Expect(s.Events[0].Data).To(Equal("one"))
			Expect(s.Events[1].Data).To(Equal("two"))
		})

		It("drops events for unknown sessions", func() {
			Expect(registry.AppendEvent("nope", capture.StreamEvent{Data: "x"})).To(BeFalse())
		})

		It("drops events for cleared sessions", func() {
			id, _ := registry.Register(capture.Registration{URL: "/s", ContextID: "tab-1"})
			registry.Clear("tab-1")
			Expect(registry.AppendEvent(id, capture.StreamEvent{Data: "late"})).To(BeFalse())
		})
	})

	Describe("ListFor", func() {
		It("returns copies that do not alias registry state", func() {
			id, _ := registry.Register(capture.Registration{URL: "/s", ContextID: "tab-1"})
			registry.AppendEvent(id, capture.StreamEvent{Data: "one"})

			list := registry.ListFor("tab-1")
			list[id].Events = append(list[id].Events, capture.StreamEvent{Data: "injected"})
			list[id].QueryParams["x"] = "y"

			s, _ := registry.Get(id)
			Expect(s.Events).To(HaveLen(1))
			Expect(s.QueryParams).NotTo(HaveKey("x"))
		})

		It("returns an empty map for unknown contexts", func() {
			list := registry.ListFor("tab-404")
			Expect(list).NotTo(BeNil())
			Expect(list).To(BeEmpty())
		})
	})

	Describe("Clear", func() {
		It("only removes sessions of the given context", func() {
			a, _ := registry.Register(capture.Registration{URL: "/a", ContextID: "tab-A"})
			b, _ := registry.Register(capture.Registration{URL: "/b", ContextID: "tab-B"})

			Expect(registry.Clear("tab-A")).To(Equal(1))
			Expect(registry.ListFor("tab-A")).To(BeEmpty())
			Expect(registry.ListFor("tab-B")).To(HaveKey(b))

			_, err := registry.Get(a)
			Expect(err).To(MatchError(capture.NotFoundError{ID: a}))
		})

		It("reports zero for a context without sessions", func() {
			Expect(registry.Clear("tab-none")).To(Equal(0))
		})
	})

	It("lists the contexts that own sessions", func() {
		_, _ = registry.Register(capture.Registration{URL: "/a", ContextID: "tab-A"})
		_, _ = registry.Register(capture.Registration{URL: "/b", ContextID: "tab-A"})
		_, _ = registry.Register(capture.Registration{URL: "/c", ContextID: "tab-B"})
		Expect(registry.Contexts()).To(ConsistOf("tab-A", "tab-B"))
	})

	It("reports the owning context of a session", func() {
		id, _ := registry.Register(capture.Registration{URL: "/a", ContextID: "tab-A"})
		ctx, ok := registry.ContextOf(id)
		Expect(ok).To(BeTrue())
		Expect(ctx).To(Equal("tab-A"))
	})
})

var _ = Describe("NewStreamEvent", func() {
	It("copies the record fields", func() {
		at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		ev := capture.NewStreamEvent(sse.Event{ID: "1", Type: "delta", Data: "x", ReceivedAt: at}, time.Now())
		Expect(ev).To(Equal(capture.StreamEvent{ID: "1", EventName: "delta", Data: "x", ReceivedAt: at}))
	})

	It("stamps records that carry no receive time", func() {
		now := time.Date(2025, 2, 2, 0, 0, 0, 0, time.UTC)
		ev := capture.NewStreamEvent(sse.Event{Data: "x"}, now)
		Expect(ev.ReceivedAt).To(Equal(now))
	})
})
