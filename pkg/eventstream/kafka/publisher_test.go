package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/papercomputeco/sseview/pkg/capture"
	"github.com/papercomputeco/sseview/pkg/eventstream"
)

type fakeWriter struct {
	messages []kafkago.Message
	err      error
	closed   bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

var _ = Describe("Publisher", func() {
	var (
		writer *fakeWriter
		p      *Publisher
		ctx    context.Context
	)

	BeforeEach(func() {
		writer = &fakeWriter{}
		p = newPublisher(writer, "sseview.capture", nil)
		ctx = context.Background()
	})

	It("requires brokers and a topic", func() {
		_, err := NewPublisher(Config{Topic: "t"})
		Expect(err).To(HaveOccurred())

		_, err = NewPublisher(Config{Brokers: []string{"localhost:9092"}})
		Expect(err).To(HaveOccurred())
	})

	It("builds a writer for a valid config", func() {
		pub, err := NewPublisher(Config{Brokers: []string{"localhost:9092"}, Topic: "t", ClientID: "sseview"})
		Expect(err).NotTo(HaveOccurred())
		Expect(pub.writer).To(BeAssignableToTypeOf(&kafkago.Writer{}))
	})

	It("keys messages by session id", func() {
		now := time.Unix(1735689600, 0).UTC()
		event := eventstream.NewEventReceived(
			eventstream.EventSource{ContextID: "tab-1"},
			"sse-req-42",
			capture.StreamEvent{Data: "hello"},
			now,
		)

		Expect(p.Publish(ctx, event)).To(Succeed())
		Expect(writer.messages).To(HaveLen(1))

		msg := writer.messages[0]
		Expect(string(msg.Key)).To(Equal("sse-req-42"))
		Expect(msg.Time).To(Equal(now))
		Expect(msg.Headers).To(ContainElement(kafkago.Header{Key: "event_type", Value: []byte("sseview.event.received")}))

		var decoded eventstream.CaptureEvent
		Expect(json.Unmarshal(msg.Value, &decoded)).To(Succeed())
		Expect(decoded.SessionID).To(Equal("sse-req-42"))
		Expect(decoded.Event.Data).To(Equal("hello"))
	})

	It("rejects nil events", func() {
		Expect(p.Publish(ctx, nil)).To(MatchError(eventstream.ErrNilCaptureEvent))
	})

	It("wraps writer errors", func() {
		writer.err = errors.New("broker down")
		err := p.Publish(ctx, &eventstream.CaptureEvent{SessionID: "s"})
		Expect(err).To(MatchError(ContainSubstring("broker down")))
	})

	It("closes the writer", func() {
		Expect(p.Close()).To(Succeed())
		Expect(writer.closed).To(BeTrue())
	})
})
