package nop_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/sseview/pkg/eventstream"
	"github.com/papercomputeco/sseview/pkg/eventstream/nop"
)

var _ = Describe("Publisher", func() {
	It("returns ErrNilCaptureEvent for nil events", func() {
		p := nop.NewPublisher()
		err := p.Publish(context.Background(), nil)
		Expect(err).To(MatchError(eventstream.ErrNilCaptureEvent))
	})

	It("succeeds for non-nil events and closes", func() {
		p := nop.NewPublisher()
		Expect(p.Publish(context.Background(), &eventstream.CaptureEvent{})).To(Succeed())
		Expect(p.Close()).To(Succeed())
	})
})
