package sse_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/sseview/pkg/sse"
)

var _ = Describe("Decoder", func() {
	var d *sse.Decoder

	BeforeEach(func() {
		d = sse.NewDecoder(nil)
	})

	It("decodes plain UTF-8 unchanged", func() {
		Expect(d.Decode([]byte("data: hello\n\n"))).To(Equal("data: hello\n\n"))
		Expect(d.Pending()).To(Equal(0))
	})

	It("holds back a two-byte character split across chunks", func() {
		Expect(d.Decode([]byte("data: caf\xC3"))).To(Equal("data: caf"))
		Expect(d.Pending()).To(Equal(1))

		Expect(d.Decode([]byte("\xA9\n\n"))).To(Equal("é\n\n"))
		Expect(d.Pending()).To(Equal(0))
	})

	It("reassembles a four-byte character delivered one byte at a time", func() {
		emoji := []byte("🚀")
		Expect(emoji).To(HaveLen(4))

		out := d.Decode([]byte("data: "))
		for _, b := range emoji {
			out += d.Decode([]byte{b})
		}
		Expect(out).To(Equal("data: 🚀"))
		Expect(d.Pending()).To(Equal(0))
	})

	It("strips a leading byte order mark", func() {
		Expect(d.Decode([]byte("\xEF\xBB\xBFdata: x\n\n"))).To(Equal("data: x\n\n"))
	})

	It("strips a byte order mark split across chunks", func() {
		out := d.Decode([]byte("\xEF"))
		out += d.Decode([]byte("\xBB\xBFdata: x"))
		Expect(out).To(Equal("data: x"))
	})

	It("replaces invalid bytes in the middle of a chunk", func() {
		Expect(d.Decode([]byte("abc\xFFdef"))).To(Equal("abc�def"))
	})

	It("flushes an incomplete sequence as a replacement character", func() {
		Expect(d.Decode([]byte("data: \xE2\x82"))).To(Equal("data: "))
		Expect(d.Pending()).To(Equal(2))

		Expect(d.Flush()).To(Equal("�"))
		Expect(d.Pending()).To(Equal(0))
	})

	It("flushes to nothing when no bytes are pending", func() {
		d.Decode([]byte("data: ok"))
		Expect(d.Flush()).To(BeEmpty())
	})

	Context("NewDecoderForContentType", func() {
		It("uses the declared charset", func() {
			d := sse.NewDecoderForContentType("text/event-stream; charset=ISO-8859-1")
			Expect(d.Decode([]byte("data: caf\xE9\n\n"))).To(Equal("data: café\n\n"))
		})

		It("defaults to UTF-8 without a charset", func() {
			d := sse.NewDecoderForContentType("text/event-stream")
			Expect(d.Decode([]byte("data: caf\xC3\xA9"))).To(Equal("data: café"))
		})

		It("falls back to UTF-8 for unknown charsets", func() {
			d := sse.NewDecoderForContentType("text/event-stream; charset=x-not-real")
			Expect(d.Decode([]byte("data: caf\xC3\xA9"))).To(Equal("data: café"))
		})

		It("falls back to UTF-8 for malformed headers", func() {
			d := sse.NewDecoderForContentType(";;;")
			Expect(d.Decode([]byte("data: caf\xC3\xA9"))).To(Equal("data: café"))
		})
	})
})
