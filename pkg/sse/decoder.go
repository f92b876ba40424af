package sse

import (
	"errors"
	"mime"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const minDecodeBuffer = 256

// Decoder incrementally converts chunks of bytes into text. An incomplete
// multi-byte sequence at the end of a chunk is held back and prefixed onto the
// next chunk, so characters split across network reads decode correctly.
type Decoder struct {
	t       transform.Transformer
	pending []byte
}

// NewDecoder returns a Decoder for the given encoding. A nil encoding selects
// UTF-8 with byte order mark stripping.
func NewDecoder(enc encoding.Encoding) *Decoder {
	if enc == nil {
		enc = unicode.UTF8BOM
	}
	return &Decoder{t: enc.NewDecoder()}
}

// NewDecoderForContentType picks the encoding from the charset parameter of a
// Content-Type header value. Missing or unknown charsets fall back to UTF-8.
func NewDecoderForContentType(contentType string) *Decoder {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return NewDecoder(nil)
	}

	label := strings.TrimSpace(params["charset"])
	if label == "" || strings.EqualFold(label, "utf-8") || strings.EqualFold(label, "utf8") {
		return NewDecoder(nil)
	}

	enc, err := htmlindex.Get(label)
	if err != nil {
		return NewDecoder(nil)
	}
	return NewDecoder(enc)
}

// Decode converts p, retaining any incomplete trailing sequence for the next
// call.
func (d *Decoder) Decode(p []byte) string {
	return d.run(p, false)
}

// Flush decodes whatever is still pending as the final input of the stream.
// Incomplete sequences become U+FFFD. The Decoder is reset afterwards.
func (d *Decoder) Flush() string {
	out := d.run(nil, true)
	d.t.Reset()
	return out
}

// Pending reports how many bytes are held back waiting for the rest of a
// multi-byte sequence.
func (d *Decoder) Pending() int {
	return len(d.pending)
}

func (d *Decoder) run(p []byte, atEOF bool) string {
	src := append(d.pending, p...)
	d.pending = nil

	if len(src) == 0 && !atEOF {
		return ""
	}

	var out strings.Builder
	dst := make([]byte, max(2*len(src), minDecodeBuffer))

	for {
		nDst, nSrc, err := d.t.Transform(dst, src, atEOF)
		out.Write(dst[:nDst])
		src = src[nSrc:]

		switch {
		case err == nil:
			return out.String()
		case errors.Is(err, transform.ErrShortDst):
			if nDst == 0 && nSrc == 0 {
				dst = make([]byte, 2*len(dst))
			}
		case errors.Is(err, transform.ErrShortSrc):
			d.pending = append([]byte(nil), src...)
			return out.String()
		default:
			// Decoders built on x/text substitute U+FFFD for invalid input, so any
			// other error means the transformer is unusable. Drop the rest.
			d.t.Reset()
			out.WriteRune(utf8.RuneError)
			return out.String()
		}
	}
}
