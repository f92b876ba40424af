package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/sseview/pkg/aggregator"
	"github.com/papercomputeco/sseview/pkg/capture"
	"github.com/papercomputeco/sseview/pkg/intercept"
	"github.com/papercomputeco/sseview/pkg/logger"
	"github.com/papercomputeco/sseview/pkg/protocol"
)

// newTestServer serves a fresh aggregator over a real listener.
func newTestServer() (*aggregator.Aggregator, *httptest.Server) {
	agg := aggregator.New(aggregator.Config{Logger: logger.Nop()})
	s, err := NewServer(Config{ListenAddr: ":0"}, agg, logger.Nop())
	Expect(err).NotTo(HaveOccurred())

	ts := httptest.NewServer(s.Handler())
	DeferCleanup(func() {
		agg.Close()
		ts.Close()
	})
	return agg, ts
}

func post(url string, body string) (int, string) {
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	return resp.StatusCode, string(b)
}

func getJSON(url string, v any) int {
	resp, err := http.Get(url)
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()
	if v != nil {
		Expect(json.NewDecoder(resp.Body).Decode(v)).To(Succeed())
	}
	return resp.StatusCode
}

var _ = Describe("NewServer", func() {
	It("requires an aggregator", func() {
		_, err := NewServer(Config{}, nil, logger.Nop())
		Expect(err).To(MatchError(ContainSubstring("aggregator is required")))
	})
})

var _ = Describe("API routes", func() {
	var (
		agg *aggregator.Aggregator
		ts  *httptest.Server
		ctx context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		agg, ts = newTestServer()
	})

	It("answers ping", func() {
		var pong string
		Expect(getJSON(ts.URL+"/ping", &pong)).To(Equal(http.StatusOK))
		Expect(pong).To(Equal("pong"))
	})

	Describe("POST /v1/contexts/:context/messages", func() {
		It("accepts a session start and its events", func() {
			status, _ := post(ts.URL+"/v1/contexts/tab-1/messages",
				`{"type":"SESSION_START","requestId":"r1","url":"https://x/s?a=1","method":"POST","bodyParams":{"q":"hi"}}`)
			Expect(status).To(Equal(http.StatusAccepted))

			status, _ = post(ts.URL+"/v1/contexts/tab-1/messages",
				`{"type":"EVENT_RECEIVED","requestId":"r1","eventName":"ping","data":"{\"n\":1}"}`)
			Expect(status).To(Equal(http.StatusAccepted))

			session, err := agg.Session(ctx, "r1")
			Expect(err).NotTo(HaveOccurred())
			Expect(session.ContextID).To(Equal("tab-1"))
			Expect(session.QueryParams).To(Equal(map[string]string{"a": "1"}))
			Expect(session.BodyParams.Kind).To(Equal(capture.BodyJSON))
			Expect(session.Events).To(HaveLen(1))
			Expect(session.Events[0].Data).To(Equal(`{"n":1}`))
		})

		It("decodes escaped context ids", func() {
			relay := intercept.NewHTTPRelay(ts.URL, nil)
			msg := protocol.SessionStart("r2", "https://x/s", "GET", nil, capture.BodyParams{})
			Expect(relay.Deliver(ctx, "tab 1", msg)).To(Succeed())

			sessions, err := agg.Sessions(ctx, "tab 1")
			Expect(err).NotTo(HaveOccurred())
			Expect(sessions).To(HaveKey("r2"))
		})

		It("rejects malformed and invalid messages", func() {
			status, body := post(ts.URL+"/v1/contexts/tab-1/messages", `{not json`)
			Expect(status).To(Equal(http.StatusBadRequest))
			Expect(body).To(ContainSubstring("invalid"))

			status, _ = post(ts.URL+"/v1/contexts/tab-1/messages", `{"type":"SESSION_START"}`)
			Expect(status).To(Equal(http.StatusBadRequest))

			status, _ = post(ts.URL+"/v1/contexts/tab-1/messages", `{"type":"BOGUS"}`)
			Expect(status).To(Equal(http.StatusBadRequest))
		})

		It("reports duplicate session starts as conflicts", func() {
			status, _ := post(ts.URL+"/v1/contexts/tab-1/messages", `{"type":"SESSION_START","url":"https://x/s"}`)
			Expect(status).To(Equal(http.StatusAccepted))

			status, body := post(ts.URL+"/v1/contexts/tab-1/messages", `{"type":"SESSION_START","url":"https://x/s"}`)
			Expect(status).To(Equal(http.StatusConflict))
			Expect(body).To(ContainSubstring("duplicate"))
		})

		It("accepts events for unknown sessions without storing them", func() {
			status, _ := post(ts.URL+"/v1/contexts/tab-1/messages", `{"type":"EVENT_RECEIVED","requestId":"gone","data":"x"}`)
			Expect(status).To(Equal(http.StatusAccepted))

			sessions, err := agg.Sessions(ctx, "*")
			Expect(err).NotTo(HaveOccurred())
			Expect(sessions).To(BeEmpty())
		})
	})

	Describe("sessions", func() {
		BeforeEach(func() {
			Expect(agg.Deliver(ctx, "tab-1", protocol.SessionStart("a", "https://x/a", "GET", nil, capture.BodyParams{}))).To(Succeed())
			Expect(agg.Deliver(ctx, "tab-2", protocol.SessionStart("b", "https://x/b", "GET", nil, capture.BodyParams{}))).To(Succeed())
		})

		It("lists the sessions of one context", func() {
			var n protocol.Notification
			Expect(getJSON(ts.URL+"/v1/contexts/tab-1/sessions", &n)).To(Equal(http.StatusOK))
			Expect(n.Action).To(Equal(protocol.ActionAllSessions))
			Expect(n.Sessions).To(HaveLen(1))
			Expect(n.Sessions).To(HaveKey("a"))
		})

		It("answers an empty map for a context without sessions", func() {
			resp, err := http.Get(ts.URL + "/v1/contexts/tab-9/sessions")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			Expect(string(body)).To(ContainSubstring(`"sessions":{}`))
		})

		It("gets one session of a context", func() {
			var s capture.Session
			Expect(getJSON(ts.URL+"/v1/contexts/tab-1/sessions/a", &s)).To(Equal(http.StatusOK))
			Expect(s.URL).To(Equal("https://x/a"))

			Expect(getJSON(ts.URL+"/v1/contexts/tab-1/sessions/b", nil)).To(Equal(http.StatusNotFound))
			Expect(getJSON(ts.URL+"/v1/contexts/tab-1/sessions/zzz", nil)).To(Equal(http.StatusNotFound))
		})

		It("clears one context without touching others", func() {
			req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/contexts/tab-1/sessions", nil)
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			var n protocol.Notification
			Expect(json.NewDecoder(resp.Body).Decode(&n)).To(Succeed())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(n.Action).To(Equal(protocol.ActionAllSessions))
			Expect(n.Sessions).To(BeEmpty())

			left, err := agg.Sessions(ctx, "*")
			Expect(err).NotTo(HaveOccurred())
			Expect(left).To(HaveLen(1))
			Expect(left).To(HaveKey("b"))
		})
	})

	Describe("GET /v1/contexts", func() {
		It("lists contexts that loaded a content script", func() {
			status, _ := post(ts.URL+"/v1/contexts/tab-2/messages", `{"type":"CONTENT_SCRIPT_LOADED","url":"https://app/two"}`)
			Expect(status).To(Equal(http.StatusAccepted))
			status, _ = post(ts.URL+"/v1/contexts/tab-1/messages", `{"type":"CONTENT_SCRIPT_LOADED","url":"https://app/one"}`)
			Expect(status).To(Equal(http.StatusAccepted))

			var out ContextsResponse
			Expect(getJSON(ts.URL+"/v1/contexts", &out)).To(Equal(http.StatusOK))
			Expect(out.Contexts).To(HaveLen(2))
			Expect(out.Contexts[0].ContextID).To(Equal("tab-1"))
			Expect(out.Contexts[0].URL).To(Equal("https://app/one"))
			Expect(out.Contexts[1].ContextID).To(Equal("tab-2"))
		})
	})

	It("reports a closed aggregator as unavailable", func() {
		agg.Close()
		Expect(getJSON(ts.URL+"/v1/contexts/tab-1/sessions", nil)).To(Equal(http.StatusServiceUnavailable))
	})
})
