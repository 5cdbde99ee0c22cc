package sender

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/notifyd/notifyd/internal/domain/delivery"
	"github.com/notifyd/notifyd/internal/domain/webhook"
	"github.com/notifyd/notifyd/internal/safeurl"
	"github.com/notifyd/notifyd/internal/sign"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// allowAll resolves every host to a public address so tests can point
// webhook configs at the local httptest server.
type allowAll struct{}

func (allowAll) LookupIPAddr(context.Context, string) ([]net.IPAddr, error) {
	return []net.IPAddr{{IP: net.ParseIP("93.184.216.34")}}, nil
}

// hostAlias rewrites the request host back to the test server.
type hostAlias struct {
	target string
}

func (h hostAlias) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Host = h.target
	return http.DefaultTransport.RoundTrip(req)
}

func newTestSender(t *testing.T, ts *httptest.Server) *HTTPWebhookSender {
	t.Helper()
	u, err := url.Parse(ts.URL)
	require.NoError(t, err)

	s := NewHTTPWebhookSender(WebhookHTTPConfig{DefaultTimeout: 2 * time.Second},
		safeurl.NewValidator(allowAll{}), zap.NewNop())
	s.httpc = &http.Client{Transport: hostAlias{target: u.Host}}
	return s
}

func TestWebhookSend_SignsAndPosts(t *testing.T) {
	var gotSig, gotCT string
	var gotBody []byte
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(sign.Header)
		gotCT = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	s := newTestSender(t, ts)
	cfg := &webhook.Config{ID: 1, URL: "http://hooks.example.com/cb", Secret: "whsec_1"}
	payload := []byte(`{"event":"order.created","order_id":42}`)

	res, err := s.Send(context.Background(), cfg, payload)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, "application/json", gotCT)
	require.Equal(t, payload, gotBody)
	require.True(t, sign.Verify(payload, gotSig, "whsec_1"))
}

func TestWebhookSend_ServerErrorIsTransient(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer ts.Close()

	s := newTestSender(t, ts)
	cfg := &webhook.Config{ID: 2, URL: "http://hooks.example.com/cb", Secret: "s"}

	res, err := s.Send(context.Background(), cfg, []byte(`{}`))
	require.Error(t, err)
	require.Equal(t, http.StatusBadGateway, res.Code)

	var te *delivery.TransientError
	require.ErrorAs(t, err, &te)
	require.Equal(t, http.StatusBadGateway, te.Code)
}

func TestWebhookSend_ClientErrorIsPermanent(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad signature", http.StatusUnauthorized)
	}))
	defer ts.Close()

	s := newTestSender(t, ts)
	cfg := &webhook.Config{ID: 5, URL: "http://hooks.example.com/cb", Secret: "s"}

	res, err := s.Send(context.Background(), cfg, []byte(`{}`))
	require.Error(t, err)
	require.Equal(t, http.StatusUnauthorized, res.Code)
	require.True(t, delivery.IsPermanent(err))
}

func TestWebhookSend_TooManyRequestsIsTransient(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer ts.Close()

	s := newTestSender(t, ts)
	cfg := &webhook.Config{ID: 6, URL: "http://hooks.example.com/cb", Secret: "s"}

	_, err := s.Send(context.Background(), cfg, []byte(`{}`))
	require.Error(t, err)

	var te *delivery.TransientError
	require.ErrorAs(t, err, &te)
	require.Equal(t, http.StatusTooManyRequests, te.Code)
}

func TestWebhookSend_BlockedDestinationMakesNoCall(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	}))
	defer ts.Close()

	// Real validator: loopback destinations are rejected pre-flight.
	s := NewHTTPWebhookSender(WebhookHTTPConfig{}, safeurl.NewValidator(nil), zap.NewNop())
	cfg := &webhook.Config{ID: 3, URL: ts.URL, Secret: "s"} // 127.0.0.1

	_, err := s.Send(context.Background(), cfg, []byte(`{}`))
	require.Error(t, err)
	require.True(t, delivery.IsPermanent(err))
	require.Zero(t, calls.Load(), "blocked destination must not be contacted")
}

func TestWebhookSend_TimeoutIsTransient(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer ts.Close()

	s := newTestSender(t, ts)
	cfg := &webhook.Config{ID: 4, URL: "http://hooks.example.com/cb", Secret: "s",
		Timeout: 50 * time.Millisecond}

	_, err := s.Send(context.Background(), cfg, []byte(`{}`))
	require.Error(t, err)
	require.False(t, delivery.IsPermanent(err))
}
