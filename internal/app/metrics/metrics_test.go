package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                           "/",
		"/healthz":                   "/healthz",
		"/games/coin/requests/42":    "/games/:game/requests",
		"/games/dice":                "/games/:game",
		"/lottery/results/9":         "/lottery/results",
		"/treasury/balances/alice/0": "/treasury/balances",
		"/admin":                     "/admin",
	}
	for in, want := range cases {
		if got := canonicalPath(in); got != want {
			t.Fatalf("%q: expected %q, got %q", in, want, got)
		}
	}
}

func TestRecordSettlementCountsPayoutOnlyOnWin(t *testing.T) {
	before := testutil.ToFloat64(payoutUnits.WithLabelValues("metrics-test"))
	RecordSettlement("metrics-test", false, 500)
	RecordSettlement("metrics-test", true, 700)

	if got := testutil.ToFloat64(payoutUnits.WithLabelValues("metrics-test")) - before; got != 700 {
		t.Fatalf("expected 700 payout units, got %v", got)
	}
	if got := testutil.ToFloat64(betsSettled.WithLabelValues("metrics-test", "lost")); got != 1 {
		t.Fatalf("expected one loss, got %v", got)
	}
}

func TestInstrumentHandlerExposesRequests(t *testing.T) {
	h := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/games/coin/settle", nil))

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `path="/games/:game/settle",status="418"`) {
		t.Fatalf("request not recorded:\n%s", rec.Body.String())
	}
}
