package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRegister_IsIdempotentAndExposed(t *testing.T) {
	Register()
	Register()

	IngestDecisions.WithLabelValues(DecisionAllow).Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "iptrack_ingest_decisions_total") {
		t.Fatalf("decision counter not exposed")
	}
}
