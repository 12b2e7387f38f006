package api

import (
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BTreeMap/InsureGuide/internal/testutil"
)

func TestWriteJSONResponseEncodingFailure(t *testing.T) {
	rr := httptest.NewRecorder()
	writeJSONResponse(rr, http.StatusOK, map[string]float64{"bad": math.NaN()})

	testutil.AssertHTTPStatus(t, http.StatusInternalServerError, rr.Code, "unencodable response")
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("unexpected content type %q", ct)
	}
	testutil.AssertJSONResponse(t, rr, "error")
}

func TestWriteError(t *testing.T) {
	rr := httptest.NewRecorder()
	writeError(rr, http.StatusBadRequest, "nope")
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "error envelope")
	if resp := testutil.AssertJSONResponse(t, rr, "error"); resp["message"] != "nope" {
		t.Errorf("unexpected message %v", resp["message"])
	}
}
