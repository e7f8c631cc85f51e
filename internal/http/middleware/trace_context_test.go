package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/docingest-backend/internal/http/response"
	"github.com/yungbote/docingest-backend/internal/platform/ctxutil"
)

func TestAttachTraceContext(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		name        string
		reqID       string
		traceID     string
		wantReqID   string
		wantTraceID string
	}{
		{name: "client ids kept", reqID: "req-1", traceID: "trace-1", wantReqID: "req-1", wantTraceID: "trace-1"},
		{name: "trace falls back to request id", reqID: "req-2", wantReqID: "req-2", wantTraceID: "req-2"},
		{name: "oversized id replaced", reqID: strings.Repeat("x", maxClientIDLen+1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			r.Use(AttachTraceContext())
			var seen *ctxutil.TraceData
			r.GET("/x", func(c *gin.Context) {
				seen = ctxutil.GetTraceData(c.Request.Context())
				c.Status(http.StatusNoContent)
			})
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			if tc.reqID != "" {
				req.Header.Set(headerRequestID, tc.reqID)
			}
			if tc.traceID != "" {
				req.Header.Set(headerTraceID, tc.traceID)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			if seen == nil || seen.RequestID == "" || seen.TraceID == "" {
				t.Fatalf("trace data = %+v", seen)
			}
			if tc.wantReqID != "" && seen.RequestID != tc.wantReqID {
				t.Fatalf("request id = %q, want %q", seen.RequestID, tc.wantReqID)
			}
			if tc.wantReqID == "" && seen.RequestID == tc.reqID {
				t.Fatalf("oversized request id was kept")
			}
			if tc.wantTraceID != "" && seen.TraceID != tc.wantTraceID {
				t.Fatalf("trace id = %q, want %q", seen.TraceID, tc.wantTraceID)
			}
			if rec.Header().Get(headerRequestID) != seen.RequestID {
				t.Fatalf("response header = %q", rec.Header().Get(headerRequestID))
			}
		})
	}
}

func TestRespondErrorHidesServerDetail(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AttachTraceContext())
	r.GET("/client", func(c *gin.Context) {
		response.RespondError(c, http.StatusBadRequest, "bad", errors.New("limit must be positive"))
	})
	r.GET("/server", func(c *gin.Context) {
		response.RespondError(c, http.StatusInternalServerError, "boom", errors.New("dial tcp 10.0.0.7:5432: refused"))
	})

	for path, want := range map[string]string{"/client": "limit must be positive", "/server": "Internal Server Error"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set(headerRequestID, "rid")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		var env response.ErrorEnvelope
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("%s: decode: %v", path, err)
		}
		if env.Error.Message != want || env.Error.RequestID != "rid" {
			t.Fatalf("%s: body = %+v", path, env.Error)
		}
	}
}
