package session

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/go-chi/chi/v5"

	"sabr-processor/internal/platform/metrics"
	"sabr-processor/internal/sabr"
)

func newTestRouter(t *testing.T, maxChunkBytes int) *chi.Mux {
	t.Helper()
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	svc := NewService(NewInMemoryRepository(), log, 100, 0)
	h := NewHandler(svc, log, nil, maxChunkBytes)
	r := chi.NewRouter()
	h.Routes(r)
	return r
}

func createSession(t *testing.T, r http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sessions", nil))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session: expected 201, got %d", rec.Code)
	}
	var resp struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil || resp.SessionID == "" {
		t.Fatalf("create session: bad body %v", err)
	}
	return resp.SessionID
}

func postChunk(r http.Handler, id string, body []byte, encoding string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/sessions/"+id+"/chunks", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/vnd.yt-ump")
	if encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

type feedBody struct {
	Parts       []PartView  `json:"parts"`
	Errors      []ErrorView `json:"errors"`
	ServerError *ErrorView  `json:"server_error"`
}

func decodeFeed(t *testing.T, rec *httptest.ResponseRecorder) feedBody {
	t.Helper()
	var body feedBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode feed response: %v", err)
	}
	return body
}

func TestHandler_CreateSession(t *testing.T) {
	r := newTestRouter(t, 0)
	createSession(t, r)

	t.Run("with_options", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/sessions", strings.NewReader(`{"live_segment_tolerance_ms": 300}`))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusCreated {
			t.Errorf("expected 201, got %d", rec.Code)
		}
	})

	t.Run("bad_request", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/sessions", strings.NewReader("not json"))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})
}

func TestHandler_FeedChunk(t *testing.T) {
	r := newTestRouter(t, 0)
	id := createSession(t, r)

	rec := postChunk(r, id, segmentBytes(1, 1, []byte("segment")), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeFeed(t, rec)
	if len(body.Parts) != 3 || len(body.Errors) != 0 {
		t.Fatalf("unexpected response: %+v", body)
	}
	data := body.Parts[1]
	if data.Kind != "media_segment_data" || data.Size == nil || *data.Size != 7 || data.Format != testFormat.String() {
		t.Errorf("unexpected data part: %+v", data)
	}
	end := body.Parts[2]
	if end.ContentLength == nil || *end.ContentLength != 7 || end.SequenceNumber == nil || *end.SequenceNumber != 1 {
		t.Errorf("unexpected end part: %+v", end)
	}
}

func TestHandler_FeedChunk_mismatch(t *testing.T) {
	r := newTestRouter(t, 0)
	id := createSession(t, r)
	postChunk(r, id, segmentBytes(1, 1, nil), "")

	rec := postChunk(r, id, segmentBytes(2, 4, nil), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeFeed(t, rec)
	if len(body.Errors) != 1 {
		t.Fatalf("expected one error, got %+v", body.Errors)
	}
	e := body.Errors[0]
	if e.Type != "sequence_mismatch" || *e.Expected != 2 || *e.Received != 4 {
		t.Errorf("unexpected error view: %+v", e)
	}
}

func TestHandler_FeedChunk_compressed(t *testing.T) {
	r := newTestRouter(t, 0)
	id := createSession(t, r)
	raw := segmentBytes(1, 1, bytes.Repeat([]byte("x"), 1024))

	var br bytes.Buffer
	bw := brotli.NewWriter(&br)
	bw.Write(raw[:len(raw)/2])
	bw.Close()
	rec := postChunk(r, id, br.Bytes(), "br")
	if rec.Code != http.StatusOK {
		t.Fatalf("br: expected 200, got %d", rec.Code)
	}

	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	gw.Write(raw[len(raw)/2:])
	gw.Close()
	rec = postChunk(r, id, gz.Bytes(), "gzip")
	if rec.Code != http.StatusOK {
		t.Fatalf("gzip: expected 200, got %d", rec.Code)
	}
	body := decodeFeed(t, rec)
	if n := len(body.Parts); n == 0 || body.Parts[n-1].Kind != "media_segment_end" {
		t.Errorf("expected segment to complete after second chunk, got %+v", body.Parts)
	}

	rec = postChunk(r, id, raw, "deflate")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unsupported encoding: expected 400, got %d", rec.Code)
	}
}

func TestHandler_FeedChunk_malformed(t *testing.T) {
	r := newTestRouter(t, 0)
	id := createSession(t, r)

	rec := postChunk(r, id, []byte{0x00, 0x01, 0x00}, "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	var body errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Error.Type != "malformed" || body.Error.Offset == nil || *body.Error.Offset != 0 {
		t.Errorf("unexpected error body: %+v", body.Error)
	}
}

func TestHandler_FeedChunk_too_large(t *testing.T) {
	r := newTestRouter(t, 64)
	id := createSession(t, r)

	rec := postChunk(r, id, segmentBytes(1, 1, make([]byte, 128)), "")
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", rec.Code)
	}

	// Small on the wire, large once decompressed.
	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	gw.Write(make([]byte, 4096))
	gw.Close()
	rec = postChunk(r, id, gz.Bytes(), "gzip")
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("decompressed over limit: expected 413, got %d", rec.Code)
	}
}

func TestHandler_FeedChunk_session_states(t *testing.T) {
	r := newTestRouter(t, 0)

	rec := postChunk(r, "missing", segmentBytes(1, 1, nil), "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}

	id := createSession(t, r)
	end := httptest.NewRecorder()
	r.ServeHTTP(end, httptest.NewRequest(http.MethodPost, "/sessions/"+id+"/end", nil))
	if end.Code != http.StatusOK {
		t.Fatalf("end session: expected 200, got %d", end.Code)
	}

	rec = postChunk(r, id, segmentBytes(1, 1, nil), "")
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 after session ended, got %d", rec.Code)
	}
}

func TestHandler_FeedChunk_server_error(t *testing.T) {
	r := newTestRouter(t, 0)
	id := createSession(t, r)

	var b []byte
	b = sabr.AppendMessage(b, &sabr.SabrRedirect{URL: "https://example.test/sabr"})
	b = sabr.AppendMessage(b, &sabr.SabrError{Type: "sabr.config", Code: 5})
	rec := postChunk(r, id, b, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeFeed(t, rec)
	if len(body.Parts) != 1 || body.Parts[0].URL != "https://example.test/sabr" {
		t.Errorf("expected redirect part, got %+v", body.Parts)
	}
	if body.ServerError == nil || body.ServerError.Type != "server_error" || *body.ServerError.Code != 5 {
		t.Errorf("expected server error view, got %+v", body.ServerError)
	}
}

func TestHandler_AbrState(t *testing.T) {
	r := newTestRouter(t, 0)
	id := createSession(t, r)
	postChunk(r, id, segmentBytes(1, 1, []byte("a")), "")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/"+id+"/abr-state", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var state sabr.ClientAbrState
	if err := json.NewDecoder(rec.Body).Decode(&state); err != nil {
		t.Fatal(err)
	}
	if len(state.BufferedRanges) != 1 || state.BufferedRanges[0].Format != testFormat {
		t.Errorf("unexpected state: %+v", state)
	}

	t.Run("proto", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/"+id+"/abr-state?format=proto", nil))
		if rec.Header().Get("Content-Type") != protobufContentType {
			t.Errorf("expected protobuf content type, got %s", rec.Header().Get("Content-Type"))
		}
		decoded, err := sabr.DecodeRequestBody(rec.Body.Bytes())
		if err != nil || len(decoded.BufferedRanges) != 1 {
			t.Errorf("DecodeRequestBody: %+v, %v", decoded, err)
		}
	})

	t.Run("put_json", func(t *testing.T) {
		state.PlayerTimeMs = 12345
		b, _ := json.Marshal(state)
		req := httptest.NewRequest(http.MethodPut, "/sessions/"+id+"/abr-state", bytes.NewReader(b))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", rec.Code)
		}
	})

	t.Run("put_proto", func(t *testing.T) {
		body := sabr.EncodeRequestBody(sabr.ClientAbrState{PlayerTimeMs: 777, PlaybackRate: 2})
		req := httptest.NewRequest(http.MethodPut, "/sessions/"+id+"/abr-state", bytes.NewReader(body))
		req.Header.Set("Content-Type", protobufContentType)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", rec.Code)
		}

		get := httptest.NewRecorder()
		r.ServeHTTP(get, httptest.NewRequest(http.MethodGet, "/sessions/"+id+"/abr-state", nil))
		var got sabr.ClientAbrState
		json.NewDecoder(get.Body).Decode(&got)
		if got.PlayerTimeMs != 777 || got.PlaybackRate != 2 {
			t.Errorf("unexpected state after put: %+v", got)
		}
	})

	t.Run("put_bad_body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPut, "/sessions/"+id+"/abr-state", strings.NewReader("{"))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("not_found", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/missing/abr-state", nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})
}

func TestHandler_GetSession(t *testing.T) {
	r := newTestRouter(t, 0)
	id := createSession(t, r)
	postChunk(r, id, segmentBytes(1, 1, []byte("a")), "")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/"+id, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var st Status
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if string(st.ID) != id || st.State != "awaiting_header" || st.Ended {
		t.Errorf("unexpected status: %+v", st)
	}
}

func TestHandler_EndSession(t *testing.T) {
	r := newTestRouter(t, 0)
	id := createSession(t, r)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sessions/"+id+"/end", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("end %d: expected 200, got %d", i, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sessions/missing/end", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_metrics(t *testing.T) {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	met := metrics.New()
	svc := NewService(NewInMemoryRepository(), log, 100, 0)
	r := chi.NewRouter()
	NewHandler(svc, log, met, 0).Routes(r)

	a := createSession(t, r)
	first := segmentBytes(1, 1, []byte("abc"))
	skipped := segmentBytes(2, 3, []byte("b"))
	postChunk(r, a, first, "")
	postChunk(r, a, skipped, "")
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sessions/"+a+"/end", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("end %d: expected 200, got %d", i, rec.Code)
		}
	}

	b := createSession(t, r)
	sabrErr := sabr.AppendMessage(nil, &sabr.SabrError{Type: "sabr.policy", Code: 2})
	if rec := postChunk(r, b, sabrErr, ""); rec.Code != http.StatusOK {
		t.Fatalf("server error chunk: expected 200, got %d", rec.Code)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sessions/"+b+"/end", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("end after server error: expected 200, got %d", rec.Code)
	}

	c := createSession(t, r)
	bad := []byte{0x00, 0x01, 0x00}
	if rec := postChunk(r, c, bad, ""); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("malformed chunk: expected 422, got %d", rec.Code)
	}

	scrape := httptest.NewRecorder()
	met.Handler(func() { met.SetActiveSessions(svc.ActiveSessionCount()) }).ServeHTTP(scrape, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(scrape.Body)
	out := string(body)

	total := len(first) + len(skipped) + len(sabrErr) + len(bad)
	for _, want := range []string{
		`sabr_sessions_created_total 3`,
		`sabr_sessions_ended_total 2`,
		`sabr_active_sessions 1`,
		`sabr_server_errors_total 1`,
		fmt.Sprintf(`sabr_bytes_ingested_total %d`, total),
		`sabr_parts_emitted_total{kind="format_initialized"} 1`,
		`sabr_parts_emitted_total{kind="media_segment_data"} 1`,
		`sabr_parts_emitted_total{kind="media_segment_end"} 1`,
		`sabr_stream_errors_total{type="sequence_mismatch"} 1`,
		`sabr_stream_errors_total{type="malformed"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
