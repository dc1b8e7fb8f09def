package handle

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/jwtauth"
	"github.com/google/uuid"

	"card-ledger/api/internal/card"
	"card-ledger/api/internal/extract"
	"card-ledger/api/internal/ledger"
	"card-ledger/api/internal/store"
	"card-ledger/api/internal/workflow"
)

// flowFake mimics the orchestrator: no image short-circuits, otherwise the
// configured outcome is returned.
type flowFake struct {
	out  workflow.Outcome
	subs []workflow.Submission
}

func (f *flowFake) Submit(_ context.Context, sub workflow.Submission) workflow.Outcome {
	f.subs = append(f.subs, sub)
	if len(sub.Image) == 0 {
		return workflow.Outcome{ID: uuid.New(), Status: workflow.StatusNoImage}
	}
	out := f.out
	out.ID = uuid.New()
	return out
}

type journalFake struct {
	items []store.Submission
	err   error
	limit int
}

func (j *journalFake) Recent(_ context.Context, limit int) ([]store.Submission, error) {
	j.limit = limit
	return j.items, j.err
}

func successOutcome() workflow.Outcome {
	rec := card.Record{ChineseName: "王小明", Email: "ming@example.com"}
	link := ledger.LinkCell("https://drive.example/abc")
	return workflow.Outcome{
		Status:   workflow.StatusSuccess,
		Record:   rec,
		FileName: "名片_王小明_20260309_140507.jpg",
		Link:     "https://drive.example/abc",
		Row:      ledger.BuildRow(1, rec, "note", time.Date(2026, 3, 9, 14, 5, 7, 0, time.Local), &link),
	}
}

func newServer(t *testing.T, flow *flowFake, opts Options, ropts RouterOptions) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewRouter(New(flow, opts), ropts))
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any, header http.Header) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, url, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s error = %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response) SubmitResponse {
	t.Helper()
	var out SubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestSubmitCardJSONSuccess(t *testing.T) {
	flow := &flowFake{out: successOutcome()}
	srv := newServer(t, flow, Options{}, RouterOptions{})

	img := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte("jpeg-bytes"))
	resp := postJSON(t, srv.URL+"/v1/cards", SubmitRequest{ImageB64: img, Note: " 展覽認識 "}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	out := decode(t, resp)
	if out.Status != "success" || out.FileName != "名片_王小明_20260309_140507.jpg" {
		t.Fatalf("unexpected response %+v", out)
	}
	if out.Record == nil || out.Record.ChineseName != "王小明" {
		t.Fatalf("expected extracted record, got %+v", out.Record)
	}
	if len(out.Row) != 12 || out.Row[11] != `=HYPERLINK("https://drive.example/abc","名片連結")` {
		t.Fatalf("unexpected row %v", out.Row)
	}

	sub := flow.subs[0]
	if string(sub.Image) != "jpeg-bytes" || sub.Note != "展覽認識" || sub.Source != "api" {
		t.Fatalf("unexpected submission %+v", sub)
	}
}

func TestSubmitCardStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		out  workflow.Outcome
		img  string
		want int
	}{
		{name: "no image", img: "", want: http.StatusBadRequest},
		{
			name: "quota",
			out:  workflow.Outcome{Status: workflow.StatusQuotaExceeded, ErrorKind: "quota_exceeded", Err: extract.ErrQuotaExceeded},
			img:  base64.StdEncoding.EncodeToString([]byte("x")),
			want: http.StatusTooManyRequests,
		},
		{
			name: "extraction failed",
			out:  workflow.Outcome{Status: workflow.StatusExtractionFailed, ErrorKind: "network", Err: errors.New("dial tcp")},
			img:  base64.StdEncoding.EncodeToString([]byte("x")),
			want: http.StatusBadGateway,
		},
		{
			name: "write failed",
			out:  workflow.Outcome{Status: workflow.StatusWriteFailed, ErrorKind: workflow.KindLedger, Err: errors.New("denied")},
			img:  base64.StdEncoding.EncodeToString([]byte("x")),
			want: http.StatusBadGateway,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t, &flowFake{out: tt.out}, Options{}, RouterOptions{})
			resp := postJSON(t, srv.URL+"/v1/cards", SubmitRequest{ImageB64: tt.img}, nil)
			if resp.StatusCode != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, resp.StatusCode)
			}
			out := decode(t, resp)
			if out.Message == "" || out.Status == "" {
				t.Fatalf("expected status and message, got %+v", out)
			}
		})
	}
}

func TestSubmitCardRejectsBadInput(t *testing.T) {
	srv := newServer(t, &flowFake{}, Options{}, RouterOptions{})

	resp := postJSON(t, srv.URL+"/v1/cards", SubmitRequest{ImageB64: "%%%"}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad base64, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/cards", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	r2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer r2.Body.Close()
	if r2.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad json, got %d", r2.StatusCode)
	}
}

func TestSubmitCardTooLarge(t *testing.T) {
	srv := newServer(t, &flowFake{}, Options{MaxUploadBytes: 1024}, RouterOptions{})
	big := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte("a"), 8<<10))
	resp := postJSON(t, srv.URL+"/v1/cards", SubmitRequest{ImageB64: big}, nil)
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", resp.StatusCode)
	}
}

func multipartBody(t *testing.T, fields map[string]string, image []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	if image != nil {
		fw, err := mw.CreateFormFile("image", "card.jpg")
		if err != nil {
			t.Fatal(err)
		}
		_, _ = fw.Write(image)
	}
	_ = mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestSubmitCardMultipart(t *testing.T) {
	flow := &flowFake{out: successOutcome()}
	srv := newServer(t, flow, Options{}, RouterOptions{})

	body, ct := multipartBody(t, map[string]string{"note": "客戶"}, []byte("jpeg"))
	resp, err := http.Post(srv.URL+"/v1/cards", ct, body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if string(flow.subs[0].Image) != "jpeg" || flow.subs[0].Note != "客戶" {
		t.Fatalf("unexpected submission %+v", flow.subs[0])
	}
}

func TestPageRoundAdvancesOnlyOnSuccess(t *testing.T) {
	flow := &flowFake{out: successOutcome()}
	srv := newServer(t, flow, Options{}, RouterOptions{})

	body, ct := multipartBody(t, map[string]string{"round": "4", "note": "n"}, []byte("jpeg"))
	resp, err := http.Post(srv.URL+"/", ct, body)
	if err != nil {
		t.Fatal(err)
	}
	page, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(page), `name="round" value="5"`) {
		t.Fatalf("expected round 5 after success:\n%s", page)
	}
	if !strings.Contains(string(page), "王小明") || !strings.Contains(string(page), "名片_王小明_20260309_140507.jpg") {
		t.Fatalf("expected record and file name in page")
	}
	if flow.subs[0].Source != "web" {
		t.Fatalf("expected web source, got %q", flow.subs[0].Source)
	}

	body, ct = multipartBody(t, map[string]string{"round": "5", "note": "keep me"}, nil)
	resp, err = http.Post(srv.URL+"/", ct, body)
	if err != nil {
		t.Fatal(err)
	}
	page, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing image, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(page), `name="round" value="5"`) || !strings.Contains(string(page), `value="keep me"`) {
		t.Fatalf("expected unchanged round and note after failure:\n%s", page)
	}
}

func TestPageGet(t *testing.T) {
	srv := newServer(t, &flowFake{}, Options{}, RouterOptions{})
	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	page, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(page), "AI 名片掃描器") {
		t.Fatalf("unexpected page %d", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	srv := newServer(t, &flowFake{}, Options{Ping: func(context.Context) error { return errors.New("down") }}, RouterOptions{})
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestRecentSubmissions(t *testing.T) {
	srv := newServer(t, &flowFake{}, Options{}, RouterOptions{})
	resp, err := http.Get(srv.URL + "/v1/submissions")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 without journal, got %d", resp.StatusCode)
	}

	j := &journalFake{items: []store.Submission{{ID: uuid.New(), Status: "success"}}}
	srv = newServer(t, &flowFake{}, Options{Journal: j}, RouterOptions{})
	resp, err = http.Get(srv.URL + "/v1/submissions?limit=5")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var items []store.Submission
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || j.limit != 5 {
		t.Fatalf("unexpected items %v limit %d", items, j.limit)
	}
}

func TestJWTProtectsAPI(t *testing.T) {
	const secret = "test-secret"
	srv := newServer(t, &flowFake{out: successOutcome()}, Options{}, RouterOptions{JWTSecret: secret})
	img := base64.StdEncoding.EncodeToString([]byte("x"))

	resp := postJSON(t, srv.URL+"/v1/cards", SubmitRequest{ImageB64: img}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	_, token, err := jwtauth.New("HS256", []byte(secret), nil).Encode(map[string]interface{}{"sub": "tester"})
	if err != nil {
		t.Fatal(err)
	}
	resp = postJSON(t, srv.URL+"/v1/cards", SubmitRequest{ImageB64: img}, http.Header{"Authorization": {"Bearer " + token}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", resp.StatusCode)
	}
}

func TestRateLimit(t *testing.T) {
	srv := newServer(t, &flowFake{}, Options{}, RouterOptions{RateLimit: 1})

	first := postJSON(t, srv.URL+"/v1/cards", SubmitRequest{}, nil)
	second := postJSON(t, srv.URL+"/v1/cards", SubmitRequest{}, nil)
	if first.StatusCode != http.StatusBadRequest || second.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 400 then 429, got %d then %d", first.StatusCode, second.StatusCode)
	}
}

func getBody(t *testing.T, url string, header http.Header) (int, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(b)
}

func TestArchiveFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "名片_王小明_20260309_140507.jpg"), []byte("jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}
	srv := newServer(t, &flowFake{}, Options{}, RouterOptions{ArchiveDir: dir})
	file := srv.URL + "/archive/" + url.PathEscape("名片_王小明_20260309_140507.jpg")

	if code, body := getBody(t, file, nil); code != http.StatusOK || body != "jpeg" {
		t.Fatalf("unexpected archive response %d %q", code, body)
	}
	if code, body := getBody(t, srv.URL+"/archive/", nil); code != http.StatusNotFound || strings.Contains(body, "王小明") {
		t.Fatalf("directory listing must not be served, got %d %q", code, body)
	}
}

func TestArchiveFilesRequireToken(t *testing.T) {
	const secret = "test-secret"
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.jpg"), []byte("jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}
	srv := newServer(t, &flowFake{}, Options{}, RouterOptions{ArchiveDir: dir, JWTSecret: secret})

	if code, _ := getBody(t, srv.URL+"/archive/a.jpg", nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", code)
	}
	if code, _ := getBody(t, srv.URL+"/archive/", nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for listing without token, got %d", code)
	}

	_, token, err := jwtauth.New("HS256", []byte(secret), nil).Encode(map[string]interface{}{"sub": "tester"})
	if err != nil {
		t.Fatal(err)
	}
	code, body := getBody(t, srv.URL+"/archive/a.jpg", http.Header{"Authorization": {"Bearer " + token}})
	if code != http.StatusOK || body != "jpeg" {
		t.Fatalf("unexpected archive response with token %d %q", code, body)
	}
}

func TestMetricsMounted(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("cards_up 1"))
	})
	srv := newServer(t, &flowFake{}, Options{}, RouterOptions{Metrics: metrics})
	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if string(b) != "cards_up 1" {
		t.Fatalf("unexpected metrics body %q", b)
	}
}
