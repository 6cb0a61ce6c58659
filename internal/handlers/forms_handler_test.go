package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/MattCarneiro/forms/internal/forms"
)

type memStore struct {
	data map[string][]byte
}

func (m *memStore) Get(ctx context.Context, key string) ([]byte, error) {
	raw, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	return raw, nil
}

func (m *memStore) Set(ctx context.Context, key string, value []byte) error {
	m.data[key] = value
	return nil
}

func (m *memStore) Del(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	var out []string
	for k := range m.data {
		if ok, _ := path.Match(pattern, k); ok {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *memStore) Publish(ctx context.Context, channel string, payload []byte) error {
	return nil
}

type memQueue struct{ published int }

func (q *memQueue) Publish(ctx context.Context, body []byte) error {
	q.published++
	return nil
}

type memBlobs struct{}

func (memBlobs) DeletePrefix(ctx context.Context, prefix string) error { return nil }

func newTestRouter() (*gin.Engine, *memQueue) {
	gin.SetMode(gin.TestMode)
	q := &memQueue{}
	svc := forms.NewService(&memStore{data: map[string][]byte{}}, q, memBlobs{}, forms.ServiceConfig{
		BaseURL:            "https://forms.example.com",
		AllowedFormats:     []string{"pdf"},
		MaxFileSize:        1 << 20,
		DefaultRedirectURL: "https://example.com/default",
	})
	r := gin.New()
	RegisterFormRoutes(r, svc)
	return r, q
}

func doJSON(t *testing.T, r *gin.Engine, method, url string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(method, url, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func createForm(t *testing.T, r *gin.Engine) string {
	t.Helper()
	w := doJSON(t, r, http.MethodPost, "/api/forms", map[string]any{
		"type": "onboarding", "ownerId": "o1", "subId": "s1",
		"fields": []string{"RG", "CPF"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("create returned %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	return resp.URL
}

func uploadFile(t *testing.T, r *gin.Engine, formPath, field, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("field", field)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte(content))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, formPath, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateAndFetchForm(t *testing.T) {
	r, _ := newTestRouter()
	url := createForm(t, r)

	formPath := strings.TrimPrefix(url, "https://forms.example.com")
	req := httptest.NewRequest(http.MethodGet, formPath, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("get form returned %d", w.Code)
	}
	var rec forms.Record
	if err := json.Unmarshal(w.Body.Bytes(), &rec); err != nil {
		t.Fatal(err)
	}
	if len(rec.Fields) != 2 || rec.Fields[0] != "rg" {
		t.Fatalf("fields = %v", rec.Fields)
	}
}

func TestCreateForm_ValidationFailure(t *testing.T) {
	r, _ := newTestRouter()
	w := doJSON(t, r, http.MethodPost, "/api/forms", map[string]any{
		"type": "onboarding", "ownerId": "o1", "subId": "s1",
		"fields": []string{"Endereço", "endereco"},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("duplicate fields returned %d", w.Code)
	}
}

func TestUploadEndpoint(t *testing.T) {
	r, q := newTestRouter()
	url := createForm(t, r)
	formPath := strings.TrimPrefix(url, "https://forms.example.com")

	w := uploadFile(t, r, formPath, "RG", "rg.pdf", "%PDF-")
	if w.Code != http.StatusAccepted {
		t.Fatalf("upload returned %d: %s", w.Code, w.Body.String())
	}
	if q.published != 1 {
		t.Fatalf("published %d jobs", q.published)
	}

	// Disallowed extension is a 400 with no job published.
	w = uploadFile(t, r, formPath, "CPF", "cpf.exe", "MZ")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad extension returned %d", w.Code)
	}
	if q.published != 1 {
		t.Fatal("rejected upload published a job")
	}
}

func TestUpload_UnknownFormIs404(t *testing.T) {
	r, _ := newTestRouter()
	w := uploadFile(t, r, "/forms/t/o/s/unknown", "rg", "rg.pdf", "x")
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown form returned %d", w.Code)
	}
}

func TestFetchUnknownFormRedirects(t *testing.T) {
	r, _ := newTestRouter()
	req := httptest.NewRequest(http.MethodGet, "/forms/t/o/s/unknown", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusFound {
		t.Fatalf("unknown form returned %d, want redirect", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "https://example.com/default" {
		t.Fatalf("redirect location = %q", loc)
	}
}

func TestDeleteForm(t *testing.T) {
	r, _ := newTestRouter()
	url := createForm(t, r)

	w := doJSON(t, r, http.MethodDelete, "/api/forms", map[string]string{"link": url})
	if w.Code != http.StatusOK {
		t.Fatalf("delete returned %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodDelete, "/api/forms", map[string]string{"link": url})
	if w.Code != http.StatusNotFound {
		t.Fatalf("second delete returned %d, want 404", w.Code)
	}
}

func TestListForms(t *testing.T) {
	r, _ := newTestRouter()
	createForm(t, r)

	req := httptest.NewRequest(http.MethodGet, "/api/forms", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("list returned %d", w.Code)
	}
	var resp struct {
		Forms []forms.Record `json:"forms"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Forms) != 1 {
		t.Fatalf("listed %d forms", len(resp.Forms))
	}
}
