package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fabfab/kb-chat/chat"
	"github.com/fabfab/kb-chat/config"
	"github.com/fabfab/kb-chat/extract"
	"github.com/fabfab/kb-chat/knowledge"
	"github.com/fabfab/kb-chat/llm"
	"github.com/fabfab/kb-chat/suggest"
)

type stubClient struct {
	result llm.Result
	err    error
}

func (s *stubClient) Generate(ctx context.Context, req llm.Request) (llm.Result, error) {
	return s.result, s.err
}

func (s *stubClient) Suggest(ctx context.Context, urls, documentTexts []string) (string, error) {
	return `{"suggestions":["q1"]}`, nil
}

var _ llm.Client = (*stubClient)(nil)

func newTestServer(t *testing.T, client llm.Client) *Server {
	t.Helper()

	logger := log.New(io.Discard, "", 0)
	store, err := knowledge.NewStore(context.Background(), extract.New(), nil, logger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fetcher := suggest.NewFetcher(client, time.Second, logger)
	session := chat.NewSession(store, client, fetcher, time.Second, logger)

	cfg := config.Config{LLM: config.LLMConfig{Provider: config.ProviderGemini}}
	return New(cfg, store, session, fetcher, logger)
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, &stubClient{})

	rec := doJSON(t, s, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, s, http.MethodPost, "/healthz", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestStateEndpoint(t *testing.T) {
	s := newTestServer(t, &stubClient{})

	rec := doJSON(t, s, http.MethodGet, "/v1/state", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	state := decodeBody[stateResponse](t, rec)
	if len(state.Groups) != 1 {
		t.Fatalf("expected 1 seed group, got %d", len(state.Groups))
	}
	if state.ActiveGroupID != state.Groups[0].ID {
		t.Fatal("active group id does not match the seed group")
	}
	if len(state.Messages) != 1 {
		t.Fatalf("expected 1 welcome message, got %d", len(state.Messages))
	}
}

func TestCreateGroup(t *testing.T) {
	s := newTestServer(t, &stubClient{})

	rec := doJSON(t, s, http.MethodPost, "/v1/groups", createGroupRequest{Name: "Research"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	group := decodeBody[knowledge.Group](t, rec)
	if group.Name != "Research" || group.ID == "" {
		t.Fatalf("unexpected group: %+v", group)
	}

	rec = doJSON(t, s, http.MethodPost, "/v1/groups", createGroupRequest{Name: "   "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank name, got %d", rec.Code)
	}
}

func TestAddURLValidationSurfaced(t *testing.T) {
	s := newTestServer(t, &stubClient{})
	groupID := s.store.ActiveGroupID()

	rec := doJSON(t, s, http.MethodPost, "/v1/groups/"+groupID+"/urls", urlRequest{URL: "not a url"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[errorResponse](t, rec)
	if resp.Code != string(knowledge.CodeInvalidURL) {
		t.Fatalf("expected code invalid_url, got %q", resp.Code)
	}

	rec = doJSON(t, s, http.MethodPost, "/v1/groups/"+groupID+"/urls", urlRequest{URL: "https://a.example/x"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s, http.MethodPost, "/v1/groups/"+groupID+"/urls", urlRequest{URL: "https://a.example/x"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for duplicate, got %d", rec.Code)
	}
	resp = decodeBody[errorResponse](t, rec)
	if resp.Code != string(knowledge.CodeDuplicateURL) {
		t.Fatalf("expected code duplicate_url, got %q", resp.Code)
	}
}

func TestActivateUnknownGroup(t *testing.T) {
	s := newTestServer(t, &stubClient{})

	rec := doJSON(t, s, http.MethodPost, "/v1/groups/unknown/activate", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestDeleteActiveGroupResetsChatLog(t *testing.T) {
	s := newTestServer(t, &stubClient{result: llm.Result{Text: "the answer"}})
	seedID := s.store.ActiveGroupID()

	rec := doJSON(t, s, http.MethodPost, "/v1/groups", createGroupRequest{Name: "Research"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	group := decodeBody[knowledge.Group](t, rec)

	rec = doJSON(t, s, http.MethodPost, "/v1/groups/"+group.ID+"/activate", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s, http.MethodPost, "/v1/chat", chatRequest{Query: "hello"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s, http.MethodDelete, "/v1/groups/"+group.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s, http.MethodGet, "/v1/state", nil)
	state := decodeBody[stateResponse](t, rec)
	if state.ActiveGroupID != seedID {
		t.Fatalf("expected active pointer back on %q, got %q", seedID, state.ActiveGroupID)
	}
	if len(state.Messages) != 1 || state.Messages[0].Sender != chat.SenderSystem {
		t.Fatalf("expected a single fresh welcome message, got %+v", state.Messages)
	}
}

func TestChatEndpoint(t *testing.T) {
	s := newTestServer(t, &stubClient{result: llm.Result{Text: "the answer"}})

	rec := doJSON(t, s, http.MethodPost, "/v1/chat", chatRequest{Query: "   "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty query, got %d", rec.Code)
	}

	rec = doJSON(t, s, http.MethodPost, "/v1/chat", chatRequest{Query: "hello"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	body := decodeBody[map[string][]chat.Message](t, rec)
	messages := body["messages"]
	if len(messages) != 3 {
		t.Fatalf("expected welcome+user+model, got %d messages", len(messages))
	}
	if messages[2].Text != "the answer" {
		t.Fatalf("unexpected model text: %q", messages[2].Text)
	}
}

func TestUploadRejectsUnsupportedExtension(t *testing.T) {
	s := newTestServer(t, &stubClient{})
	groupID := s.store.ActiveGroupID()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "notes.txt")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write([]byte("plain text")); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/v1/groups/%s/documents", groupID), &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[errorResponse](t, rec)
	if resp.Code != "unsupported_format" {
		t.Fatalf("expected code unsupported_format, got %q", resp.Code)
	}
	if !strings.Contains(resp.Error, "unsupported") {
		t.Fatalf("unexpected error message: %q", resp.Error)
	}
}

func TestRemoveURL(t *testing.T) {
	s := newTestServer(t, &stubClient{})
	groupID := s.store.ActiveGroupID()

	rec := doJSON(t, s, http.MethodPost, "/v1/groups/"+groupID+"/urls", urlRequest{URL: "https://a.example/x"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, s, http.MethodDelete, "/v1/groups/"+groupID+"/urls", urlRequest{URL: "https://a.example/x"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	groups := s.store.Groups()
	if len(groups[0].URLs) != 0 {
		t.Fatalf("expected url removed, got %+v", groups[0].URLs)
	}
}
