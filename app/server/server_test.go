package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docetl/service"
	"docetl/types"
)

type fakeRunner struct {
	got []types.RunParams
	err error
}

func (f *fakeRunner) Run(_ context.Context, p types.RunParams) (types.RunResult, error) {
	f.got = append(f.got, p)
	if f.err != nil {
		return types.RunResult{Phase: p.Phase}, f.err
	}
	return types.RunResult{Phase: p.Phase, Rows: 3}, nil
}

const mappingCSV = `Source FieldName,Target FieldName,Target DataType,Target Default Value
SourceDocumentID,SourceDocumentID,string,
Title,Title,string,Untitled
ScanDate,,date,ScanDate
`

func newTestServer(t *testing.T, runner *fakeRunner) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	mappingFile := filepath.Join(dir, "etl_config.csv")
	require.NoError(t, os.WriteFile(mappingFile, []byte(mappingCSV), 0o644))
	cfg := &types.Config{MappingFile: mappingFile, Source: types.SourceConfig{FieldLimit: 2}}
	uploads := filepath.Join(dir, "uploads")
	return NewServer(":0", cfg, runner, uploads), uploads
}

func do(t *testing.T, s *Server, req *http.Request) (int, map[string]any) {
	t.Helper()
	resp, err := s.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(body) > 0 {
		require.NoError(t, json.Unmarshal(body, &out), string(body))
	}
	return resp.StatusCode, out
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestHealthy(t *testing.T) {
	s, _ := newTestServer(t, &fakeRunner{})
	code, body := do(t, s, httptest.NewRequest(http.MethodGet, "/check/healthy", nil))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["result"])
}

func TestGetMappings(t *testing.T) {
	s, _ := newTestServer(t, &fakeRunner{})
	code, body := do(t, s, httptest.NewRequest(http.MethodGet, "/api/v1/mappings", nil))
	require.Equal(t, http.StatusOK, code)

	assert.Equal(t, []any{"sourcedocumentid", "title"}, body["requested_fields"])
	mappings, ok := body["mappings"].([]any)
	require.True(t, ok)
	require.Len(t, mappings, 3)
	last := mappings[2].(map[string]any)
	assert.Equal(t, "ScanDate", last["target_field"])
	assert.Equal(t, "date", last["target_type"])
}

func TestGetMappings_MissingFile(t *testing.T) {
	s := NewServer(":0", &types.Config{MappingFile: filepath.Join(t.TempDir(), "nope.csv")}, &fakeRunner{}, t.TempDir())
	code, body := do(t, s, httptest.NewRequest(http.MethodGet, "/api/v1/mappings", nil))
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["error"], "config error")
}

func TestRunPhase(t *testing.T) {
	runner := &fakeRunner{}
	s, _ := newTestServer(t, runner)

	code, body := do(t, s, jsonRequest(http.MethodPost, "/api/v1/runs/load", `{"table":"documents","replace":true}`))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "load", body["phase"])
	assert.EqualValues(t, 3, body["rows"])

	require.Len(t, runner.got, 1)
	assert.Equal(t, types.RunParams{Phase: types.PhaseLoad, Table: "documents", Replace: true}, runner.got[0])
}

func TestRunPhase_NoBody(t *testing.T) {
	runner := &fakeRunner{}
	s, _ := newTestServer(t, runner)

	code, _ := do(t, s, httptest.NewRequest(http.MethodPost, "/api/v1/runs/EMBED", nil))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, types.PhaseEmbed, runner.got[0].Phase)
}

func TestRunPhase_Validation(t *testing.T) {
	runner := &fakeRunner{}
	s, _ := newTestServer(t, runner)

	tests := []struct {
		name  string
		path  string
		field string
	}{
		{"unknown phase", "/api/v1/runs/publish", "Phase"},
		{"book without pdf", "/api/v1/runs/book", "PDFPath"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := do(t, s, jsonRequest(http.MethodPost, tt.path, `{}`))
			assert.Equal(t, http.StatusUnprocessableEntity, code)
			errs, ok := body["errors"].(map[string]any)
			require.True(t, ok)
			assert.Contains(t, errs, tt.field)
		})
	}
	assert.Empty(t, runner.got)
}

func TestRunPhase_BadJSON(t *testing.T) {
	s, _ := newTestServer(t, &fakeRunner{})
	code, body := do(t, s, jsonRequest(http.MethodPost, "/api/v1/runs/load", `{"table":`))
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid JSON request", body["error"])
}

func TestRunPhase_ErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"busy", service.ErrBusy, http.StatusConflict},
		{"schema", types.SchemaErrorf("schema check", "documents", "description column missing"), http.StatusUnprocessableEntity},
		{"config", types.ConfigErrorf("embed", "DEST_TABLE is not set"), http.StatusBadRequest},
		{"connection", types.NewError(types.ErrConnection, "ping", io.EOF), http.StatusBadGateway},
		{"commit", types.NewError(types.ErrCommit, "commit", io.EOF), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t, &fakeRunner{err: tt.err})
			code, body := do(t, s, jsonRequest(http.MethodPost, "/api/v1/runs/embed", `{}`))
			assert.Equal(t, tt.code, code)
			assert.EqualValues(t, tt.code, body["code"])
		})
	}
}

func multipartBook(t *testing.T, name string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-1.4 fake"))
	require.NoError(t, err)
	require.NoError(t, w.WriteField("table", "documents"))
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/books", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestUploadBook(t *testing.T) {
	runner := &fakeRunner{}
	s, uploads := newTestServer(t, runner)

	code, body := do(t, s, multipartBook(t, "manual.pdf"))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "book", body["phase"])

	require.Len(t, runner.got, 1)
	assert.Equal(t, types.PhaseBook, runner.got[0].Phase)
	assert.Equal(t, "documents", runner.got[0].Table)
	assert.Equal(t, filepath.Join(uploads, "manual.pdf"), runner.got[0].PDFPath)
	assert.FileExists(t, runner.got[0].PDFPath)
}

func TestUploadBook_RejectsNonPDF(t *testing.T) {
	runner := &fakeRunner{}
	s, _ := newTestServer(t, runner)

	code, _ := do(t, s, multipartBook(t, "notes.txt"))
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Empty(t, runner.got)
}
