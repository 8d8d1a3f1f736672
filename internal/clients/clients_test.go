package clients

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/snapcase/pkg/models"
)

func TestRESTClientUploadFile(t *testing.T) {
	var gotPath, gotAuth, gotKind, gotFilename string
	var gotData []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")

		require.NoError(t, r.ParseMultipartForm(1<<20))
		gotKind = r.FormValue("kind")

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		gotFilename = header.Filename
		gotData, err = io.ReadAll(file)
		require.NoError(t, err)

		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewRESTClient(srv.URL, "tok-1")
	err := c.UploadFile(context.Background(), []byte("webm-bytes"), "recording_tab_x.webm", "case-7", models.ResultKindVideo)
	require.NoError(t, err)

	assert.Equal(t, "/api/cases/case-7/attachments", gotPath)
	assert.Equal(t, "Bearer tok-1", gotAuth)
	assert.Equal(t, string(models.ResultKindVideo), gotKind)
	assert.Equal(t, "recording_tab_x.webm", gotFilename)
	assert.Equal(t, []byte("webm-bytes"), gotData)
}

func TestRESTClientUploadFileRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewRESTClient(srv.URL, "tok-1")
	err := c.UploadFile(context.Background(), []byte("x"), "f.png", "case-1", models.ResultKindRegion)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestRESTClientUpdateMetadata(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewRESTClient(srv.URL, "tok-1")
	err := c.UpdateMetadata(context.Background(), "case-7", map[string]any{"last_capture": "f.png"})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPatch, gotMethod)
	assert.Equal(t, "/api/cases/case-7", gotPath)
	assert.Equal(t, "f.png", gotBody["last_capture"])
}

func TestRESTClientAuth(t *testing.T) {
	c := NewRESTClient("http://unused", "tok-1")
	assert.True(t, c.IsAuthenticated(context.Background()))
	tok, err := c.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	empty := NewRESTClient("http://unused", "")
	assert.False(t, empty.IsAuthenticated(context.Background()))
	_, err = empty.Token(context.Background())
	assert.Error(t, err)
}

type stubUpload struct {
	calls int
	err   error
	kind  models.ResultKind
}

func (s *stubUpload) UploadFile(_ context.Context, _ []byte, _, _ string, kind models.ResultKind) error {
	s.calls++
	s.kind = kind
	return s.err
}

type stubCases struct {
	calls   int
	err     error
	partial map[string]any
}

func (s *stubCases) UpdateMetadata(_ context.Context, _ string, partial map[string]any) error {
	s.calls++
	s.partial = partial
	return s.err
}

func TestUploaderResultStoresArtifactAndStampsCase(t *testing.T) {
	up := &stubUpload{}
	cs := &stubCases{}
	u := &Uploader{Upload: up, Cases: cs}

	payload := models.ResultPayload{CaseID: "case-1", Filename: "region_a.png", Data: []byte("png")}
	require.NoError(t, u.UploadResult(context.Background(), models.ResultKindRegion, payload))

	assert.Equal(t, 1, up.calls)
	assert.Equal(t, models.ResultKindRegion, up.kind)
	assert.Equal(t, 1, cs.calls)
	assert.Equal(t, "region_a.png", cs.partial["last_capture"])
}

func TestUploaderResultToleratesMetadataFailure(t *testing.T) {
	up := &stubUpload{}
	cs := &stubCases{err: errors.New("patch failed")}
	u := &Uploader{Upload: up, Cases: cs}

	payload := models.ResultPayload{CaseID: "case-1", Filename: "f.webm"}
	// The artifact landed; a metadata lag is not an upload failure.
	require.NoError(t, u.UploadResult(context.Background(), models.ResultKindVideo, payload))
	assert.Equal(t, 1, cs.calls)
}

func TestUploaderResultFailsOnUploadError(t *testing.T) {
	up := &stubUpload{err: errors.New("network down")}
	cs := &stubCases{}
	u := &Uploader{Upload: up, Cases: cs}

	payload := models.ResultPayload{CaseID: "case-1", Filename: "f.webm"}
	err := u.UploadResult(context.Background(), models.ResultKindVideo, payload)
	require.Error(t, err)
	assert.Equal(t, 0, cs.calls, "no metadata stamp after a failed upload")
}
