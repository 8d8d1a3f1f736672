// Package clients holds the coordinator's contracts with its external
// collaborators: authentication, artifact upload, and case metadata. Only
// the interface boundary lives here; retry policy and account management
// belong to the services behind it.
package clients

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/snapcase/pkg/models"
)

// AuthClient supplies bearer tokens for the storage API.
type AuthClient interface {
	Token(ctx context.Context) (string, error)
	IsAuthenticated(ctx context.Context) bool
}

// UploadClient pushes a captured artifact into case storage.
type UploadClient interface {
	UploadFile(ctx context.Context, data []byte, filename, caseID string, kind models.ResultKind) error
}

// CaseClient patches case metadata after an upload.
type CaseClient interface {
	UpdateMetadata(ctx context.Context, caseID string, partial map[string]any) error
}

// Uploader bundles the three collaborators behind the one call the
// coordinator makes on a completed capture.
type Uploader struct {
	Auth   AuthClient
	Upload UploadClient
	Cases  CaseClient
}

// UploadResult stores the artifact under its case and stamps the case
// metadata with the latest capture.
func (u *Uploader) UploadResult(ctx context.Context, kind models.ResultKind, payload models.ResultPayload) error {
	if u.Auth != nil && !u.Auth.IsAuthenticated(ctx) {
		return fmt.Errorf("not authenticated")
	}
	if err := u.Upload.UploadFile(ctx, payload.Data, payload.Filename, payload.CaseID, kind); err != nil {
		return fmt.Errorf("upload %s: %w", payload.Filename, err)
	}
	if u.Cases != nil {
		partial := map[string]any{
			"last_capture":      payload.Filename,
			"last_capture_kind": string(kind),
			"last_capture_at":   time.Now().Format(time.RFC3339),
		}
		if err := u.Cases.UpdateMetadata(ctx, payload.CaseID, partial); err != nil {
			// The artifact is safely stored; metadata lag is tolerable.
			log.Warn().Err(err).Str("caseId", payload.CaseID).Msg("Case metadata update failed")
		}
	}
	return nil
}

// RESTClient implements the collaborator interfaces against the storage API.
type RESTClient struct {
	BaseURL     string
	BearerToken string
	HTTP        *http.Client
}

// NewRESTClient builds a client with sane timeouts.
func NewRESTClient(baseURL, token string) *RESTClient {
	return &RESTClient{
		BaseURL:     baseURL,
		BearerToken: token,
		HTTP:        &http.Client{Timeout: 60 * time.Second},
	}
}

// IsAuthenticated implements AuthClient.
func (c *RESTClient) IsAuthenticated(_ context.Context) bool {
	return c.BearerToken != ""
}

// Token implements AuthClient.
func (c *RESTClient) Token(_ context.Context) (string, error) {
	if c.BearerToken == "" {
		return "", fmt.Errorf("no token configured")
	}
	return c.BearerToken, nil
}

// UploadFile implements UploadClient with a multipart POST.
func (c *RESTClient) UploadFile(ctx context.Context, data []byte, filename, caseID string, kind models.ResultKind) error {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	_ = form.WriteField("kind", string(kind))
	if err := form.Close(); err != nil {
		return err
	}

	url := fmt.Sprintf("%s/api/cases/%s/attachments", c.BaseURL, caseID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.BearerToken)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("upload rejected: %s: %s", resp.Status, snippet)
	}
	return nil
}

// UpdateMetadata implements CaseClient with a PATCH.
func (c *RESTClient) UpdateMetadata(ctx context.Context, caseID string, partial map[string]any) error {
	payload, err := json.Marshal(partial)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/api/cases/%s", c.BaseURL, caseID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.BearerToken)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("metadata update rejected: %s", resp.Status)
	}
	return nil
}
