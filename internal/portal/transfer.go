package portal

import (
	"context"
	"io"
	"net/http"
	"net/url"
)

// Preflight asks which items would collide with existing destination files
func (s *Session) Preflight(ctx context.Context, items []PreflightItem) ([]Conflict, error) {
	token, err := s.requireToken()
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []PreflightItem{}
	}

	var resp PreflightResponse
	err = s.client.PostJSON(ctx, StagePreflight, s.client.portalURL(s.portalID, "preflight"), token, PreflightRequest{Items: items}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Conflicts == nil {
		return []Conflict{}, nil
	}
	return resp.Conflicts, nil
}

// InitUpload requests a transfer slot and returns where to PUT the bytes
func (s *Session) InitUpload(ctx context.Context, req TransferRequest) (*InitResponse, error) {
	token, err := s.requireToken()
	if err != nil {
		return nil, err
	}

	var resp InitResponse
	if err := s.client.PostJSON(ctx, StageInitialize, s.client.portalURL(s.portalID, "uploads"), token, req, &resp); err != nil {
		return nil, err
	}
	if resp.PutURL == "" {
		return nil, NewPortalError(StageInitialize, ErrorTypeAPI, 0, "initialize response missing put_url", nil)
	}
	return &resp, nil
}

// PutUpload streams body to putURL. The request declares exactly size
// bytes; the server rejects anything else. A nil error means the server
// confirmed receipt.
func (s *Session) PutUpload(ctx context.Context, putURL string, body io.Reader, size int64) (*CommitResponse, error) {
	token, err := s.requireToken()
	if err != nil {
		return nil, err
	}

	endpoint, err := s.client.ResolveURL(putURL)
	if err != nil {
		return nil, NewPortalError(StageTransfer, ErrorTypeAPI, 0, "invalid put_url", err)
	}

	if size == 0 || body == nil {
		body = http.NoBody
	} else if _, ok := body.(sizedReader); !ok {
		body = &fixedSizeReader{Reader: body, size: size}
	}

	resp, start, err := s.client.MakeRequest(ctx, s.client.stream, StageTransfer, http.MethodPut, endpoint, body, map[string]string{
		"Content-Type": "application/octet-stream",
		TokenHeader:    token,
	})
	if err != nil {
		return nil, err
	}

	var commit CommitResponse
	if _, err := s.client.ParseResponse(resp, StageTransfer, start, &commit); err != nil {
		return nil, err
	}
	return &commit, nil
}

// UploadStatus reports what the server knows about one upload
func (s *Session) UploadStatus(ctx context.Context, uploadID string) (*UploadStatusResponse, error) {
	endpoint := s.client.baseURL.ResolveReference(&url.URL{Path: "/api/uploads/" + uploadID + "/status"}).String()

	var resp UploadStatusResponse
	if err := s.client.GetJSON(ctx, StageStatus, endpoint, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type fixedSizeReader struct {
	io.Reader
	size int64
}

func (r *fixedSizeReader) Size() int64 {
	return r.size
}
