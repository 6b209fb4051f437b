package soar

import (
	"bufio"
	"bytes"
	"context"
	_ "crypto/sha256" // registers digest.Canonical
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gabriel-vasile/mimetype"
	"github.com/opencontainers/go-digest"
)

// VaultService uploads files to the SOAR vault.
type VaultService interface {
	// Upload sends the content of r to the vault under name. With a
	// non-zero containerID the file is attached to that container;
	// otherwise SOAR imports it as a container export.
	Upload(ctx context.Context, name string, r io.Reader, containerID int64) (*VaultUpload, error)

	// UploadFile uploads the file at path as Upload does.
	UploadFile(ctx context.Context, path string, containerID int64) (*VaultUpload, error)
}

// VaultUpload describes a completed vault upload.
type VaultUpload struct {
	UploadID    string        `json:"upload_id"`
	Name        string        `json:"name"`
	ContentType string        `json:"content_type"`
	Size        int64         `json:"size"`
	Digest      digest.Digest `json:"digest"`
}

// vaultService implements VaultService.
type vaultService struct {
	gw      Gateway
	restURL string
}

func newVaultService(gw Gateway, restURL string) *vaultService {
	return &vaultService{gw: gw, restURL: restURL}
}

// UploadFile uploads the file at path.
func (s *vaultService) UploadFile(ctx context.Context, path string, containerID int64) (*VaultUpload, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("soar: vault upload: %w", err)
	}
	defer func() { _ = f.Close() }()

	return s.Upload(ctx, filepath.Base(path), f, containerID)
}

// Upload runs SOAR's two-step chunked upload: the file goes to
// upload_chunked, then upload_chunked_complete confirms it by sha256.
func (s *vaultService) Upload(ctx context.Context, name string, r io.Reader, containerID int64) (*VaultUpload, error) {
	if name == "" {
		return nil, validationError("vault upload needs a file name")
	}
	if r == nil {
		return nil, validationError("vault upload %q has no content", name)
	}

	br := bufio.NewReader(r)
	head, _ := br.Peek(512)
	contentType := mimetype.Detect(head).String()

	digester := digest.Canonical.Digester()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if containerID != 0 {
		if err := mw.WriteField("container_id", strconv.FormatInt(containerID, 10)); err != nil {
			return nil, err
		}
	}
	part, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Disposition": {fmt.Sprintf(`form-data; name="file"; filename=%q`, name)},
		"Content-Type":        {contentType},
	})
	if err != nil {
		return nil, err
	}
	size, err := io.Copy(part, io.TeeReader(br, digester.Hash()))
	if err != nil {
		return nil, fmt.Errorf("soar: reading %s: %w", name, err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	headers := http.Header{"Content-Type": {mw.FormDataContentType()}}
	query := Query{}
	if containerID != 0 {
		if s.restURL != "" {
			headers.Set("Referer", s.restURL+"/mission/"+strconv.FormatInt(containerID, 10)+"/analyst/files/")
		}
	} else {
		query["import_container"] = true
	}

	var reply map[string]any
	if err := s.gw.Send(ctx, &Request{
		Method:  http.MethodPost,
		Path:    "upload_chunked",
		Query:   query,
		Body:    &body,
		Headers: headers,
		Root:    true,
	}, &reply); err != nil {
		return nil, err
	}
	uploadID := uploadRef(reply["upload_id"])
	if uploadID == "" {
		return nil, errors.New("soar: upload_chunked reply carried no upload_id")
	}

	sum := digester.Digest()
	form := url.Values{"upload_id": {uploadID}, "sha256": {sum.Encoded()}}
	if err := s.gw.Send(ctx, &Request{
		Method:  http.MethodPost,
		Path:    "upload_chunked_complete",
		Body:    bytes.NewBufferString(form.Encode()),
		Headers: http.Header{"Content-Type": {"application/x-www-form-urlencoded"}},
		Root:    true,
	}, nil); err != nil {
		return nil, fmt.Errorf("soar: completing upload %s: %w", uploadID, err)
	}

	return &VaultUpload{
		UploadID:    uploadID,
		Name:        name,
		ContentType: contentType,
		Size:        size,
		Digest:      sum,
	}, nil
}

func uploadRef(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case nil:
		return ""
	}
	if n, ok := toInt(v); ok {
		return strconv.FormatInt(n, 10)
	}
	return fmt.Sprint(v)
}
