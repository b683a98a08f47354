package openai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// VectorStoreSpec describes the knowledge base the assistant retrieves from.
type VectorStoreSpec struct {
	Name string
	// Files are local paths uploaded when the store is first created.
	Files           []string
	ExpireAfterDays int
}

type VectorStore struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	FileCount int    `json:"-"`
}

type vectorStoreList struct {
	Data    []VectorStore `json:"data"`
	HasMore bool          `json:"has_more"`
	LastID  string        `json:"last_id"`
}

// EnsureVectorStore finds a non-expired vector store named spec.Name, or creates one
// and attaches spec.Files to it.
func (c *Client) EnsureVectorStore(ctx context.Context, spec VectorStoreSpec) (VectorStore, error) {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return VectorStore{}, fmt.Errorf("vector store name required")
	}

	existing, err := c.findVectorStore(ctx, name)
	if err != nil {
		return VectorStore{}, fmt.Errorf("list vector stores: %w", err)
	}
	if existing != nil {
		c.log.Info("Using existing vector store", "vector_store_id", existing.ID, "name", name)
		return *existing, nil
	}

	create := map[string]any{"name": name}
	if spec.ExpireAfterDays > 0 {
		create["expires_after"] = map[string]any{"anchor": "last_active_at", "days": spec.ExpireAfterDays}
	}
	var vs VectorStore
	if err := c.doJSON(ctx, http.MethodPost, "/v1/vector_stores", create, &vs); err != nil {
		return VectorStore{}, fmt.Errorf("create vector store: %w", err)
	}
	if strings.TrimSpace(vs.ID) == "" {
		return VectorStore{}, fmt.Errorf("create vector store: missing id")
	}

	for _, path := range spec.Files {
		fileID, err := c.uploadFile(ctx, path)
		if err != nil {
			return VectorStore{}, fmt.Errorf("upload %s: %w", filepath.Base(path), err)
		}
		if err := c.doJSON(ctx, http.MethodPost, "/v1/vector_stores/"+vs.ID+"/files", map[string]any{"file_id": fileID}, nil); err != nil {
			return VectorStore{}, fmt.Errorf("attach %s: %w", filepath.Base(path), err)
		}
		vs.FileCount++
	}
	c.log.Info("Created vector store", "vector_store_id", vs.ID, "name", name, "files", vs.FileCount)
	return vs, nil
}

func (c *Client) findVectorStore(ctx context.Context, name string) (*VectorStore, error) {
	after := ""
	for page := 0; page < 20; page++ {
		path := "/v1/vector_stores?limit=100"
		if after != "" {
			path += "&after=" + after
		}
		var list vectorStoreList
		if err := c.doJSON(ctx, http.MethodGet, path, nil, &list); err != nil {
			return nil, err
		}
		for i := range list.Data {
			vs := list.Data[i]
			if vs.Name == name && vs.Status != "expired" {
				return &vs, nil
			}
		}
		if !list.HasMore || list.LastID == "" {
			return nil, nil
		}
		after = list.LastID
	}
	return nil, nil
}

func (c *Client) uploadFile(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	_ = writer.WriteField("purpose", "assistants")
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/files", buf.Bytes(), writer.FormDataContentType(), &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.ID) == "" {
		return "", fmt.Errorf("upload: missing file id")
	}
	return out.ID, nil
}
