package wavelet

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
)

const avatarBucket = "avatars"

// BlobClient uploads binary objects (currently avatars) to the storage
// endpoint and derives their public URLs.
type BlobClient struct {
	c *Client
}

func newBlobClient(c *Client) *BlobClient {
	return &BlobClient{c: c}
}

var blobExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// UploadAvatar stores the image under the owner's folder with a fresh name
// and returns the public URL to put in the profile. Failures are WriteErrors.
func (b *BlobClient) UploadAvatar(ctx context.Context, ownerID string, data []byte, contentType string) (string, error) {
	if len(data) == 0 {
		return "", &WriteError{Op: "upload avatar", Err: fmt.Errorf("empty image")}
	}
	ext, ok := blobExtensions[contentType]
	if !ok {
		return "", &WriteError{Op: "upload avatar", Err: fmt.Errorf("unsupported content type %q", contentType)}
	}

	objectPath := fmt.Sprintf("%s/%s/%s%s", avatarBucket, ownerID, uuid.NewString(), ext)
	u := b.c.baseURL + "/storage/v1/object/" + objectPath

	req, err := http.NewRequestWithContext(ctx, "POST", u, bytes.NewReader(data))
	if err != nil {
		return "", &WriteError{Op: "upload avatar", Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("apikey", b.c.anonKey)
	req.Header.Set("Authorization", "Bearer "+b.c.token())

	resp, err := b.c.httpClient.Do(req)
	if err != nil {
		return "", &WriteError{Op: "upload avatar", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return "", &WriteError{Op: "upload avatar", Err: fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))}
	}

	return b.c.baseURL + "/storage/v1/object/public/" + objectPath, nil
}
