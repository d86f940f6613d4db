package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"
	"time"
)

// DefaultMaxSize caps attachment payloads at 64 MiB, matching the upper bound
// of what WhatsApp accepts for media.
const DefaultMaxSize = 64 << 20

// Payload is a loaded attachment ready to hand to the account client.
type Payload struct {
	Data     []byte
	MIME     string
	FileName string
}

// Loader loads attachment sources from local paths or http(s) URLs.
type Loader struct {
	httpClient *http.Client
	maxSize    int64
}

// NewLoader creates a loader with a 30s HTTP timeout and the default size cap.
func NewLoader() *Loader {
	return &Loader{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		maxSize:    DefaultMaxSize,
	}
}

// Load reads the attachment source into memory. Sources starting with http://
// or https:// are fetched over HTTP; everything else is treated as a local
// file path.
func (l *Loader) Load(ctx context.Context, source string) (*Payload, error) {
	if source == "" {
		return nil, fmt.Errorf("empty media source")
	}

	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return l.loadURL(ctx, source)
	}
	return l.loadFile(source)
}

func (l *Loader) loadFile(p string) (*Payload, error) {
	info, err := os.Stat(p)
	if err != nil {
		return nil, fmt.Errorf("stat media file: %w", err)
	}
	if info.Size() > l.maxSize {
		return nil, fmt.Errorf("media file %s exceeds size limit (%d bytes)", p, l.maxSize)
	}

	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read media file: %w", err)
	}

	return &Payload{
		Data:     data,
		MIME:     http.DetectContentType(data),
		FileName: path.Base(p),
	}, nil
}

func (l *Loader) loadURL(ctx context.Context, rawURL string) (*Payload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create media request: %w", err)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch media: HTTP %d from %s", resp.StatusCode, rawURL)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, l.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read media body: %w", err)
	}
	if int64(len(data)) > l.maxSize {
		return nil, fmt.Errorf("media at %s exceeds size limit (%d bytes)", rawURL, l.maxSize)
	}

	mime := resp.Header.Get("Content-Type")
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(data)
	}

	name := path.Base(req.URL.Path)
	if name == "/" || name == "." {
		name = "attachment"
	}

	return &Payload{Data: data, MIME: mime, FileName: name}, nil
}
