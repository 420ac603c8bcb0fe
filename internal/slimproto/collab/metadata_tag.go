package collab

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/dhowden/tag"

	slimerrors "github.com/syncbeam/slimproto/internal/errors"
)

// TagMetadata resolves now-playing tags by range-fetching enough of a
// streaming URL's bytes to decode its embedded tag block. It only handles
// file:// and http(s):// URLs whose container format dhowden/tag supports
// (ID3, MP4, FLAC, OGG). For http(s) only the first 256 KiB is read, so a
// tag block stored later in the stream is not found.
type TagMetadata struct {
	Client *http.Client
}

// NewTagMetadata builds a TagMetadata using http.DefaultClient.
func NewTagMetadata() *TagMetadata {
	return &TagMetadata{Client: http.DefaultClient}
}

// Lookup implements MetadataSource.
func (m *TagMetadata) Lookup(ctx context.Context, url string) (title, artist, album string, err error) {
	if strings.HasPrefix(url, "file://") {
		return m.lookupFile(strings.TrimPrefix(url, "file://"))
	}
	return m.lookupHTTP(ctx, url)
}

func (m *TagMetadata) lookupFile(path string) (string, string, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", "", slimerrors.NewCommandError("metadata.lookup", "", "file-open-failed", err)
	}
	defer f.Close()
	md, err := tag.ReadFrom(f)
	if err != nil {
		return "", "", "", slimerrors.NewCommandError("metadata.lookup", "", "tag-decode-failed", err)
	}
	return md.Title(), md.Artist(), md.Album(), nil
}

func (m *TagMetadata) lookupHTTP(ctx context.Context, url string) (string, string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", "", err
	}
	const maxTagFetchBytes = 256 << 10
	req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", maxTagFetchBytes-1))
	client := m.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", "", "", slimerrors.NewCommandError("metadata.lookup", "", "fetch-failed", err)
	}
	defer resp.Body.Close()
	head, err := io.ReadAll(io.LimitReader(resp.Body, maxTagFetchBytes))
	if err != nil {
		return "", "", "", slimerrors.NewCommandError("metadata.lookup", "", "fetch-failed", err)
	}
	md, err := tag.ReadFrom(bytes.NewReader(head))
	if err != nil {
		return "", "", "", slimerrors.NewCommandError("metadata.lookup", "", "tag-decode-failed", err)
	}
	return md.Title(), md.Artist(), md.Album(), nil
}
