package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArticleFetcher_ReadsMetadata(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, defaultUserAgent, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html lang="en"><head><title>Cells</title>
<meta name="description" content="Basic biology"></head>
<body><script>var x = 1;</script>
<p>Cells are   the basic unit of life.</p>
</body></html>`))
	}))
	defer server.Close()

	doc, err := NewArticleFetcher(0).Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "Cells are the basic unit of life.", doc.Content)
	assert.Equal(t, server.URL, doc.Metadata["source"])
	assert.Equal(t, "Cells", doc.Metadata["title"])
	assert.Equal(t, "Basic biology", doc.Metadata["description"])
	assert.Equal(t, "en", doc.Metadata["language"])
}

func TestArticleFetcher_CapsPageSize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body><p>Mitosis has four phases.</p>\n<p>" +
			strings.Repeat("filler ", 2000) + "</p>\n<p>unreachable tail</p></body></html>"))
	}))
	defer server.Close()

	f := NewArticleFetcher(0)
	f.maxBytes = 1024

	doc, err := f.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(doc.Content, "Mitosis has four phases."))
	assert.NotContains(t, doc.Content, "unreachable tail")
}
