package proxy

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func wrapForTest(absolute string) string {
	q := url.Values{}
	q.Set("url", absolute)
	return "/proxy/video?" + q.Encode()
}

func TestRewriteManifestSegments(t *testing.T) {
	base, _ := url.Parse("https://cdn.example/stream/master.m3u8")
	manifest := strings.Join([]string{
		"#EXTM3U",
		"#EXT-X-VERSION:3",
		"#EXTINF:4.0,",
		"segment001.ts",
		"#EXTINF:4.0,",
		"/other/segment002.ts",
		"#EXTINF:4.0,",
		"https://other-cdn.example/segment003.ts",
	}, "\n")

	out := string(rewriteManifest([]byte(manifest), base, wrapForTest))
	lines := strings.Split(out, "\n")

	require.Equal(t, "#EXTM3U", lines[0])
	require.Equal(t, wrapForTest("https://cdn.example/stream/segment001.ts"), lines[3])
	require.Equal(t, wrapForTest("https://cdn.example/other/segment002.ts"), lines[5])
	require.Equal(t, wrapForTest("https://other-cdn.example/segment003.ts"), lines[7])
}

func TestRewriteManifestKeyURI(t *testing.T) {
	base, _ := url.Parse("https://cdn.example/stream/media.m3u8")
	manifest := `#EXT-X-KEY:METHOD=AES-128,URI="key.bin",IV=0x0123`

	out := string(rewriteManifest([]byte(manifest), base, wrapForTest))
	require.Contains(t, out, `URI="`+wrapForTest("https://cdn.example/stream/key.bin")+`"`)
	require.Contains(t, out, "IV=0x0123")
}

func TestRewriteManifestVariantPlaylists(t *testing.T) {
	base, _ := url.Parse("https://cdn.example/master.m3u8")
	manifest := strings.Join([]string{
		"#EXTM3U",
		"#EXT-X-STREAM-INF:BANDWIDTH=800000",
		"low/index.m3u8",
		"#EXT-X-STREAM-INF:BANDWIDTH=2500000",
		"high/index.m3u8",
	}, "\n")

	out := string(rewriteManifest([]byte(manifest), base, wrapForTest))
	require.Contains(t, out, wrapForTest("https://cdn.example/low/index.m3u8"))
	require.Contains(t, out, wrapForTest("https://cdn.example/high/index.m3u8"))
}

func TestIsManifest(t *testing.T) {
	require.True(t, isManifest("application/vnd.apple.mpegurl", ""))
	require.True(t, isManifest("audio/mpegurl", ""))
	require.True(t, isManifest("", "https://cdn.example/x.m3u8?token=1"))
	require.False(t, isManifest("video/mp2t", "https://cdn.example/seg.ts"))
}
