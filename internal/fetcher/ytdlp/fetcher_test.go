package ytdlp

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mgrall/collector/internal/collector"
)

// stubScript mimics yt-dlp: a metadata dump on --dump-single-json, a fake
// download with progress lines otherwise.
const stubScript = `#!/bin/sh
prev=""
out=""
for a in "$@"; do
  if [ "$prev" = "-o" ]; then out="$a"; fi
  prev="$a"
done
case "$*" in
  *dump-single-json*)
    echo '{"title":"Stub Video","id":"abc123","uploader":"stub"}'
    exit 0
    ;;
esac
dir=$(dirname "$out")
mkdir -p "$dir"
printf 'video-bytes' > "$dir/Stub Video.mp4"
echo '[download]  25.0% of 10MiB'
echo '[download] 100% of 10MiB'
exit 0
`

const failScript = `#!/bin/sh
echo 'ERROR: unsupported URL' >&2
exit 1
`

func writeStub(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "yt-dlp-stub")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestScrapeWithStubBinary(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	f := New(Config{
		Binary:   writeStub(t, stubScript),
		Root:     root,
		Platform: collector.PlatformYouTube,
	})

	var percents []int
	result, err := f.Scrape(context.Background(), "job-1", "https://youtube.com/watch?v=abc123",
		func(p int, _ string) { percents = append(percents, p) })
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, "Stub Video", result.Title)
	require.Equal(t, "abc123", result.Metadata["id"])

	byType := map[collector.FileType]int{}
	for _, file := range result.Files {
		byType[file.Type]++
		require.False(t, filepath.IsAbs(file.Path))
	}
	require.Equal(t, 1, byType[collector.FileTypeVideo])
	require.Equal(t, 1, byType[collector.FileTypeMetadata])

	// 25% and 100% download lines land inside the 20..90 band.
	require.Contains(t, percents, 37)
	require.Contains(t, percents, 90)
	require.Equal(t, 100, percents[len(percents)-1])
}

func TestScrapeNilProgress(t *testing.T) {
	t.Parallel()

	f := New(Config{
		Binary:   writeStub(t, stubScript),
		Root:     t.TempDir(),
		Platform: collector.PlatformYouTube,
	})

	result, err := f.Scrape(context.Background(), "job-1", "https://youtube.com/watch?v=abc123", nil)
	require.NoError(t, err)
	require.True(t, result.Success)
}

func TestScrapeBinaryFailure(t *testing.T) {
	t.Parallel()

	f := New(Config{
		Binary:   writeStub(t, failScript),
		Root:     t.TempDir(),
		Platform: collector.PlatformInstagram,
	})
	result, err := f.Scrape(context.Background(), "job-1", "https://instagram.com/p/abc/",
		func(int, string) {})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported URL")
	require.False(t, result.Success)
}

func TestParseProgress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line string
		pct  float64
		ok   bool
	}{
		{"[download]  42.3% of 10MiB at 2MiB/s", 42.3, true},
		{"[download] 100% of 10MiB", 100, true},
		{"[download] Destination: video.mp4", 0, false},
		{"[info] Writing metadata", 0, false},
	}
	for _, tt := range tests {
		pct, ok := parseProgress(tt.line)
		require.Equal(t, tt.ok, ok, tt.line)
		if ok {
			require.InDelta(t, tt.pct, pct, 0.001, tt.line)
		}
	}
}

func TestScaleProgress(t *testing.T) {
	t.Parallel()

	require.Equal(t, 20, scaleProgress(0))
	require.Equal(t, 55, scaleProgress(50))
	require.Equal(t, 90, scaleProgress(100))
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := map[string]collector.FileType{
		"a/video.mp4":     collector.FileTypeVideo,
		"a/audio.m4a":     collector.FileTypeAudio,
		"a/thumb.webp":    collector.FileTypeImage,
		"a/subs.en.vtt":   collector.FileTypeTranscript,
		"a/metadata.json": collector.FileTypeMetadata,
	}
	for path, want := range tests {
		require.Equal(t, want, classify(path), path)
	}
}
