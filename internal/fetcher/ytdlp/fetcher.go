// Package ytdlp adapts the yt-dlp binary to the fetcher contract for the
// youtube and instagram platforms. The binary does the real work; this
// package shells out, maps its progress lines into the progress callback,
// and records whatever files it produced.
package ytdlp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mgrall/collector/internal/collector"
)

// Config controls the adapter.
type Config struct {
	// Binary is the yt-dlp executable, looked up on PATH when relative.
	Binary string
	// Root is the download root artifacts are written under.
	Root string
	// Platform names the subdirectory artifacts land in (youtube, instagram).
	Platform collector.Platform
	// Timeout bounds one fetch end to end; zero means no limit.
	Timeout   time.Duration
	UserAgent string
	Logger    *zap.Logger
}

// Fetcher implements collector.Fetcher by shelling out to yt-dlp.
type Fetcher struct {
	cfg    Config
	logger *zap.Logger
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Binary == "" {
		cfg.Binary = "yt-dlp"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{cfg: cfg, logger: logger}
}

// progressLine matches yt-dlp's "[download]  42.3% of ..." output.
var progressLine = regexp.MustCompile(`\[download\]\s+(\d+(?:\.\d+)?)%`)

// Scrape runs two yt-dlp passes: a metadata dump, then the download. The
// download's percent output is rescaled into the 20..90 band so metadata
// and bookkeeping phases keep their own slots.
func (f *Fetcher) Scrape(ctx context.Context, jobID, rawURL string, progress collector.ProgressFunc) (collector.ScrapeResult, error) {
	if progress == nil {
		progress = func(int, string) {}
	}
	if f.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.Timeout)
		defer cancel()
	}

	progress(0, "Initializing downloader")

	meta, title, err := f.dumpMetadata(ctx, rawURL)
	if err != nil {
		return collector.ScrapeResult{Err: err.Error()}, err
	}
	progress(10, "Fetched metadata")

	dir := filepath.Join(f.cfg.Root, string(f.cfg.Platform), jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return collector.ScrapeResult{}, fmt.Errorf("create artifact dir: %w", err)
	}

	progress(20, "Downloading: "+title)
	if err := f.download(ctx, rawURL, dir, progress); err != nil {
		return collector.ScrapeResult{Err: err.Error()}, err
	}

	progress(90, "Saving metadata")
	if raw, err := json.MarshalIndent(meta, "", "  "); err == nil {
		metaPath := filepath.Join(dir, "metadata.json")
		if err := os.WriteFile(metaPath, raw, 0o644); err != nil {
			f.logger.Warn("failed to write metadata sidecar",
				zap.String("job_id", jobID), zap.Error(err))
		}
	}

	files, err := f.collectFiles(dir)
	if err != nil {
		return collector.ScrapeResult{}, err
	}
	if len(files) == 0 {
		err := fmt.Errorf("yt-dlp produced no files for %s", rawURL)
		return collector.ScrapeResult{Err: err.Error()}, err
	}

	progress(100, "Complete")
	return collector.ScrapeResult{
		Success:  true,
		Title:    title,
		Files:    files,
		Metadata: meta,
	}, nil
}

// dumpMetadata runs yt-dlp --dump-single-json without downloading.
func (f *Fetcher) dumpMetadata(ctx context.Context, rawURL string) (map[string]any, string, error) {
	args := []string{"--dump-single-json", "--no-warnings", "--no-playlist"}
	if f.cfg.UserAgent != "" {
		args = append(args, "--user-agent", f.cfg.UserAgent)
	}
	args = append(args, rawURL)

	cmd := exec.CommandContext(ctx, f.cfg.Binary, args...)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, "", fmt.Errorf("yt-dlp metadata failed: %w: %s", err, lastLine(stderr.String()))
	}

	var meta map[string]any
	if err := json.Unmarshal(out.Bytes(), &meta); err != nil {
		return nil, "", fmt.Errorf("yt-dlp metadata parse: %w", err)
	}
	title, _ := meta["title"].(string)
	if title == "" {
		title = rawURL
	}
	return meta, title, nil
}

// download runs the real fetch, streaming progress lines into the callback.
func (f *Fetcher) download(ctx context.Context, rawURL, dir string, progress collector.ProgressFunc) error {
	args := []string{
		"--newline",
		"--no-warnings",
		"--no-playlist",
		"-o", filepath.Join(dir, "%(title).150B.%(ext)s"),
	}
	if f.cfg.UserAgent != "" {
		args = append(args, "--user-agent", f.cfg.UserAgent)
	}
	args = append(args, rawURL)

	cmd := exec.CommandContext(ctx, f.cfg.Binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("yt-dlp stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("yt-dlp start: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		if pct, ok := parseProgress(scanner.Text()); ok {
			progress(scaleProgress(pct), "Downloading")
		}
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("yt-dlp canceled: %w", ctx.Err())
		}
		return fmt.Errorf("yt-dlp failed: %w: %s", err, lastLine(stderr.String()))
	}
	return nil
}

// parseProgress extracts the percent from one yt-dlp output line.
func parseProgress(line string) (float64, bool) {
	m := progressLine.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	pct, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return pct, true
}

// scaleProgress maps the download's 0..100 into the job's 20..90 band.
func scaleProgress(pct float64) int {
	return 20 + int(pct*0.7)
}

// collectFiles walks the job's artifact directory and classifies what the
// binary left behind. Paths are recorded relative to the download root.
func (f *Fetcher) collectFiles(dir string) ([]collector.ScrapedFile, error) {
	var files []collector.ScrapedFile
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(f.cfg.Root, path)
		if err != nil {
			return err
		}
		files = append(files, collector.ScrapedFile{
			Path: filepath.ToSlash(rel),
			Type: classify(path),
			Size: info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect artifacts: %w", err)
	}
	return files, nil
}

// classify maps a produced file to its artifact kind by extension.
func classify(path string) collector.FileType {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp4", ".mkv", ".webm", ".mov", ".avi", ".flv":
		return collector.FileTypeVideo
	case ".m4a", ".mp3", ".opus", ".ogg", ".wav", ".aac":
		return collector.FileTypeAudio
	case ".jpg", ".jpeg", ".png", ".webp", ".gif":
		return collector.FileTypeImage
	case ".vtt", ".srt":
		return collector.FileTypeTranscript
	default:
		return collector.FileTypeMetadata
	}
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
