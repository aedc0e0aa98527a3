package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imgscraper/pkg/browser"
	"imgscraper/pkg/config"
	"imgscraper/pkg/download"
	errs "imgscraper/pkg/errors"
	"imgscraper/pkg/logger"
	"imgscraper/pkg/metrics"
	"imgscraper/pkg/searchkey"
	"imgscraper/pkg/storage"
)

// imageServer serves /img/N.png as 200x200 PNGs, /small/N.png as 10x10
// PNGs and 404 for everything else, counting hits per path
type imageServer struct {
	*httptest.Server
	mu   sync.Mutex
	hits map[string]int
}

func newImageServer(t *testing.T) *imageServer {
	t.Helper()
	s := &imageServer{hits: make(map[string]int)}

	encode := func(size int) []byte {
		var buf bytes.Buffer
		require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, size, size))))
		return buf.Bytes()
	}
	large, small := encode(200), encode(10)

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		s.mu.Unlock()

		switch {
		case strings.HasPrefix(r.URL.Path, "/img/"):
			w.Header().Set("Content-Type", "image/png")
			w.Write(large)
		case strings.HasPrefix(r.URL.Path, "/small/"):
			w.Header().Set("Content-Type", "image/png")
			w.Write(small)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *imageServer) hitCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func (s *imageServer) totalHits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.hits {
		total += n
	}
	return total
}

// fakeSession returns pages[i] for scroll cycle i, repeating the last page
type fakeSession struct {
	mu          sync.Mutex
	pages       []string
	pageURL     string
	navigated   string
	scrolls     int
	closed      int
	failHTMLAt  int
	onScroll    func(n int)
	navigateErr error
}

func (f *fakeSession) Navigate(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navigated = url
	return f.navigateErr
}

func (f *fakeSession) ScrollToBottom(ctx context.Context) error {
	f.mu.Lock()
	f.scrolls++
	n := f.scrolls
	hook := f.onScroll
	f.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	return nil
}

func (f *fakeSession) HTML(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failHTMLAt > 0 && f.scrolls == f.failHTMLAt {
		return "", errs.New(errs.ErrorTypeSession, "target closed")
	}
	if len(f.pages) == 0 {
		return "<html><body></body></html>", nil
	}
	i := f.scrolls - 1
	if i >= len(f.pages) {
		i = len(f.pages) - 1
	}
	return f.pages[i], nil
}

func (f *fakeSession) CurrentURL(ctx context.Context) (string, error) {
	return f.pageURL, nil
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

type fakeLauncher struct {
	session  *fakeSession
	err      error
	launches int
}

func (l *fakeLauncher) Launch(ctx context.Context) (browser.Session, error) {
	l.launches++
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(errs.ErrorTypeSession, "failed to start browser", err)
	}
	if l.err != nil {
		return nil, l.err
	}
	return l.session, nil
}

func page(paths ...string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, p := range paths {
		fmt.Fprintf(&b, `<img src="%s">`, p)
	}
	b.WriteString("</body></html>")
	return b.String()
}

type harness struct {
	cfg      *config.Config
	server   *imageServer
	session  *fakeSession
	launcher *fakeLauncher
	log      *logger.TestLogger
	metrics  *metrics.Metrics
	root     string
}

func newHarness(t *testing.T, pages ...string) *harness {
	t.Helper()
	server := newImageServer(t)

	cfg := config.DefaultConfig()
	cfg.Output.RootDirectory = t.TempDir()
	cfg.Search.URLTemplate = "https://search.example.test/images?q={search_key}"
	cfg.Search.ImagesPerKey = 10
	cfg.Search.MaxMissed = 10
	cfg.Search.MaxScrolls = 5
	cfg.Search.ScrollSettleDelay = 0
	cfg.Download.RetryAttempts = 1
	cfg.Download.Timeout = 2 * time.Second

	session := &fakeSession{pages: pages, pageURL: server.URL + "/search?q=x"}
	return &harness{
		cfg:      cfg,
		server:   server,
		session:  session,
		launcher: &fakeLauncher{session: session},
		log:      logger.NewTestLogger(),
		metrics:  metrics.New(),
		root:     cfg.Output.RootDirectory,
	}
}

func (h *harness) scraper() *KeyScraper {
	return New(h.cfg, Dependencies{
		Launcher:   h.launcher,
		Downloader: download.NewClient(h.cfg.Download, h.log),
		Stores:     RegistryStores(storage.NewRegistry(h.root, h.cfg.Output.JPEGQuality)),
		Metrics:    h.metrics,
		Logger:     h.log,
	})
}

func (h *harness) files(t *testing.T, key string) []string {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(h.root, searchkey.Sanitize(key)))
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestQuotaReachedAcrossTwoCycles(t *testing.T) {
	h := newHarness(t,
		page("/img/1.png", "/img/2.png"),
		page("/img/1.png", "/img/2.png", "/img/3.png", "/img/4.png", "/img/5.png"),
	)
	h.cfg.Search.ImagesPerKey = 3

	out := h.scraper().Run(context.Background(), "red car")

	assert.Equal(t, ReasonQuotaReached, out.Reason)
	assert.NoError(t, out.Err)
	assert.Equal(t, 3, out.SavedCount)
	assert.Equal(t, 0, out.MissedCount)
	assert.Equal(t, 2, out.ScrollCycles)
	assert.Equal(t, []string{"red_car_001.png", "red_car_002.png", "red_car_003.png"}, h.files(t, "red car"))
	assert.Len(t, out.Files, 3)

	// quota reached before the remaining candidates were fetched
	assert.Equal(t, 0, h.server.hitCount("/img/4.png"))
	assert.Equal(t, 0, h.server.hitCount("/img/5.png"))

	assert.Equal(t, "https://search.example.test/images?q=red+car", h.session.navigated)
	assert.Equal(t, 1, h.session.closed)
	assert.Equal(t, 3.0, testutil.ToFloat64(h.metrics.ImagesSavedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.JobsTotal.WithLabelValues("quota-reached")))
	assert.Equal(t, 0.0, testutil.ToFloat64(h.metrics.ActiveJobs))
}

func TestMissedThresholdStopsImmediately(t *testing.T) {
	h := newHarness(t, page("/missing/1.png", "/missing/2.png", "/img/3.png"))
	h.cfg.Search.ImagesPerKey = 5
	h.cfg.Search.MaxMissed = 2

	out := h.scraper().Run(context.Background(), "k")

	assert.Equal(t, ReasonMissedThreshold, out.Reason)
	assert.Equal(t, 0, out.SavedCount)
	assert.Equal(t, 2, out.MissedCount)
	assert.Empty(t, h.files(t, "k"))
	assert.Equal(t, 0, h.server.hitCount("/img/3.png"))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.MissesTotal.WithLabelValues("status")))
}

func TestNoMoreContentOnFirstScroll(t *testing.T) {
	h := newHarness(t, "<html><body><p>nothing</p></body></html>")

	out := h.scraper().Run(context.Background(), "empty")

	assert.Equal(t, ReasonNoMoreContent, out.Reason)
	assert.Equal(t, 0, out.SavedCount)
	assert.Equal(t, 1, out.ScrollCycles)
	assert.Equal(t, 0, h.server.totalHits())
	assert.Equal(t, 1, h.session.closed)
}

func TestNoMoreContentWhenScrollAddsNothing(t *testing.T) {
	h := newHarness(t, page("/img/1.png"), page("/img/1.png"))

	out := h.scraper().Run(context.Background(), "k")

	assert.Equal(t, ReasonNoMoreContent, out.Reason)
	assert.Equal(t, 1, out.SavedCount)
	assert.Equal(t, 2, out.ScrollCycles)
}

func TestSeenURLsAreNotDownloadedAgain(t *testing.T) {
	h := newHarness(t,
		page("/img/1.png", "/img/1.png", "/img/2.png"),
		page("/img/1.png", "/img/2.png", "/img/3.png"),
		page("/img/2.png", "/img/3.png", "/img/4.png"),
	)

	out := h.scraper().Run(context.Background(), "k")

	assert.Equal(t, 4, out.SavedCount)
	for _, p := range []string{"/img/1.png", "/img/2.png", "/img/3.png", "/img/4.png"} {
		assert.Equal(t, 1, h.server.hitCount(p), p)
	}
}

func TestScrollBudgetExhausted(t *testing.T) {
	h := newHarness(t,
		page("/img/1.png"),
		page("/img/1.png", "/img/2.png"),
		page("/img/1.png", "/img/2.png", "/img/3.png"),
	)
	h.cfg.Search.MaxScrolls = 2

	out := h.scraper().Run(context.Background(), "k")

	assert.Equal(t, ReasonScrollBudgetExhausted, out.Reason)
	assert.Equal(t, 2, out.SavedCount)
	assert.Equal(t, 2, out.ScrollCycles)
	assert.Equal(t, 0, h.server.hitCount("/img/3.png"))
}

func TestMissCounterResetsOnSave(t *testing.T) {
	h := newHarness(t, page("/missing/1", "/img/1.png", "/small/1.png", "/img/2.png", "/missing/2"))
	h.cfg.Search.MaxMissed = 2

	out := h.scraper().Run(context.Background(), "k")

	assert.Equal(t, 2, out.SavedCount)
	assert.Equal(t, 3, out.MissedCount)
	assert.Equal(t, ReasonNoMoreContent, out.Reason)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.MissesTotal.WithLabelValues("resolution")))
}

func TestLaunchFailureIsPerKeyFatal(t *testing.T) {
	h := newHarness(t)
	h.launcher.err = errs.New(errs.ErrorTypeSession, "chrome not found")

	out := h.scraper().Run(context.Background(), "k")

	assert.Equal(t, ReasonFailed, out.Reason)
	assert.True(t, out.Failed())
	require.Error(t, out.Err)
	assert.Equal(t, errs.ErrorTypeSession, errs.TypeOf(out.Err))
	assert.True(t, h.log.HasError())
	assert.Equal(t, 0, h.session.closed)
}

func TestNavigateFailureClosesSession(t *testing.T) {
	h := newHarness(t)
	h.session.navigateErr = errs.New(errs.ErrorTypeSession, "net::ERR_NAME_NOT_RESOLVED")

	out := h.scraper().Run(context.Background(), "k")

	assert.Equal(t, ReasonFailed, out.Reason)
	assert.Equal(t, 1, h.session.closed)
}

func TestSessionFailureMidRunKeepsCounts(t *testing.T) {
	h := newHarness(t, page("/img/1.png"), page("/img/1.png", "/img/2.png"))
	h.session.failHTMLAt = 2

	out := h.scraper().Run(context.Background(), "k")

	assert.Equal(t, ReasonFailed, out.Reason)
	assert.Equal(t, 1, out.SavedCount)
	assert.Equal(t, 2, out.ScrollCycles)
	assert.Equal(t, errs.ErrorTypeSession, errs.TypeOf(out.Err))
	assert.Equal(t, 1, h.session.closed)
}

func TestDirectoryFailureSkipsBrowser(t *testing.T) {
	h := newHarness(t)
	blocker := filepath.Join(h.root, "blocked")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))
	h.root = blocker

	out := h.scraper().Run(context.Background(), "k")

	assert.Equal(t, ReasonFailed, out.Reason)
	assert.Equal(t, errs.ErrorTypeFilesystem, errs.TypeOf(out.Err))
	assert.Equal(t, 0, h.launcher.launches)
}

func TestCancelledBeforeStart(t *testing.T) {
	h := newHarness(t, page("/img/1.png"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := h.scraper().Run(ctx, "k")

	assert.Equal(t, ReasonCancelled, out.Reason)
	assert.NoError(t, out.Err)
	assert.Equal(t, 0, h.server.totalHits())
}

func TestCancelledDuringSettleDelay(t *testing.T) {
	h := newHarness(t, page("/img/1.png"), page("/img/1.png", "/img/2.png"))
	h.cfg.Search.ScrollSettleDelay = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.session.onScroll = func(n int) { cancel() }

	done := make(chan Outcome, 1)
	go func() { done <- h.scraper().Run(ctx, "k") }()

	select {
	case out := <-done:
		assert.Equal(t, ReasonCancelled, out.Reason)
		assert.Equal(t, 0, out.SavedCount)
		assert.Equal(t, 1, h.session.closed)
	case <-time.After(5 * time.Second):
		t.Fatal("scraper did not stop after cancellation")
	}
}

func TestQuotaNeverExceeded(t *testing.T) {
	for quota := 1; quota <= 4; quota++ {
		t.Run(fmt.Sprintf("quota_%d", quota), func(t *testing.T) {
			h := newHarness(t, page("/img/1.png", "/img/2.png", "/img/3.png"), page("/img/4.png", "/img/5.png"))
			h.cfg.Search.ImagesPerKey = quota

			out := h.scraper().Run(context.Background(), "k")

			assert.LessOrEqual(t, out.SavedCount, quota)
			assert.Equal(t, quota, out.SavedCount)
			assert.Equal(t, ReasonQuotaReached, out.Reason)
			assert.Len(t, h.files(t, "k"), quota)
		})
	}
}

func TestDownloaderErrorIsMiss(t *testing.T) {
	h := newHarness(t, page("/img/1.png", "/img/2.png"))
	h.cfg.Search.MaxMissed = 1

	s := New(h.cfg, Dependencies{
		Launcher:   h.launcher,
		Downloader: failingDownloader{},
		Stores:     RegistryStores(storage.NewRegistry(h.root, 95)),
	})
	out := s.Run(context.Background(), "k")

	assert.Equal(t, ReasonMissedThreshold, out.Reason)
	assert.Equal(t, 1, out.MissedCount)
	assert.NoError(t, out.Err)
}

type failingDownloader struct{}

func (failingDownloader) Fetch(ctx context.Context, url string) (*download.Response, error) {
	return nil, errs.Wrap(errs.ErrorTypeNetwork, "request failed", errors.New("connection refused"))
}
