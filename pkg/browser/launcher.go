package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/entrhq/browserd/pkg/browsererr"
	"github.com/entrhq/browserd/pkg/logging"
)

// Defaults for LaunchVisibleChrome.
const (
	DefaultDebugPort   = 9222
	chromeReadyTimeout = 15 * time.Second
	chromePollInterval = 200 * time.Millisecond
)

// chromeCandidates are probed in order when no executable is configured.
func chromeCandidates() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Microsoft Edge.app/Contents/MacOS/Microsoft Edge",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
		}
	case "windows":
		return []string{
			`C:\Program Files\Google\Chrome\Application\chrome.exe`,
			`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
			`C:\Program Files (x86)\Microsoft\Edge\Application\msedge.exe`,
		}
	default:
		return []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "microsoft-edge"}
	}
}

// LaunchChromeOptions configures LaunchVisibleChrome.
type LaunchChromeOptions struct {
	Port              int      `json:"port,omitempty"`
	UserDataDir       string   `json:"user_data_dir,omitempty"`
	ExecPath          string   `json:"exec_path,omitempty"`
	Args              []string `json:"args,omitempty"`
	AutoConnect       bool     `json:"auto_connect,omitempty"`
	ReuseExistingPage bool     `json:"reuse_existing_page,omitempty"`
}

// LaunchChromeResult describes a started browser.
type LaunchChromeResult struct {
	CDPURL      string       `json:"cdp_url"`
	PID         int          `json:"pid"`
	UserDataDir string       `json:"user_data_dir"`
	ExecPath    string       `json:"exec_path"`
	Session     *SessionInfo `json:"session,omitempty"`
}

// chromeLauncher starts visible browsers with remote debugging enabled. The
// browsers are never terminated by browserd; sessions reach them as
// externally attached processes.
type chromeLauncher struct {
	execPath string
	logger   *zap.Logger
	client   *http.Client
	command  func(name string, args ...string) *exec.Cmd
	lookPath func(file string) (string, error)
	host     string

	mu    sync.Mutex
	procs map[int]*exec.Cmd
}

// removeProfile deletes a profile directory the launcher created.
func (l *chromeLauncher) removeProfile(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		l.logger.Warn("failed to remove chrome profile", zap.String("user_data_dir", dir), zap.Error(err))
	}
}

func newChromeLauncher(execPath string, logger *zap.Logger) *chromeLauncher {
	return &chromeLauncher{
		execPath: execPath,
		logger:   logging.Component(logger, "chrome_launcher"),
		client:   &http.Client{Timeout: 500 * time.Millisecond},
		command:  exec.Command,
		lookPath: exec.LookPath,
		host:     "127.0.0.1",
		procs:    make(map[int]*exec.Cmd),
	}
}

func (l *chromeLauncher) resolve(requested string) (string, error) {
	candidates := chromeCandidates()
	if l.execPath != "" {
		candidates = []string{l.execPath}
	}
	if requested != "" {
		candidates = []string{requested}
	}
	for _, c := range candidates {
		if path, err := l.lookPath(c); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no chrome executable found (tried %v)", candidates)
}

func (l *chromeLauncher) launch(ctx context.Context, opts LaunchChromeOptions) (*LaunchChromeResult, error) {
	port := opts.Port
	if port <= 0 {
		port = DefaultDebugPort
	}
	path, err := l.resolve(opts.ExecPath)
	if err != nil {
		return nil, err
	}
	dataDir := opts.UserDataDir
	createdDir := false
	if dataDir == "" {
		if dataDir, err = os.MkdirTemp("", "browserd-chrome-"); err != nil {
			return nil, fmt.Errorf("create user data dir: %w", err)
		}
		createdDir = true
	}

	args := []string{
		"--remote-debugging-port=" + strconv.Itoa(port),
		"--user-data-dir=" + dataDir,
		"--no-first-run",
		"--no-default-browser-check",
	}
	args = append(args, opts.Args...)
	cmd := l.command(path, args...)
	if err := cmd.Start(); err != nil {
		if createdDir {
			l.removeProfile(dataDir)
		}
		return nil, fmt.Errorf("start %s: %w", path, err)
	}

	exited := make(chan struct{})
	var waitErr error
	go func() {
		waitErr = cmd.Wait()
		close(exited)
	}()

	endpoint := fmt.Sprintf("http://%s:%d", l.host, port)
	if err := l.waitReady(ctx, endpoint, exited, func() error { return waitErr }); err != nil {
		// A browser that never became attachable is ours to stop.
		_ = cmd.Process.Kill()
		<-exited
		if createdDir {
			l.removeProfile(dataDir)
		}
		return nil, err
	}

	pid := cmd.Process.Pid
	l.mu.Lock()
	l.procs[pid] = cmd
	l.mu.Unlock()
	go func() {
		<-exited
		l.mu.Lock()
		delete(l.procs, pid)
		l.mu.Unlock()
		if createdDir {
			l.removeProfile(dataDir)
		}
	}()

	l.logger.Info("launched chrome",
		zap.String("exec_path", path),
		zap.Int("pid", pid),
		zap.String("endpoint", endpoint),
	)
	return &LaunchChromeResult{CDPURL: endpoint, PID: pid, UserDataDir: dataDir, ExecPath: path}, nil
}

// waitReady polls /json/version until the endpoint answers, the process
// exits or the deadline passes.
func (l *chromeLauncher) waitReady(ctx context.Context, endpoint string, exited <-chan struct{}, exitErr func() error) error {
	ctx, cancel := context.WithTimeout(ctx, chromeReadyTimeout)
	defer cancel()
	ticker := time.NewTicker(chromePollInterval)
	defer ticker.Stop()

	for {
		if l.ready(ctx, endpoint) {
			return nil
		}
		select {
		case <-exited:
			err := exitErr()
			if err == nil {
				err = errors.New("process exited")
			}
			return fmt.Errorf("chrome exited before %s was ready: %w", endpoint, err)
		case <-ctx.Done():
			return fmt.Errorf("chrome debugging endpoint %s not ready: %w", endpoint, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (l *chromeLauncher) ready(ctx context.Context, endpoint string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/json/version", nil)
	if err != nil {
		return false
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (l *chromeLauncher) running() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.procs)
}

// detach stops tracking launched browsers and leaves them running.
func (l *chromeLauncher) detach() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for pid := range l.procs {
		l.logger.Info("leaving launched chrome running", zap.Int("pid", pid))
		delete(l.procs, pid)
	}
}

// LaunchVisibleChrome starts a headed Chrome with remote debugging and
// optionally attaches a session to it.
func (s *Service) LaunchVisibleChrome(ctx context.Context, opts LaunchChromeOptions) (res *LaunchChromeResult, err error) {
	defer s.observe("launch_visible_chrome", time.Now(), &err)

	res, err = s.launcher.launch(ctx, opts)
	if err != nil {
		return nil, browsererr.Wrap(browsererr.GenericAutomationFailure, err, map[string]any{"port": opts.Port})
	}
	if !opts.AutoConnect {
		return res, nil
	}
	info, err := s.AttachSession(ctx, AttachOptions{Endpoint: res.CDPURL, ReuseExistingPage: opts.ReuseExistingPage})
	if err != nil {
		return nil, err
	}
	res.Session = info
	return res, nil
}
