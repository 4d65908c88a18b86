package config

import (
	"os"
	"os/exec"
	"runtime"
)

// RenderBrowserPath is where hosted render images install Chromium.
const RenderBrowserPath = "/usr/bin/chromium"

var (
	fileExists = func(path string) bool {
		info, err := os.Stat(path)
		return err == nil && !info.IsDir()
	}
	lookPath = exec.LookPath
)

var browserNames = []string{"chromium", "chromium-browser", "google-chrome", "google-chrome-stable", "chrome"}

func knownBrowserPaths() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
		}
	case "windows":
		return []string{
			`C:\Program Files\Google\Chrome\Application\chrome.exe`,
			`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
		}
	default:
		return []string{
			"/usr/bin/chromium",
			"/usr/bin/chromium-browser",
			"/usr/bin/google-chrome",
			"/usr/bin/google-chrome-stable",
			"/snap/bin/chromium",
		}
	}
}

// ResolveBrowser picks the browser binary: an explicit override wins, then the
// render image location, then well-known install paths, then PATH. An empty
// result leaves discovery to chromedp.
func (r RendererConfig) ResolveBrowser() string {
	if r.BrowserPath != "" {
		return r.BrowserPath
	}
	if r.RenderMode && fileExists(RenderBrowserPath) {
		return RenderBrowserPath
	}
	for _, p := range knownBrowserPaths() {
		if fileExists(p) {
			return p
		}
	}
	for _, name := range browserNames {
		if p, err := lookPath(name); err == nil {
			return p
		}
	}
	return ""
}
