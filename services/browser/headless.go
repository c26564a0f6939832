package browser

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/browserwing/domguard/config"
)

// inContainer reports whether the process runs inside a container, where no
// display is ever available.
var inContainer = func() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	data, err := os.ReadFile("/proc/1/cgroup")
	if err != nil {
		return false
	}
	for _, marker := range []string{"docker", "containerd", "kubepods"} {
		if strings.Contains(string(data), marker) {
			return true
		}
	}
	return false
}

// headlessMode decides whether to launch without a window and says why. An
// explicit headless setting wins. Otherwise only Linux hosts without an X11
// or Wayland display, and containers, run headless.
func headlessMode(cfg *config.BrowserConfig, getenv func(string) string, goos string) (bool, string) {
	switch {
	case cfg.Headless != nil:
		return *cfg.Headless, "configured"
	case inContainer():
		return true, "container"
	case goos != "linux":
		return false, goos
	case getenv("DISPLAY") == "" && getenv("WAYLAND_DISPLAY") == "":
		return true, "no display"
	default:
		return false, "display available"
	}
}

// preferencesJSON turns dotted preference names into the nested document
// Chromium expects in its Preferences file:
//
//	"profile.default_content_setting_values.geolocation" = 2
//
// becomes {"profile":{"default_content_setting_values":{"geolocation":2}}}.
func preferencesJSON(prefs map[string]any) (string, error) {
	root := map[string]any{}
	for name, value := range prefs {
		parts := strings.Split(name, ".")
		node := root
		for _, p := range parts[:len(parts)-1] {
			child, ok := node[p].(map[string]any)
			if !ok {
				child = map[string]any{}
				node[p] = child
			}
			node = child
		}
		node[parts[len(parts)-1]] = value
	}
	data, err := json.Marshal(root)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
