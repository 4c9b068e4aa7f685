package credentials

import (
	"bufio"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// browserStore describes where one browser keeps its cookie database.
type browserStore struct {
	Name string

	// CookiePaths are Chromium-family database candidates, first existing wins.
	CookiePaths []string

	// ProfilesIni are Firefox profiles.ini candidates.
	ProfilesIni []string
}

// chromiumDirs maps a Chromium-family browser to its user-data directory
// below the per-OS config root.
var chromiumDirs = []struct {
	name    string
	darwin  string
	linux   string
	windows string
}{
	{"Chrome", "Google/Chrome", "google-chrome", `Google\Chrome\User Data`},
	{"Chromium", "Chromium", "chromium", `Chromium\User Data`},
	{"Edge", "Microsoft Edge", "microsoft-edge", `Microsoft\Edge\User Data`},
	{"Brave", "BraveSoftware/Brave-Browser", "BraveSoftware/Brave-Browser", `BraveSoftware\Brave-Browser\User Data`},
}

// browserStoresFor lists cookie stores in lookup order for the given OS and
// directories. Chromium-family browsers come first because the notebook
// application targets Chrome.
func browserStoresFor(goos, home, localAppData, appData string) []browserStore {
	var stores []browserStore

	for _, b := range chromiumDirs {
		var base string
		switch goos {
		case "darwin":
			base = filepath.Join(home, "Library", "Application Support", filepath.FromSlash(b.darwin))
		case "windows":
			if localAppData == "" {
				continue
			}
			base = filepath.Join(localAppData, b.windows)
		default:
			base = filepath.Join(home, ".config", filepath.FromSlash(b.linux))
		}
		profile := filepath.Join(base, "Default")
		stores = append(stores, browserStore{
			Name: b.name,
			CookiePaths: []string{
				filepath.Join(profile, "Network", "Cookies"),
				filepath.Join(profile, "Cookies"),
			},
		})
	}

	var ini []string
	switch goos {
	case "darwin":
		ini = []string{filepath.Join(home, "Library", "Application Support", "Firefox", "profiles.ini")}
	case "windows":
		if appData != "" {
			ini = []string{filepath.Join(appData, "Mozilla", "Firefox", "profiles.ini")}
		}
	default:
		ini = []string{
			filepath.Join(home, ".mozilla", "firefox", "profiles.ini"),
			filepath.Join(home, "snap", "firefox", "common", ".mozilla", "firefox", "profiles.ini"),
		}
	}
	if len(ini) > 0 {
		stores = append(stores, browserStore{Name: "Firefox", ProfilesIni: ini})
	}
	return stores
}

// defaultBrowserStores returns the stores for the running system.
func defaultBrowserStores() []browserStore {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return browserStoresFor(runtime.GOOS, home, os.Getenv("LOCALAPPDATA"), os.Getenv("APPDATA"))
}

// cookieFile returns the first existing cookie database of the store.
func (b browserStore) cookieFile() (string, bool) {
	candidates := b.CookiePaths
	for _, ini := range b.ProfilesIni {
		if dir := defaultFirefoxProfile(ini); dir != "" {
			candidates = append(candidates, filepath.Join(dir, "cookies.sqlite"))
		}
	}
	for _, path := range candidates {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, true
		}
	}
	return "", false
}

// defaultFirefoxProfile returns the default profile directory named by a
// profiles.ini file: the [Install*] Default key wins over a [Profile*]
// section marked Default=1. It returns "" when none is found.
func defaultFirefoxProfile(iniPath string) string {
	f, err := os.Open(iniPath)
	if err != nil {
		return ""
	}
	defer f.Close()

	dir := filepath.Dir(iniPath)
	resolve := func(p string) string {
		if filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, filepath.FromSlash(p))
	}

	var installDefault, profileDefault string
	var section, path string
	var isDefault bool

	flush := func() {
		if strings.HasPrefix(section, "Profile") && isDefault && profileDefault == "" && path != "" {
			profileDefault = resolve(path)
		}
	}

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			flush()
			section = strings.Trim(line, "[]")
			path, isDefault = "", false
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key, val = strings.TrimSpace(key), strings.TrimSpace(val)
		switch {
		case strings.HasPrefix(section, "Install") && key == "Default" && installDefault == "":
			installDefault = resolve(val)
		case key == "Path":
			path = val
		case key == "Default" && val == "1":
			isDefault = true
		}
	}
	flush()

	if installDefault != "" {
		return installDefault
	}
	return profileDefault
}
