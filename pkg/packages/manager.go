// Package packages implements the controlled package-installation exec
// path: a curated per-language allowlist, a per-principal install cap, and
// the shell command used to actually run the install inside a sandbox.
package packages

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/cagekeep/broker/pkg/api"
)

var (
	// ErrDisabled means the broker was configured without dynamic package
	// installation.
	ErrDisabled = errors.New("packages: installation is disabled")

	// ErrLanguageUnsupported means the requested language has no package
	// manager wired in (only python, javascript, and r do).
	ErrLanguageUnsupported = errors.New("packages: installation not supported for language")

	// ErrNotAllowed means the package is not present in that language's
	// allowlist.
	ErrNotAllowed = errors.New("packages: not in allowlist")

	// ErrLimitExceeded means the principal has already installed the
	// configured maximum number of packages for this session.
	ErrLimitExceeded = errors.New("packages: per-session install limit exceeded")

	// ErrInvalidName means the package name contains characters outside
	// the set a package manager accepts, which would otherwise let it
	// escape the install command it gets interpolated into.
	ErrInvalidName = errors.New("packages: invalid package name")
)

// namePattern bounds package names to the characters pip, npm, and CRAN
// names actually use. Anything outside this set is rejected before it ever
// reaches a shell command, since the install command below is built by
// string interpolation rather than passed as discrete argv elements.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._@/-]{0,213}$`)

// Config configures a Manager. Mirrors the original orchestrator's
// PackageConfig: disabled by default, with curated mirrors overridable for
// air-gapped or internally-mirrored deployments.
type Config struct {
	// Enabled gates whether install_package is reachable at all.
	Enabled bool

	// PyPIMirror, NPMRegistry, and CRANMirror override the public package
	// index for each language. Empty means use the public default.
	PyPIMirror  string
	NPMRegistry string
	CRANMirror  string

	// MaxPackagesPerSession bounds how many distinct packages one
	// principal may install before further installs are refused.
	MaxPackagesPerSession int
}

func (c Config) maxPackagesPerSession() int {
	if c.MaxPackagesPerSession <= 0 {
		return 50
	}
	return c.MaxPackagesPerSession
}

// defaultAllowlists pre-populates each supported language with a curated
// set of common, low-risk packages, the same starter set the original
// orchestrator shipped.
var defaultAllowlists = map[api.Language][]string{
	api.LanguagePython: {
		"requests", "beautifulsoup4", "lxml", "pillow", "openpyxl",
		"python-dateutil", "pytz", "tabulate", "tqdm", "jinja2",
		"pyyaml", "toml", "python-dotenv", "regex", "chardet",
		"jsonschema", "orjson",
	},
	api.LanguageJavaScript: {
		"lodash", "moment", "axios", "express", "chalk",
		"commander", "inquirer", "ora", "cli-table3",
	},
	api.LanguageR: {
		"jsonlite", "httr", "xml2", "lubridate", "stringr",
		"readxl", "writexl", "glue",
	},
}

// Manager tracks a per-language package allowlist and, per principal, the
// set of packages already installed this session.
type Manager struct {
	cfg Config

	mu        sync.RWMutex
	allowlist map[api.Language]map[string]struct{}
	installed map[string]map[string]struct{} // principal ID -> package names
}

func NewManager(cfg Config) *Manager {
	m := &Manager{
		cfg:       cfg,
		allowlist: make(map[api.Language]map[string]struct{}),
		installed: make(map[string]map[string]struct{}),
	}
	for lang, names := range defaultAllowlists {
		set := make(map[string]struct{}, len(names))
		for _, n := range names {
			set[n] = struct{}{}
		}
		m.allowlist[lang] = set
	}
	return m
}

// IsAllowed reports whether package is in lang's allowlist.
func (m *Manager) IsAllowed(lang api.Language, pkg string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set, ok := m.allowlist[lang]
	if !ok {
		return false
	}
	_, allowed := set[pkg]
	return allowed
}

// AddToAllowlist admits a package for a language. Used by admin-only paths;
// the Execution Engine never calls this on a caller's behalf.
func (m *Manager) AddToAllowlist(lang api.Language, pkg string) error {
	if _, ok := defaultAllowlists[lang]; !ok {
		return fmt.Errorf("%w: %s", ErrLanguageUnsupported, lang)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.allowlist[lang] == nil {
		m.allowlist[lang] = make(map[string]struct{})
	}
	m.allowlist[lang][pkg] = struct{}{}
	return nil
}

// Allowlist returns a snapshot of the packages admitted for lang.
func (m *Manager) Allowlist(lang api.Language) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := m.allowlist[lang]
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	return out
}

// Installed returns the packages already installed for a principal.
func (m *Manager) Installed(principalID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := m.installed[principalID]
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	return out
}

// ClearInstalled drops a principal's installed-package record, e.g. when
// its session is torn down.
func (m *Manager) ClearInstalled(principalID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.installed, principalID)
}

// recordInstalled marks a package as installed for a principal, returning
// false if the session's install cap was already reached.
func (m *Manager) recordInstalled(principalID, pkg string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.installed[principalID]
	if set == nil {
		set = make(map[string]struct{})
		m.installed[principalID] = set
	}
	if _, already := set[pkg]; !already && len(set) >= m.cfg.maxPackagesPerSession() {
		return false
	}
	set[pkg] = struct{}{}
	return true
}

// Prepare validates an install request and returns the shell command that
// performs it. The command is run through the same bash launcher ordinary
// code submissions use (pkg/engine's InstallPackage dispatches it via the
// existing runtime.Driver.Exec path), so this package never talks to a
// sandbox directly.
func (m *Manager) Prepare(principalID string, lang api.Language, pkg string) (string, error) {
	if !m.cfg.Enabled {
		return "", ErrDisabled
	}
	if !namePattern.MatchString(pkg) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, pkg)
	}
	if _, ok := defaultAllowlists[lang]; !ok {
		return "", fmt.Errorf("%w: %s", ErrLanguageUnsupported, lang)
	}
	if !m.IsAllowed(lang, pkg) {
		return "", fmt.Errorf("%w: %s for %s", ErrNotAllowed, pkg, lang)
	}
	if !m.recordInstalled(principalID, pkg) {
		return "", fmt.Errorf("%w: %d", ErrLimitExceeded, m.cfg.maxPackagesPerSession())
	}

	switch lang {
	case api.LanguagePython:
		mirror := m.cfg.PyPIMirror
		if mirror == "" {
			mirror = "https://pypi.org/simple"
		}
		return fmt.Sprintf(
			"pip install --no-cache-dir --index-url %s --trusted-host %s %s",
			mirror, mirrorHost(mirror), pkg,
		), nil
	case api.LanguageJavaScript:
		registry := m.cfg.NPMRegistry
		if registry == "" {
			registry = "https://registry.npmjs.org"
		}
		return fmt.Sprintf("npm install --registry %s %s", registry, pkg), nil
	case api.LanguageR:
		mirror := m.cfg.CRANMirror
		if mirror == "" {
			mirror = "https://cran.rstudio.com"
		}
		return fmt.Sprintf("R -e \"install.packages('%s', repos='%s')\"", pkg, mirror), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrLanguageUnsupported, lang)
	}
}

// mirrorHost strips scheme and path from a mirror URL, for pip's
// --trusted-host flag.
func mirrorHost(mirror string) string {
	host := mirror
	if idx := strings.Index(host, "://"); idx != -1 {
		host = host[idx+3:]
	}
	if idx := strings.Index(host, "/"); idx != -1 {
		host = host[:idx]
	}
	if host == "" {
		return "pypi.org"
	}
	return host
}
