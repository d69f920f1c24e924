// Package settings materializes the hierarchical runtime configuration
// object spec §6 describes: compiled defaults, overridden by a user-level
// config file, overridden by a project-level config file, overridden by
// YARN_<UPPER_SNAKE_NAME> environment variables. This package has no CLI-flag
// layer: nothing here applies flag overrides on top of the environment.
//
// Grounded on teacher internal/config's viper-backed layering (the
// environment layer is read with github.com/spf13/viper; config-file layers
// are decoded with gopkg.in/yaml.v3) plus DESIGN.md's Open-Question-free addition:
// spec §6's "path settings are resolved relative to the config file that
// declared them" and "${VAR} interpolation" have no viper equivalent, so
// both are hand-rolled here (stdlib os.Expand; a small per-key origin map)
// rather than forced through viper's flat merge.
package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/quillpm/quill/internal/ci"
	"github.com/quillpm/quill/internal/turbopath"
)

// EnvPrefix is the environment-variable prefix spec §6 reserves for runtime
// configuration overrides, e.g. YARN_ENABLE_IMMUTABLE_INSTALLS=true.
const EnvPrefix = "YARN"

// DefaultRCFilename is the project/user config file name, overridable by
// $YARN_RC_FILENAME per spec §6.
const DefaultRCFilename = ".yarnrc.yml"

// Settings is the fully-merged, immutable-after-construction configuration
// object every component is handed explicitly; per spec §9 there is no
// process-wide singleton.
type Settings struct {
	// CacheFolder is where the content-addressed archive cache lives.
	CacheFolder turbopath.AbsoluteSystemPath
	// EnableImmutableInstalls rejects any resolution/cache/lockfile change
	// instead of writing one (spec §4.D's ImmutableCache, spec §7's
	// ImmutableViolation).
	EnableImmutableInstalls bool
	// NodeLinker selects the linker backend: "node-modules" (hoisting,
	// spec §4.G) or "pnp" (spec §4.H).
	NodeLinker string
	// NPMRegistryServer is the default registry base URL new registry
	// descriptors resolve against.
	NPMRegistryServer string
	// UnsafeHttpWhitelist allows plain-http registry/tarball fetches for
	// the named hosts; everything else requires https.
	UnsafeHttpWhitelist []string
	// MinimumReleaseAgeSeconds is spec §4.E's minimum-age gate duration, in
	// seconds; zero disables it.
	MinimumReleaseAgeSeconds int64
	// PreapprovedPatterns are ident@version glob patterns exempted from
	// the minimum-age gate (spec §4.E "explicitly preapproved").
	PreapprovedPatterns []string
	// EnableNetwork disables every fetcher network call when false,
	// turning a cache miss into an immediate error (used for CI restore
	// verification).
	EnableNetwork bool
	// HTTPTimeoutSeconds bounds a single registry/tarball request (spec §5:
	// "Timeouts are per-request on the HTTP layer only").
	HTTPTimeoutSeconds int64
	// JobsLimit bounds build-executor and foreach concurrency (spec
	// §4.I/§4.J's "bounded parallelism").
	JobsLimit int
	// VirtualFolderName names the PnP linker's synthetic directory for
	// virtual packages (spec §4.H), default "__virtual__".
	VirtualFolderName string

	// rootDir is the project directory Load was called against, used to
	// resolve any remaining relative path-typed value read from a config
	// file whose own directory isn't tracked individually.
	rootDir turbopath.AbsoluteSystemPath
}

// defaults returns the compiled-in base layer, the lowest-precedence input
// to Load.
func defaults() Settings {
	return Settings{
		NodeLinker:               "pnp",
		NPMRegistryServer:        "https://registry.npmjs.org",
		EnableNetwork:            true,
		HTTPTimeoutSeconds:       60,
		JobsLimit:                4,
		VirtualFolderName:        "__virtual__",
		MinimumReleaseAgeSeconds: 0,
	}
}

// rcFilename returns the configured rc filename, honoring
// $YARN_RC_FILENAME per spec §6.
func rcFilename() string {
	if v := os.Getenv("YARN_RC_FILENAME"); v != "" {
		return v
	}
	return DefaultRCFilename
}

// RCFilename exposes rcFilename to callers (e.g. `quill config set`) that
// need to edit the project rc file at the same path Load reads it from.
func RCFilename() string {
	return rcFilename()
}

// layer is one config-file layer: its decoded key/value map plus the
// directory it was loaded from, for later path interpolation.
type layer struct {
	dir    string
	values map[string]interface{}
}

func readLayer(path string) (*layer, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("settings: reading %s: %w", path, err)
	}
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("settings: parsing %s: %w", path, err)
	}
	return &layer{dir: filepath.Dir(path), values: raw}, nil
}

// Load builds the fully-merged Settings for a project rooted at rootDir,
// reading (lowest to highest precedence): compiled defaults, the user-level
// rc file ($HOME/<rcFilename>), the project-level rc file
// (rootDir/<rcFilename>), then YARN_* environment variables. CLI flag
// overrides are not applied.
func Load(rootDir turbopath.AbsoluteSystemPath) (*Settings, error) {
	s := defaults()
	s.rootDir = rootDir
	s.CacheFolder = rootDir.UntypedJoin(".yarn", "cache")

	name := rcFilename()
	var layers []*layer

	if home, err := homedir.Dir(); err == nil {
		if l, err := readLayer(filepath.Join(home, name)); err != nil {
			return nil, err
		} else if l != nil {
			layers = append(layers, l)
		}
	}
	if l, err := readLayer(filepath.Join(rootDir.ToString(), name)); err != nil {
		return nil, err
	} else if l != nil {
		layers = append(layers, l)
	}

	for _, l := range layers {
		if err := applyLayer(&s, l); err != nil {
			return nil, err
		}
	}

	applyEnv(&s)

	return &s, nil
}

// applyLayer merges one config-file layer's recognized keys into s,
// interpolating ${VAR} references in string values and resolving any
// path-typed value relative to the layer's own directory (spec §6: "Path
// settings are resolved relative to the config file that declared them").
func applyLayer(s *Settings, l *layer) error {
	get := func(key string) (string, bool) {
		v, ok := l.values[key]
		if !ok {
			return "", false
		}
		str, ok := v.(string)
		if !ok {
			return "", false
		}
		return interpolate(str), true
	}

	if v, ok := get("cacheFolder"); ok {
		s.CacheFolder = resolveRelative(l.dir, v)
	}
	if v, ok := l.values["enableImmutableInstalls"].(bool); ok {
		s.EnableImmutableInstalls = v
	}
	if v, ok := get("nodeLinker"); ok {
		s.NodeLinker = v
	}
	if v, ok := get("npmRegistryServer"); ok {
		s.NPMRegistryServer = v
	}
	if v, ok := l.values["unsafeHttpWhitelist"].([]interface{}); ok {
		s.UnsafeHttpWhitelist = nil
		for _, item := range v {
			if str, ok := item.(string); ok {
				s.UnsafeHttpWhitelist = append(s.UnsafeHttpWhitelist, interpolate(str))
			}
		}
	}
	if v, ok := l.values["minimumReleaseAge"].(int); ok {
		s.MinimumReleaseAgeSeconds = int64(v)
	}
	if v, ok := l.values["preapprovedPatterns"].([]interface{}); ok {
		s.PreapprovedPatterns = nil
		for _, item := range v {
			if str, ok := item.(string); ok {
				s.PreapprovedPatterns = append(s.PreapprovedPatterns, interpolate(str))
			}
		}
	}
	if v, ok := l.values["enableNetwork"].(bool); ok {
		s.EnableNetwork = v
	}
	if v, ok := l.values["httpTimeout"].(int); ok {
		s.HTTPTimeoutSeconds = int64(v)
	}
	if v, ok := l.values["networkConcurrency"].(int); ok {
		s.JobsLimit = v
	}
	return nil
}

// applyEnv applies YARN_<UPPER_SNAKE_NAME> overrides, the highest-precedence
// layer below explicit CLI flags.
func applyEnv(s *Settings) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for _, key := range []string{"CACHE_FOLDER", "ENABLE_IMMUTABLE_INSTALLS", "NODE_LINKER",
		"NPM_REGISTRY_SERVER", "ENABLE_NETWORK", "HTTP_TIMEOUT", "NETWORK_CONCURRENCY"} {
		_ = v.BindEnv(key)
	}

	if val := v.GetString("CACHE_FOLDER"); val != "" {
		s.CacheFolder = resolveRelative(s.rootDir.ToString(), interpolate(val))
	}
	if os.Getenv("YARN_ENABLE_IMMUTABLE_INSTALLS") != "" {
		s.EnableImmutableInstalls = v.GetBool("ENABLE_IMMUTABLE_INSTALLS")
	}
	if val := v.GetString("NODE_LINKER"); val != "" {
		s.NodeLinker = val
	}
	if val := v.GetString("NPM_REGISTRY_SERVER"); val != "" {
		s.NPMRegistryServer = val
	}
	if os.Getenv("YARN_ENABLE_NETWORK") != "" {
		s.EnableNetwork = v.GetBool("ENABLE_NETWORK")
	}
	if val := v.GetInt64("HTTP_TIMEOUT"); val != 0 {
		s.HTTPTimeoutSeconds = val
	}
	if val := v.GetInt("NETWORK_CONCURRENCY"); val != 0 {
		s.JobsLimit = val
	}
}

// interpolate expands ${VAR}-style references against the process
// environment, per spec §6: "String values in user/project files may
// contain shell-style ${VAR} interpolation."
func interpolate(s string) string {
	return os.Expand(s, os.Getenv)
}

// resolveRelative resolves a path value against dir if it isn't already
// absolute.
func resolveRelative(dir string, path string) turbopath.AbsoluteSystemPath {
	if filepath.IsAbs(path) {
		return turbopath.AbsoluteSystemPath(filepath.Clean(path))
	}
	return turbopath.AbsoluteSystemPath(filepath.Join(dir, path))
}

// Provenance reports the CI vendor this process is running under, for the
// git-provenance env-var collaborator spec §6 names (GitHub/GitLab
// environment variables). Returns false when not running in CI.
func Provenance() (vendor string, inCI bool) {
	if !ci.IsCi() {
		return "", false
	}
	return ci.Name(), true
}
