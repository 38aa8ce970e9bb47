// Package profile loads deployment profiles from a YAML configuration file,
// in the style of mirrorshuttle's config.go: strict unknown-field decoding
// via yaml.v3, environment-variable and tilde expansion, and explicit
// validation before a profile is handed to the core. Expansion is applied
// to from.base, from.target, from.src and to each target's host, user,
// key_file, password and dest; other string fields (protocol, auth_type,
// sync_mode, preserve, rsync_options, ignore patterns and group names) are
// used as written.
package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ryanoboyle/wharf/internal/apperr"
	"github.com/ryanoboyle/wharf/internal/model"
)

// rawDocument is the on-disk shape of the whole configuration file: every
// top-level key is a profile name, except the reserved "_global".
type rawDocument struct {
	Global   rawGlobal             `yaml:"_global"`
	Profiles map[string]rawProfile `yaml:",inline"`
}

type rawGlobal struct {
	IgnoreGroups  map[string][]string `yaml:"ignore_groups"`
	DefaultIgnore []string            `yaml:"default_ignore"`
	Ignore        []string            `yaml:"ignore"`
}

type rawProfile struct {
	From rawFrom   `yaml:"from"`
	To   rawTo     `yaml:"to"`
}

type rawFrom struct {
	Type             string   `yaml:"type"`
	Base             string   `yaml:"base"`
	Target           string   `yaml:"target"`
	IncludeUntracked bool     `yaml:"include_untracked"`
	Src              []string `yaml:"src"`
}

type rawTo struct {
	Defaults rawTargetConfig   `yaml:"defaults"`
	Targets  []rawTargetConfig `yaml:"targets"`
}

type rawIgnoreRef struct {
	Use []string `yaml:"use"`
	Add []string `yaml:"add"`
}

type rawTargetConfig struct {
	Host         string        `yaml:"host"`
	Protocol     string        `yaml:"protocol"`
	Port         int           `yaml:"port"`
	User         string        `yaml:"user"`
	AuthType     string        `yaml:"auth_type"`
	KeyFile      string        `yaml:"key_file"`
	Password     string        `yaml:"password"`
	Dest         string        `yaml:"dest"`
	SyncMode     string        `yaml:"sync_mode"`
	Preserve     []string      `yaml:"preserve"`
	TimeoutSec   int           `yaml:"timeout"`
	Retry        *int          `yaml:"retry"`
	Concurrency  int           `yaml:"concurrency"`
	Ignore       *rawIgnoreRef `yaml:"ignore"`
	RsyncOptions []string      `yaml:"rsync_options"`
	LegacyMode   bool          `yaml:"legacy_mode"`
}

// Profile is one named, fully resolved deployment configuration.
type Profile struct {
	Name    string
	Source  SourceSpec
	Targets []model.ResolvedTarget
}

// SourceSpec describes how to obtain the source file set (spec.md §6:
// "from.type ∈ {git,file}"). The git/file resolvers themselves live in
// internal/resolve; this package only parses and validates the spec.
type SourceSpec struct {
	Type             string
	Base             string
	Target           string
	IncludeUntracked bool
	Src              []string
}

const (
	defaultTimeout     = 30 * time.Second
	defaultRetry       = 3
	defaultConcurrency = 10
)

// Load reads and validates the profile named name out of path.
func Load(path, name string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.New(apperr.ErrConfigLoad, err, fmt.Sprintf("cannot read configuration file %q", path))
	}
	return parse(data, name)
}

// List returns every profile name present in the configuration file (used
// by the "list" subcommand), excluding the reserved "_global" key.
func List(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.New(apperr.ErrConfigLoad, err, fmt.Sprintf("cannot read configuration file %q", path))
	}

	var doc rawDocument
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, apperr.New(apperr.ErrConfigValidation, err, "configuration file is malformed")
	}

	names := make([]string, 0, len(doc.Profiles))
	for name := range doc.Profiles {
		names = append(names, name)
	}
	return names, nil
}

func parse(data []byte, name string) (*Profile, error) {
	var doc rawDocument
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, apperr.New(apperr.ErrConfigValidation, err, "configuration file is malformed")
	}

	raw, ok := doc.Profiles[name]
	if !ok {
		return nil, apperr.New(apperr.ErrConfigValidation, nil, fmt.Sprintf("profile %q not found", name))
	}

	groupIgnores, err := resolveGlobalIgnore(doc.Global)
	if err != nil {
		return nil, err
	}

	source, err := resolveSource(raw.From)
	if err != nil {
		return nil, err
	}

	targets := make([]model.ResolvedTarget, 0, len(raw.To.Targets))
	for i, t := range raw.To.Targets {
		merged := mergeTargetConfig(raw.To.Defaults, t)
		rt, err := resolveTarget(i, merged, doc.Global, groupIgnores)
		if err != nil {
			return nil, err
		}
		targets = append(targets, *rt)
	}

	if len(targets) == 0 {
		return nil, apperr.New(apperr.ErrConfigValidation, nil, fmt.Sprintf("profile %q declares no targets", name))
	}

	return &Profile{Name: name, Source: source, Targets: targets}, nil
}

// resolveGlobalIgnore implements the open question from spec.md §9: the two
// forms of global ignore configuration ("_global.ignore" and
// "_global.ignore_groups"+"default_ignore") are mutually exclusive; having
// both present is a validation error rather than an attempt to compose them.
func resolveGlobalIgnore(g rawGlobal) (map[string][]string, error) {
	hasFlat := len(g.Ignore) > 0
	hasGroups := len(g.IgnoreGroups) > 0 || len(g.DefaultIgnore) > 0

	if hasFlat && hasGroups {
		return nil, apperr.New(apperr.ErrConfigValidation, nil,
			"_global.ignore cannot be combined with _global.ignore_groups/default_ignore")
	}
	if hasFlat {
		return map[string][]string{"": g.Ignore}, nil
	}
	return g.IgnoreGroups, nil
}

func resolveSource(f rawFrom) (SourceSpec, error) {
	switch f.Type {
	case "git":
		if f.Base == "" {
			return SourceSpec{}, apperr.New(apperr.ErrConfigValidation, nil, "from.base is required when from.type is \"git\"")
		}
		target := f.Target
		if target == "" {
			target = "HEAD"
		}
		return SourceSpec{
			Type:             "git",
			Base:             expand(f.Base),
			Target:           expand(target),
			IncludeUntracked: f.IncludeUntracked,
		}, nil
	case "file":
		if len(f.Src) == 0 {
			return SourceSpec{}, apperr.New(apperr.ErrConfigValidation, nil, "from.src is required when from.type is \"file\"")
		}
		src := make([]string, len(f.Src))
		for i, s := range f.Src {
			src[i] = expand(s)
		}
		return SourceSpec{Type: "file", Src: src}, nil
	default:
		return SourceSpec{}, apperr.New(apperr.ErrConfigValidation, nil, fmt.Sprintf("from.type must be \"git\" or \"file\", got %q", f.Type))
	}
}

// mergeTargetConfig applies defaults.* under any field target leaves zero,
// per spec.md §6: "to.defaults carries any TargetConfig field except dest;
// to.targets[] each must supply dest, with every other required field
// inheritable from defaults."
func mergeTargetConfig(defaults, target rawTargetConfig) rawTargetConfig {
	merged := target
	if merged.Host == "" {
		merged.Host = defaults.Host
	}
	if merged.Protocol == "" {
		merged.Protocol = defaults.Protocol
	}
	if merged.Port == 0 {
		merged.Port = defaults.Port
	}
	if merged.User == "" {
		merged.User = defaults.User
	}
	if merged.AuthType == "" {
		merged.AuthType = defaults.AuthType
	}
	if merged.KeyFile == "" {
		merged.KeyFile = defaults.KeyFile
	}
	if merged.Password == "" {
		merged.Password = defaults.Password
	}
	if merged.SyncMode == "" {
		merged.SyncMode = defaults.SyncMode
	}
	if len(merged.Preserve) == 0 {
		merged.Preserve = defaults.Preserve
	}
	if merged.TimeoutSec == 0 {
		merged.TimeoutSec = defaults.TimeoutSec
	}
	if merged.Retry == nil {
		merged.Retry = defaults.Retry
	}
	if merged.Concurrency == 0 {
		merged.Concurrency = defaults.Concurrency
	}
	if merged.Ignore == nil {
		merged.Ignore = defaults.Ignore
	}
	if len(merged.RsyncOptions) == 0 {
		merged.RsyncOptions = defaults.RsyncOptions
	}
	if !merged.LegacyMode {
		merged.LegacyMode = defaults.LegacyMode
	}
	return merged
}

func resolveTarget(index int, t rawTargetConfig, global rawGlobal, groupIgnores map[string][]string) (*model.ResolvedTarget, error) {
	if t.Dest == "" {
		return nil, apperr.New(apperr.ErrConfigValidation, nil, fmt.Sprintf("target %d: dest is required", index))
	}

	protocol, err := validateProtocol(t.Protocol, index)
	if err != nil {
		return nil, err
	}

	syncMode, err := validateSyncMode(t.SyncMode, index)
	if err != nil {
		return nil, err
	}

	authType := model.AuthSSHKey
	if t.AuthType != "" {
		at, err := validateAuthType(t.AuthType, index)
		if err != nil {
			return nil, err
		}
		authType = at
	}

	if protocol != model.ProtocolLocal {
		if t.Host == "" || t.User == "" {
			return nil, apperr.New(apperr.ErrConfigValidation, nil,
				fmt.Sprintf("target %d: host and user are required for protocol %q", index, protocol))
		}
	}

	ignorePatterns, err := resolveTargetIgnore(t.Ignore, global, groupIgnores)
	if err != nil {
		return nil, err
	}

	timeout := defaultTimeout
	if t.TimeoutSec > 0 {
		timeout = time.Duration(t.TimeoutSec) * time.Second
	}

	retry := defaultRetry
	if t.Retry != nil {
		retry = *t.Retry
	}

	concurrency := defaultConcurrency
	if t.Concurrency > 0 {
		concurrency = t.Concurrency
	}

	dest := expand(t.Dest)
	normalized := strings.TrimSuffix(dest, "/")

	return &model.ResolvedTarget{
		Index:    index,
		Host:     expand(t.Host),
		Protocol: protocol,
		Port:     t.Port,
		User:     expand(t.User),

		AuthType: authType,
		KeyFile:  expand(t.KeyFile),
		Password: expand(t.Password),

		Dest:    normalized,
		RawDest: dest,

		SyncMode:      syncMode,
		Preserve:      preserveFlags(t.Preserve),
		Timeout:       timeout,
		Retry:         retry,
		Concurrency:   concurrency,
		IgnorePattern: ignorePatterns,

		RsyncOptions: t.RsyncOptions,
		LegacyMode:   t.LegacyMode,
	}, nil
}

func validateProtocol(s string, index int) (model.Protocol, error) {
	switch model.Protocol(s) {
	case model.ProtocolSFTP, model.ProtocolSCP, model.ProtocolRsync, model.ProtocolLocal:
		return model.Protocol(s), nil
	default:
		return "", apperr.New(apperr.ErrConfigValidation, nil,
			fmt.Sprintf("target %d: protocol must be one of sftp, scp, rsync, local, got %q", index, s))
	}
}

func validateSyncMode(s string, index int) (model.SyncMode, error) {
	switch model.SyncMode(s) {
	case model.SyncUpdate, model.SyncMirror:
		return model.SyncMode(s), nil
	case "":
		return model.SyncUpdate, nil
	default:
		return "", apperr.New(apperr.ErrConfigValidation, nil,
			fmt.Sprintf("target %d: sync_mode must be update or mirror, got %q", index, s))
	}
}

func validateAuthType(s string, index int) (model.AuthType, error) {
	switch model.AuthType(s) {
	case model.AuthSSHKey, model.AuthPassword:
		return model.AuthType(s), nil
	default:
		return "", apperr.New(apperr.ErrConfigValidation, nil,
			fmt.Sprintf("target %d: auth_type must be ssh_key or password, got %q", index, s))
	}
}

func preserveFlags(flags []string) model.PreserveFlags {
	var pf model.PreserveFlags
	for _, f := range flags {
		switch f {
		case "mode":
			pf.Mode = true
		case "modtime":
			pf.ModTime = true
		case "owner":
			pf.Owner = true
		}
	}
	return pf
}

// resolveTargetIgnore implements spec.md §6: "target ignore = {use:
// [groupNames], add:[patterns]}"; a target lacking an explicit ignore block
// falls back to _global.default_ignore's named groups.
func resolveTargetIgnore(ref *rawIgnoreRef, global rawGlobal, groupIgnores map[string][]string) ([]string, error) {
	if ref == nil {
		if flat, ok := groupIgnores[""]; ok {
			return flat, nil
		}
		return expandGroups(global.DefaultIgnore, groupIgnores)
	}

	patterns, err := expandGroups(ref.Use, groupIgnores)
	if err != nil {
		return nil, err
	}
	return append(patterns, ref.Add...), nil
}

func expandGroups(names []string, groupIgnores map[string][]string) ([]string, error) {
	var out []string
	for _, name := range names {
		patterns, ok := groupIgnores[name]
		if !ok {
			return nil, apperr.New(apperr.ErrConfigValidation, nil, fmt.Sprintf("ignore group %q is not defined", name))
		}
		out = append(out, patterns...)
	}
	return out, nil
}

// expand applies environment-variable (${NAME}) and tilde expansion to a
// single string field, per spec.md §6.
func expand(s string) string {
	if s == "" {
		return s
	}
	s = os.Expand(s, func(key string) string {
		return os.Getenv(key)
	})
	if strings.HasPrefix(s, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			rest := strings.TrimPrefix(s, "~")
			s = filepath.Join(home, rest)
		}
	}
	return s
}
