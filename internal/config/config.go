// Package config loads an optional TOML defaults file that seeds
// Options before CLI flags are applied on top of it. There is only ever
// one run and one set of switches — no multi-drive or per-profile model,
// unlike the source tool's config layer this one is trimmed from.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/tonimelisma/localsync/internal/option"
)

// Defaults is the flat TOML document shape: one key per Options field a
// user would plausibly want to pin in a defaults file rather than type on
// every invocation. Fields absent from the file keep Options' zero value;
// Apply only overwrites what was actually present.
type Defaults struct {
	Delete            *bool    `toml:"delete"`
	DeleteExcluded    *bool    `toml:"delete_excluded"`
	MaxDeletions      *int     `toml:"max_deletions"`
	IgnoreExisting    *bool    `toml:"ignore_existing"`
	Update            *bool    `toml:"update"`
	ModifyWindow      *string  `toml:"modify_window"`
	SizeOnly          *bool    `toml:"size_only"`
	ChecksumAlgorithm *string  `toml:"checksum_algorithm"`
	OneFileSystem     *bool    `toml:"one_file_system"`
	PruneEmptyDirs    *bool    `toml:"prune_empty_dirs"`
	CopyLinks         *bool    `toml:"copy_links"`
	SafeLinks         *bool    `toml:"safe_links"`
	Devices           *bool    `toml:"devices"`
	Specials          *bool    `toml:"specials"`
	WholeFile         *bool    `toml:"whole_file"`
	Partial           *bool    `toml:"partial"`
	PartialDir        *string  `toml:"partial_dir"`
	Compress          *bool    `toml:"compress"`
	CompressionLevel  *int     `toml:"compression_level"`
	SkipCompress      []string `toml:"skip_compress"`
	BandwidthLimit    *int64   `toml:"bandwidth_limit"`
	Timeout           *string  `toml:"timeout"`
	Perms             *bool    `toml:"perms"`
	Times             *bool    `toml:"times"`
	Owner             *bool    `toml:"owner"`
	Group             *bool    `toml:"group"`
	Xattrs            *bool    `toml:"xattrs"`
	HardLinks         *bool    `toml:"hard_links"`
	Backup            *bool    `toml:"backup"`
	BackupDir         *string  `toml:"backup_dir"`
	BackupSuffix      *string  `toml:"backup_suffix"`
}

// Load reads and decodes a TOML defaults file, rejecting unknown keys
// with a "did you mean?" suggestion the way the source tool's config
// loader does.
func Load(path string, logger *slog.Logger) (*Defaults, error) {
	logger.Debug("loading config defaults", "path", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	var d Defaults

	md, err := toml.Decode(string(data), &d)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	return &d, nil
}

// LoadOrDefault reads path if it exists, otherwise returns an empty
// Defaults (every field absent, Apply is a no-op).
func LoadOrDefault(path string, logger *slog.Logger) (*Defaults, error) {
	if path == "" {
		return &Defaults{}, nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Debug("config file not found, using built-in defaults", "path", path)
		return &Defaults{}, nil
	}

	return Load(path, logger)
}

// Apply overlays d onto opts, returning the result. Only fields present
// in d (non-nil pointers, non-empty slices) override opts; everything
// else is left as the CLI/struct zero value for Normalize to resolve.
func (d *Defaults) Apply(opts option.Options) option.Options {
	if d == nil {
		return opts
	}

	applyBool(&opts.Delete, d.Delete)
	applyBool(&opts.DeleteExcluded, d.DeleteExcluded)
	applyInt(&opts.MaxDeletions, d.MaxDeletions)
	applyBool(&opts.IgnoreExisting, d.IgnoreExisting)
	applyBool(&opts.Update, d.Update)
	applyDuration(&opts.ModifyWindow, d.ModifyWindow)
	applyBool(&opts.SizeOnly, d.SizeOnly)
	applyString(&opts.ChecksumAlgorithm, d.ChecksumAlgorithm)
	applyBool(&opts.OneFileSystem, d.OneFileSystem)
	applyBool(&opts.PruneEmptyDirs, d.PruneEmptyDirs)
	applyBool(&opts.CopyLinks, d.CopyLinks)
	applyBool(&opts.SafeLinks, d.SafeLinks)
	applyBool(&opts.Devices, d.Devices)
	applyBool(&opts.Specials, d.Specials)
	applyBool(&opts.WholeFile, d.WholeFile)
	applyBool(&opts.Partial, d.Partial)
	applyString(&opts.PartialDir, d.PartialDir)
	applyBool(&opts.Compress, d.Compress)
	applyInt(&opts.CompressionLevel, d.CompressionLevel)

	if len(d.SkipCompress) > 0 {
		opts.SkipCompress = d.SkipCompress
	}

	if d.BandwidthLimit != nil {
		opts.BandwidthLimit = *d.BandwidthLimit
	}

	applyDuration(&opts.Timeout, d.Timeout)
	applyBool(&opts.Perms, d.Perms)
	applyBool(&opts.Times, d.Times)
	applyBool(&opts.Owner, d.Owner)
	applyBool(&opts.Group, d.Group)
	applyBool(&opts.Xattrs, d.Xattrs)
	applyBool(&opts.HardLinks, d.HardLinks)
	applyBool(&opts.Backup, d.Backup)
	applyString(&opts.BackupDir, d.BackupDir)
	applyString(&opts.BackupSuffix, d.BackupSuffix)

	return opts
}

func applyBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func applyInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func applyString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func applyDuration(dst *time.Duration, src *string) {
	if src == nil {
		return
	}

	if d, err := time.ParseDuration(*src); err == nil {
		*dst = d
	}
}
