package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/quillpm/quill/internal/cache"
	"github.com/quillpm/quill/internal/ident"
	"github.com/quillpm/quill/internal/locator"
	"github.com/quillpm/quill/internal/manifest"
	"github.com/quillpm/quill/internal/resolver"
)

// packument is the subset of an npm registry "abbreviated metadata"
// response (Accept: application/vnd.npm.install-v1+json, the header
// internal/cache/manifest.go already sends) this module needs: per-version
// dist info plus the package-level dist-tags and release times.
type packument struct {
	DistTags map[string]string          `json:"dist-tags"`
	Versions map[string]packumentVersion `json:"versions"`
	Time     map[string]string          `json:"time"`
}

type packumentVersion struct {
	Dist struct {
		Tarball string `json:"tarball"`
		Shasum  string `json:"shasum"`
	} `json:"dist"`
}

func decodeParsedMetadata(body []byte) (cache.ParsedMetadata, error) {
	var p packument
	if err := json.Unmarshal(body, &p); err != nil {
		return cache.ParsedMetadata{}, err
	}
	versions := make([]string, 0, len(p.Versions))
	for v := range p.Versions {
		versions = append(versions, v)
	}
	return cache.ParsedMetadata{
		Versions:     versions,
		DistTags:     p.DistTags,
		ReleaseTimes: p.Time,
	}, nil
}

func (f *Fetcher) packagePath(id ident.Ident) string {
	if id.IsScoped() {
		return "/" + urlPathEscape(id.Scope) + "/" + urlPathEscape(id.Name)
	}
	return "/" + urlPathEscape(id.Name)
}

func urlPathEscape(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '@' {
			out = append(out, '%', '4', '0')
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}

// Versions implements resolver.RegistrySource.
func (f *Fetcher) Versions(ctx context.Context, id ident.Ident) (resolver.RegistryVersions, error) {
	parsed, err := f.Manifest.Parsed(ctx, f.Registry.Base, f.packagePath(id), decodeParsedMetadata)
	if err != nil {
		return resolver.RegistryVersions{}, err
	}

	releaseTimes := make(map[string]time.Time, len(parsed.ReleaseTimes))
	for v, raw := range parsed.ReleaseTimes {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			releaseTimes[v] = t
		}
	}
	return resolver.RegistryVersions{
		Versions:     parsed.Versions,
		DistTags:     parsed.DistTags,
		ReleaseTimes: releaseTimes,
	}, nil
}

// Manifest implements resolver.RegistrySource: downloads l's tarball,
// archives it, and returns the package.json found inside.
func (f *Fetcher) Manifest(ctx context.Context, l locator.Locator) (*manifest.Manifest, error) {
	if ok := f.Archive.Exists(l); ok.Local {
		return f.readManifestFromArchive(l)
	}
	if f.DryRun {
		return nil, &MissingZipError{Locator: l}
	}

	tarballURL, err := f.tarballURL(ctx, l)
	if err != nil {
		return nil, err
	}

	tgz := f.scratchDir(l.ToFileString() + ".download").UntypedJoin("package.tgz")
	if err := f.Downloader.DownloadToFile(ctx, tarballURL, tgz); err != nil {
		return nil, err
	}
	defer tgz.Dir().RemoveAll()

	if _, err := f.putArchive(l, tgz); err != nil {
		return nil, err
	}
	return f.readManifestFromArchive(l)
}

func (f *Fetcher) tarballURL(ctx context.Context, l locator.Locator) (string, error) {
	if l.Reference.NonConventionalURL != "" {
		return l.Reference.NonConventionalURL, nil
	}
	body, err := f.Manifest.Fetch(ctx, f.Registry.Base, f.packagePath(l.Ident))
	if err != nil {
		return "", err
	}
	var p packument
	if err := json.Unmarshal(body, &p); err != nil {
		return "", fmt.Errorf("fetch: decode packument for %s: %w", l.Ident.String(), err)
	}
	v, ok := p.Versions[l.Reference.Version]
	if !ok || v.Dist.Tarball == "" {
		return "", fmt.Errorf("fetch: no tarball url for %s", l.ToHumanString())
	}
	return v.Dist.Tarball, nil
}

// MissingZipError is returned in dry-run mode for a locator the archive
// cache doesn't already have, per spec §4.F's "missing-zip (cache miss in
// mock/dry-run mode)" storage mode — a caller that only needs the package
// graph shape (not real bytes) can treat this as non-fatal.
type MissingZipError struct {
	Locator locator.Locator
}

func (e *MissingZipError) Error() string {
	return fmt.Sprintf("fetch: %s not cached (dry-run, no network fetch performed)", e.Locator.ToHumanString())
}
