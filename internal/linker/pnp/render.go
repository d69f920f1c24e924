package pnp

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/quillpm/quill/internal/turbopath"
)

// MarshalJSON renders the payload in the array-of-pairs shape the PnP
// runtime format requires: package_registry_data (and each ident's
// reference table within it) is an array of [key, value] pairs rather
// than a JSON object, since a key can be absent (the project-root entry)
// in a way no string key can represent.
func (p *Payload) MarshalJSON() ([]byte, error) {
	registry := make([]json.RawMessage, 0, len(p.PackageRegistryData))
	byIdent := map[string][]RegistryEntry{}
	var identOrder []string
	for _, e := range p.PackageRegistryData {
		if _, ok := byIdent[e.Ident]; !ok {
			identOrder = append(identOrder, e.Ident)
		}
		byIdent[e.Ident] = append(byIdent[e.Ident], e)
	}
	for _, id := range identOrder {
		refTable := make([]json.RawMessage, 0, len(byIdent[id]))
		for _, e := range byIdent[id] {
			pair, err := pairJSON(nullableString(e.Reference), e.Info)
			if err != nil {
				return nil, err
			}
			refTable = append(refTable, pair)
		}
		pair, err := pairJSONRaw(nullableString(id), rawArray(refTable))
		if err != nil {
			return nil, err
		}
		registry = append(registry, pair)
	}

	exclusions := make([]json.RawMessage, 0, len(p.FallbackExclusionList))
	for _, ex := range p.FallbackExclusionList {
		refs := make([]json.RawMessage, 0, len(ex.References))
		for _, r := range ex.References {
			b, _ := json.Marshal(r)
			refs = append(refs, b)
		}
		pair, err := pairJSONRaw(nullableString(ex.Ident), rawArray(refs))
		if err != nil {
			return nil, err
		}
		exclusions = append(exclusions, pair)
	}

	roots := make([]map[string]string, 0, len(p.DependencyTreeRoots))
	for _, r := range p.DependencyTreeRoots {
		roots = append(roots, map[string]string{"name": r.Name, "reference": r.Reference})
	}

	out := struct {
		EnableTopLevelFallback bool              `json:"enableTopLevelFallback"`
		FallbackPool           []any             `json:"fallbackPool"`
		FallbackExclusionList  []json.RawMessage `json:"fallbackExclusionList"`
		IgnorePatternData      []string          `json:"ignorePatternData,omitempty"`
		PackageRegistryData    []json.RawMessage `json:"packageRegistryData"`
		DependencyTreeRoots    []map[string]string `json:"dependencyTreeRoots"`
	}{
		EnableTopLevelFallback: p.EnableTopLevelFallback,
		FallbackPool:           []any{},
		FallbackExclusionList:  exclusions,
		IgnorePatternData:      p.IgnorePatterns,
		PackageRegistryData:    registry,
		DependencyTreeRoots:    roots,
	}
	return json.Marshal(out)
}

// PackageInfo's own JSON shape (camelCase, dependencies as pair array).
func (i PackageInfo) MarshalJSON() ([]byte, error) {
	deps := make([]json.RawMessage, 0, len(i.Dependencies))
	for _, d := range i.Dependencies {
		var target json.RawMessage
		switch {
		case d.Target == nil:
			target = []byte("null")
		case d.Target.AliasIdent != "":
			b, err := json.Marshal([2]string{d.Target.AliasIdent, d.Target.Reference})
			if err != nil {
				return nil, err
			}
			target = b
		default:
			b, err := json.Marshal(d.Target.Reference)
			if err != nil {
				return nil, err
			}
			target = b
		}
		pair, err := pairJSONRaw(mustJSON(d.Ident), target)
		if err != nil {
			return nil, err
		}
		deps = append(deps, pair)
	}

	out := struct {
		PackageLocation     string            `json:"packageLocation"`
		PackageDependencies []json.RawMessage `json:"packageDependencies"`
		PackagePeers        []string          `json:"packagePeers"`
		LinkType            string            `json:"linkType"`
		DiscardFromLookup   bool              `json:"discardFromLookup"`
	}{
		PackageLocation:     i.Location,
		PackageDependencies: deps,
		PackagePeers:        i.Peers,
		LinkType:            i.LinkType,
		DiscardFromLookup:   i.DiscardFromLookup,
	}
	return json.Marshal(out)
}

func nullableString(s string) json.RawMessage {
	if s == "" {
		return []byte("null")
	}
	return mustJSON(s)
}

func mustJSON(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

func rawArray(items []json.RawMessage) json.RawMessage {
	if len(items) == 0 {
		return []byte("[]")
	}
	b, _ := json.Marshal(items)
	return b
}

func pairJSON(key json.RawMessage, value any) (json.RawMessage, error) {
	v, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return pairJSONRaw(key, v)
}

func pairJSONRaw(key, value json.RawMessage) (json.RawMessage, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	buf.Write(key)
	buf.WriteByte(',')
	buf.Write(value)
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// Encode serializes the payload for .pnp.data.json: indented, stable key
// order, trailing newline.
func (p *Payload) Encode() ([]byte, error) {
	buf, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(buf, '\n'), nil
}

// pnpShebang is prepended to the generated loader the same way the
// teacher's generated shell wrappers carry one, so `.pnp.cjs` is directly
// executable as a diagnostic ("node .pnp.cjs --help" style checks).
const pnpShebang = "#!/usr/bin/env node"

// WriteSplit emits .pnp.cjs (a thin loader that reads the sibling data
// file at runtime) and .pnp.data.json (the payload itself), matching
// original_source's generate_split_setup. The module resolution hook body
// itself is the runtime's concern (spec §1 Non-goals); $$SETUP_STATE below
// is the seam a real loader implementation hangs off.
func (p *Payload) WriteSplit(rootDir turbopath.AbsoluteSystemPath) error {
	data, err := p.Encode()
	if err != nil {
		return fmt.Errorf("pnp: encode payload: %w", err)
	}
	if err := rootDir.UntypedJoin(".pnp.data.json").WriteFile(data, 0o644); err != nil {
		return fmt.Errorf("pnp: write .pnp.data.json: %w", err)
	}

	loader := pnpShebang + "\n" +
		"/* eslint-disable */\n" +
		"// @ts-nocheck\n" +
		"\"use strict\";\n\n" +
		"function $$SETUP_STATE(hydrateRuntimeState, basePath) {\n" +
		"  const fs = require('fs');\n" +
		"  const path = require('path');\n" +
		"  const pnpDataFilepath = path.resolve(__dirname, '.pnp.data.json');\n" +
		"  return hydrateRuntimeState(JSON.parse(fs.readFileSync(pnpDataFilepath, 'utf8')), {basePath: basePath || __dirname});\n" +
		"}\n\n" +
		"module.exports.setup = $$SETUP_STATE;\n"
	if err := rootDir.UntypedJoin(".pnp.cjs").WriteFile([]byte(loader), 0o755); err != nil {
		return fmt.Errorf("pnp: write .pnp.cjs: %w", err)
	}
	return nil
}
