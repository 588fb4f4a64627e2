package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/s3db/s3db/internal/blob"
)

// EventMetadataHealed is the event name a caller should emit on the
// Database's event bus after Load, carrying the returned HealingLog
// (spec.md §4.4, §6).
const EventMetadataHealed = "metadataHealed"

// HealingLog records which healing steps ran and what each one did, so the
// caller can emit a metadataHealed event carrying the same detail spec.md
// §4.4 calls for.
type HealingLog struct {
	Steps []string
}

func (h *HealingLog) note(step, detail string) {
	if detail == "" {
		h.Steps = append(h.Steps, step)
		return
	}
	h.Steps = append(h.Steps, fmt.Sprintf("%s: %s", step, detail))
}

var trailingCommaRe = regexp.MustCompile(`,(\s*[}\]])`)

// Heal runs the five-step healing pipeline against raw manifest bytes,
// returning a manifest that always parses and a log of what was repaired.
// Every step is idempotent: re-running against a healthy manifest is a
// no-op, satisfying spec.md §4.4's round-trip law.
func Heal(ctx context.Context, backend blob.Backend, raw []byte) (*Manifest, *HealingLog, error) {
	log := &HealingLog{}

	repaired, syntacticallyOK := syntacticRepair(raw, log)
	if !syntacticallyOK {
		return panicMode(ctx, backend, raw, log)
	}

	var m Manifest
	if err := json.Unmarshal(repaired, &m); err != nil {
		return panicMode(ctx, backend, raw, log)
	}

	structuralRepair(&m, log)
	perResourceRepair(&m, log)
	hookSanitation(&m, log)

	return &m, log, nil
}

// syntacticRepair strips trailing commas and balances unclosed braces/
// brackets (spec.md §4.4 step 1), returning whether the result is at least
// parseable JSON (it does not guarantee a valid Manifest shape — that is
// step 2's job).
func syntacticRepair(raw []byte, log *HealingLog) ([]byte, bool) {
	if json.Valid(raw) {
		return raw, true
	}

	fixed := trailingCommaRe.ReplaceAll(raw, []byte("$1"))
	fixed = balanceBrackets(fixed)

	if json.Valid(fixed) {
		log.note("syntactic-repair", "stripped trailing commas / balanced brackets")
		return fixed, true
	}
	return raw, false
}

func balanceBrackets(b []byte) []byte {
	s := string(b)
	var stack []byte
	inString := false
	escaped := false
	for _, c := range s {
		if inString {
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == byte(c) {
				stack = stack[:len(stack)-1]
			}
		}
	}
	for i := len(stack) - 1; i >= 0; i-- {
		s += string(stack[i])
	}
	return []byte(s)
}

// structuralRepair ensures the manifest's top-level keys exist (spec.md
// §4.4 step 2).
func structuralRepair(m *Manifest, log *HealingLog) {
	repaired := false
	if m.Version == "" {
		m.Version = CurrentVersion
		repaired = true
	}
	if m.S3DBVersion == "" {
		m.S3DBVersion = CurrentVersion
		repaired = true
	}
	if m.LastUpdated.IsZero() {
		m.LastUpdated = time.Now().UTC()
		repaired = true
	}
	if m.Resources == nil {
		m.Resources = make(map[string]ResourceEntry)
		repaired = true
	}
	if repaired {
		log.note("structural-repair", "filled missing top-level keys")
	}
}

// perResourceRepair ensures each resource's "versions" map exists and that
// currentVersion names an existing entry, re-pointing to the
// lexicographically latest vN otherwise (spec.md §4.4 step 3).
func perResourceRepair(m *Manifest, log *HealingLog) {
	for name, entry := range m.Resources {
		changed := false
		if entry.Versions == nil {
			entry.Versions = make(map[string]VersionEntry)
			changed = true
		}
		if _, ok := entry.Versions[entry.CurrentVersion]; !ok && len(entry.Versions) > 0 {
			entry.CurrentVersion = latestVersionKey(entry.Versions)
			changed = true
		}
		if changed {
			m.Resources[name] = entry
			log.note("per-resource-repair", fmt.Sprintf("resource %q repointed/initialized", name))
		}
	}
}

func latestVersionKey(versions map[string]VersionEntry) string {
	keys := make([]string, 0, len(versions))
	for k := range versions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) == 0 {
		return ""
	}
	return keys[len(keys)-1]
}

// hookSanitation drops non-string hook-registry entries and coerces
// scalars mistyped as arrays into empty arrays (spec.md §4.4 step 4).
func hookSanitation(m *Manifest, log *HealingLog) {
	for name, entry := range m.Resources {
		changed := false
		for vName, v := range entry.Versions {
			for hookName, names := range v.Hooks {
				clean := make([]string, 0, len(names))
				for _, n := range names {
					if strings.TrimSpace(n) != "" {
						clean = append(clean, n)
					} else {
						changed = true
					}
				}
				v.Hooks[hookName] = clean
			}
			entry.Versions[vName] = v
		}
		if changed {
			m.Resources[name] = entry
			log.note("hook-sanitation", fmt.Sprintf("resource %q hook arrays cleaned", name))
		}
	}
}

// panicMode is step 5: when the manifest still will not parse, the corrupt
// body is archived and a blank manifest takes its place.
func panicMode(ctx context.Context, backend blob.Backend, raw []byte, log *HealingLog) (*Manifest, *HealingLog, error) {
	backupKey := fmt.Sprintf("%s.corrupted.%s.backup", ManifestKey, time.Now().UTC().Format("2006-01-02T15-04-05.000Z"))
	if backend != nil {
		if err := backend.PutObject(ctx, backupKey, raw, nil, "application/octet-stream"); err != nil {
			return nil, nil, fmt.Errorf("panic mode: backing up corrupt manifest: %w", err)
		}
	}
	log.note("panic-mode", "manifest unparseable, archived to "+backupKey)
	return blankManifest(), log, nil
}
