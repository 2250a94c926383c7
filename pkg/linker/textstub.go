package linker

import (
	"bufio"
	"strconv"
	"strings"
)

// looksLikeTextStub reports whether b opens with a TBD document's
// "---" YAML-stream marker followed by an "archs:" or "install-name:"
// key within the first handful of lines — enough to distinguish a text
// stub from an archive or any Mach-O container without a full YAML
// parse (§4.4 dispatch step 5(d)).
func looksLikeTextStub(b []byte) bool {
	s := bufio.NewScanner(strings.NewReader(string(b)))
	s.Buffer(make([]byte, 0, 4096), 1<<16)
	lineNo := 0
	sawDocMarker := false
	for s.Scan() && lineNo < 20 {
		line := strings.TrimSpace(s.Text())
		lineNo++
		switch {
		case line == "---" || strings.HasPrefix(line, "--- !tapi"):
			sawDocMarker = true
		case strings.HasPrefix(line, "install-name:") && sawDocMarker:
			return true
		case strings.HasPrefix(line, "archs:") && sawDocMarker:
			return true
		}
	}
	return false
}

// parseTextStub decodes just the fields this core needs from a
// text-based dylib stub (a `.tbd` document): install path, versions,
// the flat list of exported symbol names, and the re-exported libraries
// (recorded as re-export dependents). TBD files are
// YAML, but no YAML library appears anywhere in the retrieved example
// corpus (see DESIGN.md); the handful of scalar and flow-sequence keys
// this core reads are parsed line-by-line instead of pulling in a
// general document model for one narrow, fixed schema.
func parseTextStub(path string, b []byte) (*Dylib, error) {
	d := &Dylib{
		fileBase:    fileBase{path: path},
		exports:     make(map[string]DylibExport),
		ignoreSet:   make(map[string]bool),
		exportCache: make(map[string]*ExportAtom),
	}

	sc := bufio.NewScanner(strings.NewReader(string(b)))
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	inExports := false
	inReexports := false
	for sc.Scan() {
		raw := sc.Text()
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		indent := len(raw) - len(strings.TrimLeft(raw, " "))

		switch {
		case strings.HasPrefix(trimmed, "install-name:"):
			d.InstallPath = unquote(strings.TrimSpace(strings.TrimPrefix(trimmed, "install-name:")))
			d.PublicInstallName = true
			inExports, inReexports = false, false
		case strings.HasPrefix(trimmed, "current-version:"):
			d.CurrentVersion = parseTBDVersion(strings.TrimSpace(strings.TrimPrefix(trimmed, "current-version:")))
			inExports, inReexports = false, false
		case strings.HasPrefix(trimmed, "compatibility-version:"):
			d.CompatVersion = parseTBDVersion(strings.TrimSpace(strings.TrimPrefix(trimmed, "compatibility-version:")))
			inExports, inReexports = false, false
		case strings.HasPrefix(trimmed, "parent-umbrella:"):
			d.ParentUmbrella = unquote(strings.TrimSpace(strings.TrimPrefix(trimmed, "parent-umbrella:")))
		case strings.HasPrefix(trimmed, "re-exports:"):
			inReexports, inExports = true, false
			for _, name := range flowSequenceValues(trimmed, "re-exports:") {
				d.Dependents = append(d.Dependents, &Dependent{Path: name, ReExport: true})
			}
		case strings.HasPrefix(trimmed, "symbols:") && indent > 0:
			inExports, inReexports = true, false
			for _, name := range flowSequenceValues(trimmed, "symbols:") {
				d.exports[name] = DylibExport{Name: name}
			}
		case strings.HasPrefix(trimmed, "-") && inExports:
			name := unquote(strings.TrimSpace(strings.TrimPrefix(trimmed, "-")))
			if name != "" {
				d.exports[name] = DylibExport{Name: name}
			}
		case strings.HasPrefix(trimmed, "-") && inReexports:
			name := unquote(strings.TrimSpace(strings.TrimPrefix(trimmed, "-")))
			if name != "" {
				d.Dependents = append(d.Dependents, &Dependent{Path: name, ReExport: true})
			}
		case strings.HasSuffix(trimmed, ":"):
			inExports, inReexports = false, false
		}
	}
	if d.InstallPath == "" {
		return nil, malformed(path, "text stub missing install-name")
	}
	return d, nil
}

func unquote(s string) string {
	s = strings.Trim(s, "'\"")
	return s
}

func flowSequenceValues(line, prefix string) []string {
	rest := strings.TrimSpace(strings.TrimPrefix(line, prefix))
	rest = strings.TrimPrefix(rest, "[")
	rest = strings.TrimSuffix(rest, "]")
	if rest == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(rest, ",") {
		v := unquote(strings.TrimSpace(part))
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func parseTBDVersion(s string) Version {
	s = unquote(s)
	parts := strings.SplitN(s, ".", 3)
	var nums [3]uint64
	for i := 0; i < len(parts) && i < 3; i++ {
		v, err := strconv.ParseUint(parts[i], 10, 8)
		if err != nil {
			continue
		}
		nums[i] = v
	}
	return NewVersion(uint8(nums[0]), uint8(nums[1]), uint8(nums[2]))
}
