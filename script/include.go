package script

import (
	"path/filepath"
	"strings"
)

// FileReader abstracts the filesystem so includes can be resolved against
// an in-memory fixture during tests as well as the real disk.
type FileReader interface {
	ReadFile(path string) ([]byte, error)
}

// ResolveIncludes rewrites src by inlining every `include "path"` line,
// recursively, relative to baseDir. Paths are resolved relative to the
// directory of the file that contains the include directive, so a nested
// include can itself reference files relative to its own location.
//
// An include whose target file cannot be read is not a hard failure
// (spec.md §4.3): the `include "path"` line is left in the output
// unchanged instead of being inlined, so ParseScript's own include-line
// recognition records it as an unresolved IncludeDef and the script
// continues to tokenize/parse/evaluate with whatever it references simply
// undefined — the same ReferenceError path any other missing variable
// takes. Only a cycle (a file transitively including itself) aborts
// resolution outright, as an IncludeCycleError.
func ResolveIncludes(src string, baseDir string, fr FileReader) (string, error) {
	return resolveIncludesRec(src, baseDir, fr, map[string]bool{})
}

func resolveIncludesRec(src string, dir string, fr FileReader, visiting map[string]bool) (string, error) {
	lines := strings.Split(src, "\n")
	var out []string
	for _, line := range lines {
		path, ok := parseIncludeLine(line)
		if !ok {
			out = append(out, line)
			continue
		}
		full := path
		if !filepath.IsAbs(full) {
			full = filepath.Join(dir, path)
		}
		key := filepath.Clean(full)
		if visiting[key] {
			return "", &IncludeCycleError{Path: key}
		}
		data, err := fr.ReadFile(full)
		if err != nil {
			out = append(out, line)
			continue
		}
		visiting[key] = true
		inlined, err := resolveIncludesRec(string(data), filepath.Dir(full), fr, visiting)
		delete(visiting, key)
		if err != nil {
			return "", err
		}
		out = append(out, inlined)
	}
	return strings.Join(out, "\n"), nil
}

// parseIncludeLine recognizes a line of the form `include "path"`,
// tolerating leading/trailing whitespace and either quote style.
func parseIncludeLine(line string) (string, bool) {
	t := strings.TrimSpace(line)
	if !strings.HasPrefix(t, "include ") && !strings.HasPrefix(t, "include\t") {
		return "", false
	}
	rest := strings.TrimSpace(t[len("include"):])
	if len(rest) < 2 {
		return "", false
	}
	quote := rest[0]
	if quote != '"' && quote != '\'' {
		return "", false
	}
	end := strings.IndexByte(rest[1:], quote)
	if end == -1 {
		return "", false
	}
	return rest[1 : 1+end], true
}
