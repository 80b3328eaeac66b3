package edit

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// PreferredLineEnding looks for a line ending rule covering abs in
// .editorconfig files, then .gitattributes files, walking from the file's
// directory up to root. It is consulted only for files that do not exist yet;
// existing files keep whatever they already use.
func PreferredLineEnding(root, abs string) (LineEnding, bool) {
	dirs := ancestors(root, filepath.Dir(abs))

	for _, dir := range dirs {
		le, found, stop := editorconfigRule(dir, abs)
		if found {
			return le, true
		}
		if stop {
			break
		}
	}
	for _, dir := range dirs {
		if le, found := gitattributesRule(dir, abs); found {
			return le, true
		}
	}
	return "", false
}

// ancestors lists dir and its parents up to and including root, nearest first.
func ancestors(root, dir string) []string {
	root = filepath.Clean(root)
	dir = filepath.Clean(dir)

	var dirs []string
	for {
		dirs = append(dirs, dir)
		if dir == root {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		rel, err := filepath.Rel(root, parent)
		if err != nil || strings.HasPrefix(rel, "..") {
			break
		}
		dir = parent
	}
	return dirs
}

// editorconfigRule returns the end_of_line value of the last matching section.
// stop is set when the file declares root = true.
func editorconfigRule(dir, abs string) (le LineEnding, found, stop bool) {
	f, err := os.Open(filepath.Join(dir, ".editorconfig"))
	if err != nil {
		return "", false, false
	}
	defer f.Close()

	rel, err := filepath.Rel(dir, abs)
	if err != nil {
		return "", false, false
	}
	rel = filepath.ToSlash(rel)

	matching := false
	preamble := true
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			preamble = false
			matching = globMatch(line[1:len(line)-1], rel)
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		if preamble && key == "root" && strings.EqualFold(value, "true") {
			stop = true
		}
		if matching && key == "end_of_line" {
			if parsed, ok := ParseLineEnding(value); ok {
				le, found = parsed, true
			}
		}
	}
	return le, found, stop
}

// gitattributesRule returns the eol attribute of the last matching line.
func gitattributesRule(dir, abs string) (LineEnding, bool) {
	f, err := os.Open(filepath.Join(dir, ".gitattributes"))
	if err != nil {
		return "", false
	}
	defer f.Close()

	rel, err := filepath.Rel(dir, abs)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)

	var le LineEnding
	found := false
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		if !globMatch(fields[0], rel) {
			continue
		}
		for _, attr := range fields[1:] {
			if v, ok := strings.CutPrefix(attr, "eol="); ok {
				if parsed, ok := ParseLineEnding(v); ok {
					le, found = parsed, true
				}
			}
		}
	}
	return le, found
}

// globMatch matches the subset of glob syntax shared by .editorconfig and
// .gitattributes: *, ?, [...], {a,b} and ** path segments. Patterns without a
// slash match the base name at any depth.
func globMatch(pattern, rel string) bool {
	for _, p := range expandBraces(pattern) {
		p = strings.TrimPrefix(p, "/")
		if !strings.Contains(p, "/") {
			if ok, _ := filepath.Match(p, pathBase(rel)); ok {
				return true
			}
			continue
		}
		if matchSegments(strings.Split(p, "/"), strings.Split(rel, "/")) {
			return true
		}
	}
	return false
}

func pathBase(rel string) string {
	if i := strings.LastIndexByte(rel, '/'); i >= 0 {
		return rel[i+1:]
	}
	return rel
}

func matchSegments(pattern, parts []string) bool {
	if len(pattern) == 0 {
		return len(parts) == 0
	}
	if pattern[0] == "**" {
		for i := 0; i <= len(parts); i++ {
			if matchSegments(pattern[1:], parts[i:]) {
				return true
			}
		}
		return false
	}
	if len(parts) == 0 {
		return false
	}
	if ok, _ := filepath.Match(pattern[0], parts[0]); !ok {
		return false
	}
	return matchSegments(pattern[1:], parts[1:])
}

// expandBraces expands the first {a,b,...} group recursively.
func expandBraces(pattern string) []string {
	open := strings.IndexByte(pattern, '{')
	if open < 0 {
		return []string{pattern}
	}
	closing := strings.IndexByte(pattern[open:], '}')
	if closing < 0 {
		return []string{pattern}
	}
	closing += open

	var out []string
	for _, alt := range strings.Split(pattern[open+1:closing], ",") {
		out = append(out, expandBraces(pattern[:open]+alt+pattern[closing+1:])...)
	}
	return out
}
