package script

import (
	"bufio"
	"math"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// ResolveLine turns a Read or Play bound into a 1-based line number. An
// integer is taken literally. Anything else is a label matched against lines
// equal to "#label". A missing label resolves to math.MaxInt.
func ResolveLine(fs afero.Fs, labelOrLine, path string) (int, error) {
	if n, err := strconv.Atoi(labelOrLine); err == nil {
		return n, nil
	}

	f, err := fs.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	want := "#" + labelOrLine
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		if strings.TrimSpace(scanner.Text()) == want {
			return line, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return math.MaxInt, nil
}

// resolvePath finds the file a Read argument refers to. Files shared through
// chat often had their spaces replaced by underscores, so that variant is
// tried last.
func (l *Loader) resolvePath(arg, including string) (string, bool) {
	dir := filepath.Dir(including)
	for _, name := range []string{arg, strings.ReplaceAll(arg, " ", "_")} {
		if p, ok := l.find(name, dir); ok {
			return p, true
		}
	}
	return "", false
}

func (l *Loader) find(name, dir string) (string, bool) {
	if l.isFile(name) {
		return name, true
	}
	if filepath.IsAbs(name) {
		return "", false
	}

	joined := filepath.Join(dir, name)
	if l.isFile(joined) {
		return joined, true
	}

	// "Read, 1A" finds "1A - Forsaken City.tas".
	prefixDir, prefix := filepath.Split(joined)
	entries, err := afero.ReadDir(l.fs, prefixDir)
	if err != nil {
		return "", false
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), prefix) && strings.HasSuffix(e.Name(), ".tas") {
			return filepath.Join(prefixDir, e.Name()), true
		}
	}
	return "", false
}

func (l *Loader) isFile(path string) bool {
	info, err := l.fs.Stat(path)
	return err == nil && !info.IsDir()
}

func samePath(a, b string) bool {
	return absPath(a) == absPath(b)
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}

