package dosbox

import (
	"fmt"
	"path/filepath"
	"strings"
)

// dosName maps an arbitrary host file name to an upper-case 8.3 name.
func dosName(name string) string {
	base := filepath.Base(name)
	ext := filepath.Ext(base)
	stem := cleanDOS(strings.TrimSuffix(base, ext), 8)
	if stem == "" {
		stem = "FILE"
	}
	ext = cleanDOS(strings.TrimPrefix(ext, "."), 3)
	if ext == "" {
		return stem
	}
	return stem + "." + ext
}

func cleanDOS(s string, n int) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if b.Len() == n {
			break
		}
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case strings.ContainsRune("_-!#$%&'()@^{}~", r):
			b.WriteRune(r)
		}
	}
	return b.String()
}

// nameTable hands out unique 8.3 names within one drive directory.
type nameTable map[string]struct{}

func (t nameTable) assign(name string) string {
	n := dosName(name)
	if _, taken := t[n]; !taken {
		t[n] = struct{}{}
		return n
	}

	stem, ext, _ := strings.Cut(n, ".")
	for i := 1; ; i++ {
		suffix := fmt.Sprintf("~%d", i)
		s := stem
		if len(s)+len(suffix) > 8 {
			s = s[:8-len(suffix)]
		}
		c := s + suffix
		if ext != "" {
			c += "." + ext
		}
		if _, taken := t[c]; !taken {
			t[c] = struct{}{}
			return c
		}
	}
}
