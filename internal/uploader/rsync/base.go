package rsync

import "strings"

// CommonBaseDir implements spec.md §4.4: the longest directory prefix
// shared by every path in the upload set (possibly several segments, e.g.
// "app/config") is the "base directory" used to tighten the rsync scope
// and to re-prefix returned entries. Returns "" when there is no shared
// leading directory.
func CommonBaseDir(paths []string) string {
	if len(paths) == 0 {
		return ""
	}

	first := strings.Split(paths[0], "/")
	if len(first) < 2 {
		return ""
	}
	base := first[:len(first)-1]

	for _, p := range paths[1:] {
		segs := strings.Split(p, "/")
		dirLen := len(segs) - 1
		if dirLen < 0 {
			dirLen = 0
		}
		base = commonPrefix(base, segs[:dirLen])
		if len(base) == 0 {
			return ""
		}
	}

	return strings.Join(base, "/")
}

func commonPrefix(a, b []string) []string {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return a[:i]
}
