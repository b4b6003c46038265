package kb

import (
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

var releaseQualifiers = []string{".final", ".release", ".ga", "-final", "-release", "-ga"}

// NormalizeVersion maps a Maven-style version onto semver ("2.0.1.Final" ->
// "v2.0.1", "3.0.0-M1" -> "v3.0.0-M1"). It returns "" when no numeric
// release can be recovered.
func NormalizeVersion(v string) string {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	if v == "" {
		return ""
	}
	lower := strings.ToLower(v)
	for _, q := range releaseQualifiers {
		if strings.HasSuffix(lower, q) {
			v = v[:len(v)-len(q)]
			break
		}
	}

	release, pre, _ := strings.Cut(v, "-")
	var nums []string
	parts := strings.Split(release, ".")
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			// "1.0.beta" style: the rest becomes the prerelease.
			rest := strings.Join(parts[i:], ".")
			if pre == "" {
				pre = rest
			} else {
				pre = rest + "." + pre
			}
			break
		}
		if len(nums) < 3 {
			nums = append(nums, strconv.Itoa(n))
		}
	}
	if len(nums) == 0 {
		return ""
	}
	for len(nums) < 3 {
		nums = append(nums, "0")
	}

	out := "v" + strings.Join(nums, ".")
	if pre = sanitizePrerelease(pre); pre != "" {
		out += "-" + pre
	}
	if !semver.IsValid(out) {
		return ""
	}
	return out
}

func sanitizePrerelease(pre string) string {
	var ids []string
	for _, id := range strings.Split(pre, ".") {
		id = strings.Map(func(r rune) rune {
			switch {
			case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '-':
				return r
			}
			return '-'
		}, id)
		if id == "" {
			continue
		}
		if n, err := strconv.Atoi(id); err == nil {
			id = strconv.Itoa(n)
		}
		ids = append(ids, id)
	}
	return strings.Join(ids, ".")
}

// CompareVersions orders Maven versions; unparseable versions fall back to
// string order.
func CompareVersions(a, b string) int {
	na, nb := NormalizeVersion(a), NormalizeVersion(b)
	if na == "" || nb == "" {
		return strings.Compare(a, b)
	}
	return semver.Compare(na, nb)
}

// AtLeast reports whether version >= min. An unknown version never
// satisfies a minimum.
func AtLeast(version, min string) bool {
	if NormalizeVersion(version) == "" {
		return false
	}
	return CompareVersions(version, min) >= 0
}

// Major returns the major component ("3" for "3.1.2"), or "".
func Major(version string) string {
	return strings.TrimPrefix(semver.Major(NormalizeVersion(version)), "v")
}
