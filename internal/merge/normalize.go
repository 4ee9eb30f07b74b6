package merge

import (
	"strings"
)

// fuzzyMinLen is the minimum name length before substring containment is
// trusted as evidence of identity. Below this, short names like "cap" would
// match inside too many unrelated products.
const fuzzyMinLen = 5

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), " ")
}

// NormalizeKey derives the map key used for exact identity matching.
func NormalizeKey(brand, name string) string {
	return normalize(brand) + ":" + normalize(name)
}

// Similar reports whether two product mentions should be treated as the same
// product. The policy is deliberately isolated here so it can be tuned
// without touching the merge algorithm:
//   - exact normalized brand:name key match, or
//   - same non-empty brand with one name containing the other, or
//   - substring containment when both names exceed fuzzyMinLen characters.
func Similar(brandA, nameA, brandB, nameB string) bool {
	if NormalizeKey(brandA, nameA) == NormalizeKey(brandB, nameB) {
		return true
	}

	na, nb := normalize(nameA), normalize(nameB)
	ba, bb := normalize(brandA), normalize(brandB)

	if ba != "" && ba == bb {
		if strings.Contains(na, nb) || strings.Contains(nb, na) {
			return true
		}
	}

	if len(na) > fuzzyMinLen && len(nb) > fuzzyMinLen {
		if strings.Contains(na, nb) || strings.Contains(nb, na) {
			return true
		}
	}

	return false
}
