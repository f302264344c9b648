package photos

import (
	"slices"
	"strconv"
)

// taxonomy maps scene identifiers of the on-device classifier to labels.
var taxonomy = map[int64]string{
	8:          "building",
	13:         "fire",
	139:        "atm",
	147:        "baby",
	432:        "credit_card",
	450:        "currency",
	492:        "document",
	554:        "firearm",
	759:        "keypad",
	800:        "license_plate",
	881:        "people",
	983:        "phone",
	1086:       "receipt",
	1447:       "vehicle",
	1600:       "adult",
	1605:       "body_part",
	1622:       "computer",
	1632:       "weapon",
	1659:       "military_uniform",
	1664:       "handwriting",
	1665:       "screenshot",
	1668:       "laptop",
	1736:       "child",
	1754:       "mask",
	1758:       "teen",
	1777:       "underwear",
	2147483655: "outdoor_scene",
}

// Label returns the label of a scene identifier. Unknown identifiers are
// returned as their decimal form.
func Label(scene int64) string {
	if l, ok := taxonomy[scene]; ok {
		return l
	}
	return strconv.FormatInt(scene, 10)
}

// Labels returns every known label, sorted.
func Labels() []string {
	out := make([]string, 0, len(taxonomy))
	for _, l := range taxonomy {
		out = append(out, l)
	}
	slices.Sort(out)
	return out
}

// IsLabel reports whether l is a known label.
func IsLabel(l string) bool {
	for _, v := range taxonomy {
		if v == l {
			return true
		}
	}
	return false
}
