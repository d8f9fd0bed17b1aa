package port

import (
	"sort"
	"strings"
)

// Pairing is the result of Correlate.
type Pairing struct {
	// Paths maps a driver reader name to its USB hardware path.
	Paths map[string]string

	// Names and Devices count the matching reader names and hardware
	// paths that took part in the pairing.
	Names   int
	Devices int
}

// Mismatch reports whether the name and path counts differed, in which
// case some readers were left unmapped.
func (p Pairing) Mismatch() bool {
	return p.Names != p.Devices
}

// Correlate pairs driver reader names with USB hardware paths for one
// product. Names are kept when they contain model or the upper-case
// productID. Both lists are sorted and paired index for index, which
// holds as long as the driver enumerates readers in USB bus order.
// Extra entries on either side stay unmapped.
func Correlate(names []string, model, productID string, paths []string) Pairing {
	var matched []string
	pid := strings.ToUpper(productID)
	for _, n := range names {
		if (model != "" && strings.Contains(n, model)) || (pid != "" && strings.Contains(n, pid)) {
			matched = append(matched, n)
		}
	}
	sort.Strings(matched)

	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)

	p := Pairing{
		Paths:   make(map[string]string),
		Names:   len(matched),
		Devices: len(sorted),
	}
	for i := 0; i < len(matched) && i < len(sorted); i++ {
		p.Paths[matched[i]] = sorted[i]
	}
	return p
}
