package catalog

import (
	"slices"
	"strings"
)

// Lookup finds the area for a country and optional region alias.
//
// Areas are scanned in definition order. An area without aliases matches on
// country alone and the region is ignored; otherwise the lower-cased region
// must be one of its aliases. A miss is reported with ok == false.
func (c *Catalog) Lookup(country, region string) (id int, ok bool) {
	region = strings.ToLower(strings.TrimSpace(region))
	for _, a := range c.areas {
		if !strings.EqualFold(a.Country, country) {
			continue
		}
		if !a.HasNames() {
			return a.ID, true
		}
		if region != "" && slices.Contains(a.Names, region) {
			return a.ID, true
		}
	}
	return 0, false
}
