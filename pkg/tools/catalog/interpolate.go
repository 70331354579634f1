package catalog

import (
	"regexp"
)

var placeholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// interpolator substitutes ${VAR} placeholders and records variables
// that were not set.
type interpolator struct {
	lookup  func(string) (string, bool)
	missing []string
	seen    map[string]bool
}

func (ip *interpolator) expand(s string) string {
	return placeholder.ReplaceAllStringFunc(s, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		v, ok := ip.lookup(name)
		if !ok {
			if !ip.seen[name] {
				if ip.seen == nil {
					ip.seen = make(map[string]bool)
				}
				ip.seen[name] = true
				ip.missing = append(ip.missing, name)
			}
			return ""
		}
		return v
	})
}

func (ip *interpolator) expandAll(list []string) []string {
	if list == nil {
		return nil
	}
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = ip.expand(s)
	}
	return out
}

func (ip *interpolator) expandMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = ip.expand(v)
	}
	return out
}
