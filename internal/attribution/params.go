package attribution

import "strings"

// Params maps an allow-listed marketing key to its decoded value.
type Params map[string]string

var exactKeys = map[string]bool{
	"ref":      true,
	"src":      true,
	"source":   true,
	"medium":   true,
	"campaign": true,
	"term":     true,
	"content":  true,
}

var prefixKeys = []string{"utm_", "hsa_"}

// clickIDKeys is ordered: the first one present stands in for a missing
// utm_source in the composite identifier.
var clickIDKeys = []string{
	"fbclid", "gclid", "gbraid", "wbraid", "dclid", "ttclid", "msclkid",
	"twclid", "li_fat_id", "epik", "sccid", "yclid", "irclickid",
}

// Keys synthesized for the checkout provider; never taken from the address.
var synthesizedKeys = map[string]bool{"xcod": true, "sck": true, "bid": true}

// Allowed reports whether key belongs to a known marketing-identifier family.
func Allowed(key string) bool {
	k := strings.ToLower(key)
	if k == "" || synthesizedKeys[k] {
		return false
	}
	if exactKeys[k] {
		return true
	}
	for _, p := range prefixKeys {
		if strings.HasPrefix(k, p) {
			return true
		}
	}
	for _, c := range clickIDKeys {
		if strings.HasPrefix(k, c) {
			return true
		}
	}
	return false
}

// lookup finds key case-insensitively.
func (p Params) lookup(key string) (string, bool) {
	if v, ok := p[key]; ok {
		return v, true
	}
	for k, v := range p {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

func (p Params) clickID() (string, bool) {
	for _, key := range clickIDKeys {
		if v, ok := p.lookup(key); ok && v != "" {
			return v, true
		}
	}
	return "", false
}
