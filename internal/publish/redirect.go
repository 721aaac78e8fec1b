package publish

// RedirectTable maps a bucket key to its website redirect target. Keys are
// matched exactly as written.
type RedirectTable map[string]string

// Resolve returns the redirect target for key, if one is configured.
func (t RedirectTable) Resolve(key string) (string, bool) {
	target, ok := t[key]
	return target, ok
}
