package engine

import (
	"os"
	"runtime"
	"strings"
)

// allowListSeparator joins directories in the allow-list variable.
const allowListSeparator = ","

// MergeAllowList appends dir to an inherited allow-list value.
//
// An empty inherited value yields dir alone (no leading separator), and a
// dir that is already listed is not appended again. An empty dir returns
// inherited unchanged.
func MergeAllowList(inherited, dir string) string {
	if dir == "" {
		return inherited
	}
	if inherited == "" {
		return dir
	}
	for _, entry := range strings.Split(inherited, allowListSeparator) {
		if strings.TrimSpace(entry) == dir {
			return inherited
		}
	}
	return inherited + allowListSeparator + dir
}

// environment returns the engine environment: the base environment with
// the allow-list variable replaced by its merged value.
func (c Config) environment() []string {
	base := c.Environ
	if base == nil {
		base = os.Environ()
	}

	var inherited string
	env := make([]string, 0, len(base)+1)
	for _, kv := range base {
		key, value, ok := strings.Cut(kv, "=")
		if ok && envKeyEqual(key, c.AllowListEnv) {
			// Later entries win, matching os/exec.
			inherited = value
			continue
		}
		env = append(env, kv)
	}

	merged := MergeAllowList(inherited, c.AllowListDir)
	if merged != "" {
		env = append(env, c.AllowListEnv+"="+merged)
	}
	return env
}

// envKeyEqual compares variable names, ignoring case on Windows.
func envKeyEqual(a, b string) bool {
	if runtime.GOOS == "windows" {
		return strings.EqualFold(a, b)
	}
	return a == b
}
