package pluginhost

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrDisallowedImport is returned when a plugin source file references a
// module outside the allowlist, or another plugin's namespace.
var ErrDisallowedImport = errors.New("pluginhost: disallowed import")

// defaultAllowedModules is the closed set of module names a plugin script
// may reference. kira's goja sandbox wires no module loader at all, so
// nothing actually resolves at runtime either way; this allowlist exists to
// produce a clear, load-time rejection (matching the static-scan step every
// plugin load goes through) instead of an opaque reference error deep
// inside script execution, and to leave room for a future pure-computation
// loader without changing the policy surface.
var defaultAllowedModules = map[string]bool{
	"text": true,
	"data": true,
	"math": true,
	"time": true,
}

var (
	requireCallPattern    = regexp.MustCompile(`require\s*\(\s*['"]([^'"]+)['"]\s*\)`)
	importFromPattern     = regexp.MustCompile(`import\s+(?:[\w*{}\s,]+\s+from\s+)?['"]([^'"]+)['"]`)
	dynamicImportPattern  = regexp.MustCompile(`import\s*\(\s*['"]([^'"]+)['"]\s*\)`)
	indirectImportPattern = regexp.MustCompile(`__import__\s*\(\s*['"]([^'"]+)['"]\s*\)|\[\s*['"]require['"]\s*\]\s*\(\s*['"]([^'"]+)['"]\s*\)`)
)

// ScanImports statically rejects any reference to a module outside
// defaultAllowedModules -- direct require(), import...from, dynamic
// import(), or indirect lookup via __import__()/bracket-notation
// (`x["require"]("fs")`) -- and rejects any reference to another plugin's
// namespace or a private (`_`-prefixed) module. It runs on the raw source
// before the script is ever handed to the script engine.
func ScanImports(source string, otherPlugins []string) error {
	check := func(name string) error {
		return checkModule(name, otherPlugins)
	}
	for _, m := range requireCallPattern.FindAllStringSubmatch(source, -1) {
		if err := check(m[1]); err != nil {
			return err
		}
	}
	for _, m := range importFromPattern.FindAllStringSubmatch(source, -1) {
		if err := check(m[1]); err != nil {
			return err
		}
	}
	for _, m := range dynamicImportPattern.FindAllStringSubmatch(source, -1) {
		if err := check(m[1]); err != nil {
			return err
		}
	}
	for _, m := range indirectImportPattern.FindAllStringSubmatch(source, -1) {
		name := m[1]
		if name == "" {
			name = m[2]
		}
		if err := check(name); err != nil {
			return err
		}
	}
	return nil
}

func checkModule(name string, otherPlugins []string) error {
	base := strings.TrimPrefix(name, "node:")
	if idx := strings.Index(base, "/"); idx >= 0 {
		base = base[:idx]
	}
	if strings.HasPrefix(base, "_") {
		return fmt.Errorf("%w: %s (private-prefixed module)", ErrDisallowedImport, name)
	}
	if base == "kira" || strings.HasPrefix(base, "kira/internal") || strings.HasPrefix(base, "kira.core") {
		return fmt.Errorf("%w: %s (private core namespace)", ErrDisallowedImport, name)
	}
	for _, p := range otherPlugins {
		if base == p || strings.HasPrefix(name, p+"/") {
			return fmt.Errorf("%w: %s (another plugin's namespace)", ErrDisallowedImport, name)
		}
	}
	if defaultAllowedModules[name] || defaultAllowedModules[base] {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrDisallowedImport, name)
}
