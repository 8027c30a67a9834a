package script

import (
	"slices"
	"strings"
	"time"
)

// SecurityLimits constrains what script code may reach and how long it may run
type SecurityLimits struct {
	// MaxExecutionTime bounds a single interpreted method or hook body
	MaxExecutionTime time.Duration

	// AllowedPackages are the Go import paths script code may use. Tengo
	// modules are enabled for the packages they correspond to.
	AllowedPackages []string
}

// DefaultSecurityLimits provides safe default constraints for script execution
var DefaultSecurityLimits = SecurityLimits{
	MaxExecutionTime: 250 * time.Millisecond,
	AllowedPackages: []string{
		"fmt",
		"strings",
		"math",
		"math/rand",
		"strconv",
		"sort",
		"time",
	},
}

// GetDefaultSecurityLimits returns a copy of the default security limits
func GetDefaultSecurityLimits() SecurityLimits {
	limits := DefaultSecurityLimits
	limits.AllowedPackages = slices.Clone(DefaultSecurityLimits.AllowedPackages)
	return limits
}

// tengoModuleNames maps Go import paths onto tengo stdlib module names
var tengoModuleNames = map[string]string{
	"fmt":             "fmt",
	"strings":         "text",
	"math":            "math",
	"math/rand":       "rand",
	"time":            "times",
	"encoding/json":   "json",
	"encoding/base64": "base64",
	"encoding/hex":    "hex",
}

// TengoModules returns the tengo stdlib modules the limits allow
func (l SecurityLimits) TengoModules() []string {
	var out []string
	for _, pkg := range l.AllowedPackages {
		if name, ok := tengoModuleNames[pkg]; ok {
			out = append(out, name)
		}
	}
	return out
}

// YaegiSymbolKeys returns the yaegi stdlib symbol keys the limits allow,
// in yaegi's "importPath/pkgName" form.
func (l SecurityLimits) YaegiSymbolKeys() []string {
	out := make([]string, 0, len(l.AllowedPackages))
	for _, pkg := range l.AllowedPackages {
		name := pkg
		if i := strings.LastIndex(pkg, "/"); i >= 0 {
			name = pkg[i+1:]
		}
		out = append(out, pkg+"/"+name)
	}
	return out
}
