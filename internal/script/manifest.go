package script

import (
	"fmt"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
)

// manifestFile is the top-level structure of a tengo module manifest:
//
//	class "Counter" {
//	  base = "Node"
//
//	  property "count" {
//	    type    = "int"
//	    default = 0
//	  }
//
//	  method "increment" {
//	    returns = "int"
//	    mutable = true
//	    param "by" { type = "int" }
//	    body = "self.count += args[0]; result = self.count"
//	  }
//	}
type manifestFile struct {
	Classes []*manifestClass `hcl:"class,block"`
}

type manifestClass struct {
	Name        string              `hcl:"name,label"`
	Base        string              `hcl:"base,optional"`
	Description string              `hcl:"description,optional"`
	Tool        bool                `hcl:"tool,optional"`
	Properties  []*manifestProperty `hcl:"property,block"`
	Methods     []*manifestMethod   `hcl:"method,block"`
	Signals     []*manifestSignal   `hcl:"signal,block"`
	Hooks       []*manifestHook     `hcl:"hook,block"`
}

type manifestProperty struct {
	Name        string     `hcl:"name,label"`
	Type        string     `hcl:"type"`
	Default     cty.Value  `hcl:"default,optional"`
	Description string     `hcl:"description,optional"`
	Hint        string     `hcl:"hint,optional"`
	HintText    string     `hcl:"hint_text,optional"`
	Usage       []string   `hcl:"usage,optional"`
}

type manifestParam struct {
	Name string `hcl:"name,label"`
	Type string `hcl:"type"`
}

type manifestMethod struct {
	Name        string           `hcl:"name,label"`
	Returns     string           `hcl:"returns,optional"`
	Mutable     bool             `hcl:"mutable,optional"`
	Description string           `hcl:"description,optional"`
	Params      []*manifestParam `hcl:"param,block"`
	Body        string           `hcl:"body,optional"`
	Source      string           `hcl:"source,optional"`
}

type manifestSignal struct {
	Name        string           `hcl:"name,label"`
	Description string           `hcl:"description,optional"`
	Params      []*manifestParam `hcl:"param,block"`
}

type manifestHook struct {
	Name   string `hcl:"name,label"`
	Body   string `hcl:"body,optional"`
	Source string `hcl:"source,optional"`
}

// parseManifest decodes one manifest file
func parseManifest(parser *hclparse.Parser, filename string, src []byte) (*manifestFile, error) {
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", filename, diags)
	}

	var manifest manifestFile
	diags = gohcl.DecodeBody(file.Body, nil, &manifest)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode manifest %s: %w", filename, diags)
	}
	return &manifest, nil
}

var usageNames = map[string]PropertyUsage{
	"storage":  UsageStorage,
	"editor":   UsageEditor,
	"exported": UsageExported,
}

// usage converts manifest usage names into flags; none means the default
func (p *manifestProperty) usage() (PropertyUsage, error) {
	if len(p.Usage) == 0 {
		return UsageDefault, nil
	}
	var u PropertyUsage
	for _, name := range p.Usage {
		flag, ok := usageNames[name]
		if !ok {
			return 0, fmt.Errorf("property %q: unknown usage %q", p.Name, name)
		}
		u |= flag
	}
	return u, nil
}

func params(in []*manifestParam) []Param {
	out := make([]Param, len(in))
	for i, p := range in {
		out[i] = P(p.Name, VariantType(p.Type))
	}
	return out
}
