package parts

import (
	"gopkg.in/yaml.v3"
)

// Document is the decoded shape of the top-level input document: a
// mapping of part name to part spec. Schema validation against plugin-
// specific property schemas is the job of the (out of scope) external
// validator; Document only does the structural YAML decode.
type Document struct {
	Parts map[string]PartSpec `yaml:"parts"`
}

// PartSpec is the as-declared shape of one part entry, before it is turned
// into a graph-bound Part.
type PartSpec struct {
	Plugin           string                 `yaml:"plugin"`
	After            []string               `yaml:"after"`
	Source           string                 `yaml:"source"`
	BuildPackages    []string               `yaml:"build-packages"`
	StagePackages    []string               `yaml:"stage-packages"`
	BuildEnvironment []map[string]string    `yaml:"build-environment"`
	BuildAttributes  []string               `yaml:"build-attributes"`
	Stage            []string               `yaml:"stage"`
	Prime            []string               `yaml:"prime"`
	Organize         map[string]string      `yaml:"organize"`
	Properties       map[string]interface{} `yaml:",inline"`
}

// ParseDocument decodes a YAML input document.
func ParseDocument(b []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// buildEnvironmentStrings flattens the declared list-of-single-key-mappings
// build-environment form into ordered "KEY=value" assignments.
func buildEnvironmentStrings(entries []map[string]string) []string {
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		for k, v := range entry {
			out = append(out, k+"="+v)
		}
	}
	return out
}

// toFileset splits a declared stage/prime pattern list into includes and
// shell-negation excludes ("exclude patterns beginning
// with - are negations").
func toFileset(patterns []string) Fileset {
	var fs Fileset
	for _, p := range patterns {
		if len(p) > 0 && p[0] == '-' {
			fs.Exclude = append(fs.Exclude, p[1:])
		} else {
			fs.Include = append(fs.Include, p)
		}
	}
	return fs
}

// toPart converts a decoded PartSpec into a graph-ready Part.
func (spec PartSpec) toPart(name string) *Part {
	return &Part{
		Name:             name,
		After:            spec.After,
		Plugin:           spec.Plugin,
		Source:           spec.Source,
		Properties:       spec.Properties,
		BuildEnvironment: buildEnvironmentStrings(spec.BuildEnvironment),
		BuildPackages:    spec.BuildPackages,
		StagePackages:    spec.StagePackages,
		BuildAttributes:  spec.BuildAttributes,
		Stage:            toFileset(spec.Stage),
		Prime:            toFileset(spec.Prime),
		Organize:         spec.Organize,
	}
}
