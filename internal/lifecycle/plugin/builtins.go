package plugin

import (
	"path/filepath"

	"github.com/distr1/distri-parts/internal/lifecycle/parts"
)

func registerBuiltins(r *Registry) {
	r.Register("dump", func() Plugin {
		return Plugin{Name: "dump", V2Impl: &dumpPlugin{}}
	})
}

// dumpPlugin is the trivial "nil" plugin used by parts that only stage
// whatever pull() fetched, unmodified: copy part_source_dir into
// part_install_dir. It is the plugin S1-style independent parts declare
// when they have nothing to build.
type dumpPlugin struct{}

func (p *dumpPlugin) GetSchema() map[string]interface{} { return nil }

func (p *dumpPlugin) GetBuildPackages(map[string]interface{}) []string { return nil }

func (p *dumpPlugin) GetBuildSnaps(map[string]interface{}) []string { return nil }

func (p *dumpPlugin) GetBuildEnvironment(*parts.PartData, map[string]interface{}) map[string]string {
	return nil
}

func (p *dumpPlugin) GetBuildCommands(ctx *parts.PartData, options map[string]interface{}) []string {
	return []string{
		"mkdir -p " + shellQuote(ctx.PartInstallDir),
		"cp -a " + shellQuote(filepath.Clean(ctx.PartInstallDir+"/.."+"/src")+"/.") + " " + shellQuote(ctx.PartInstallDir),
	}
}

func shellQuote(s string) string {
	return "'" + s + "'"
}
