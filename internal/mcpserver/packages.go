package mcpserver

import (
	"slices"
	"strings"

	"github.com/RaikaSurendra/servicenow-case-mcp/internal/config"
)

// ToolListPackages is the introspection tool registered in every package
// except none.
const ToolListPackages = "list_tool_packages"

type packageSelection struct {
	name      string
	tools     []string
	available []string
	// unknown is the requested package name when it was not defined.
	unknown string
}

// selectPackage resolves the tools enabled by cfg.ToolPackage. The full
// package enables every tool unless it is redefined in cfg.Packages. An
// unknown name selects none.
func selectPackage(cfg config.MCPConfig, all []string) packageSelection {
	sel := packageSelection{available: availablePackages(cfg)}

	name := strings.TrimSpace(cfg.ToolPackage)
	if name == "" {
		name = config.PackageFull
	}

	tools, ok := cfg.Packages[name]
	switch {
	case ok:
	case name == config.PackageFull:
		tools = all
	default:
		sel.unknown = name
		name = config.PackageNone
		tools = cfg.Packages[config.PackageNone]
	}

	sel.name = name
	sel.tools = slices.Clone(tools)
	return sel
}

func availablePackages(cfg config.MCPConfig) []string {
	names := []string{config.PackageFull, config.PackageNone}
	for name := range cfg.Packages {
		if !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// packagesResult is the list_tool_packages response.
type packagesResult struct {
	CurrentPackage    string   `json:"current_package"`
	AvailablePackages []string `json:"available_packages"`
	Message           string   `json:"message"`
}

func (s *Server) packagesResult() packagesResult {
	return packagesResult{
		CurrentPackage:    s.pkg,
		AvailablePackages: s.packages,
		Message: "Currently loaded package: '" + s.pkg + "'. Set MCP_TOOL_PACKAGE to one of [" +
			strings.Join(s.packages, ", ") + "] to switch.",
	}
}
