package profile

import (
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/nixstore/nixstore/internal/storeerr"
	"github.com/nixstore/nixstore/storeconfig"
)

var wrapperTemplate = template.Must(template.New("wrapper").Parse(
	`#!{{.Shell}}
# generated wrapper, do not edit
export PATH="{{.ProfileBin}}:$PATH"
export LD_LIBRARY_PATH="{{.LibraryPath}}"
{{- if .DebugWrappers}}
echo "nixstore wrapper: exec {{.Target}} $@" >&2
{{- end}}
{{- range .PreservedEnvVars}}
if [ -n "${{.}}" ]; then export {{.}}="${{.}}"; fi
{{- end}}
exec "{{.Target}}" "$@"
`))

type wrapperData struct {
	Shell            string
	ProfileBin       string
	LibraryPath      string
	Target           string
	DebugWrappers    bool
	PreservedEnvVars []string
}

// writeWrapper renders and writes an executable wrapper script at
// wrapperPath that execs target with target's library closure on
// LD_LIBRARY_PATH, per spec.md §4.5 and §6.
func writeWrapper(cfg storeconfig.Config, wrapperPath, target, profileBin string, libClosure []string) error {
	shell := resolveShell(cfg)

	data := wrapperData{
		Shell:            shell,
		ProfileBin:       profileBin,
		LibraryPath:      strings.Join(libClosure, ":"),
		Target:           target,
		DebugWrappers:    cfg.Shell.DebugWrappers,
		PreservedEnvVars: cfg.Shell.PreservedEnvVars,
	}

	f, err := os.OpenFile(wrapperPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o755)
	if err != nil {
		return storeerr.New(storeerr.KindIO, "profile.writeWrapper", wrapperPath, err)
	}
	defer f.Close()

	if err := wrapperTemplate.Execute(f, data); err != nil {
		return storeerr.New(storeerr.KindIO, "profile.writeWrapper", wrapperPath, err)
	}
	return f.Close()
}

// resolveShell picks a store-resident shell for the wrapper's shebang:
// the first object in the store whose identifier ends in "-bash" or
// "-sh" and which contains a bin/ entry of that name. Falls back to
// /bin/sh only if none exists yet, which can only happen before the
// essential utilities have been imported.
func resolveShell(cfg storeconfig.Config) string {
	entries, err := os.ReadDir(cfg.Store.StorePath)
	if err != nil {
		return "/bin/sh"
	}
	for _, candidate := range []string{"bash", "sh"} {
		suffix := "-" + candidate
		for _, e := range entries {
			if !e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
				continue
			}
			shellPath := filepath.Join(cfg.Store.StorePath, e.Name(), "bin", candidate)
			if _, err := os.Stat(shellPath); err == nil {
				return shellPath
			}
		}
	}
	return "/bin/sh"
}
