package core_test

import (
	"bytes"
	"go/parser"
	"go/token"
	"io/fs"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The filter runs entirely on the device; no package of the module may talk to the network.
func TestNoNetworkImports(t *testing.T) {
	root, err := filepath.Abs(filepath.Join("..", ".."))
	require.NoError(t, err)

	fset := token.NewFileSet()
	checked := 0

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != root && (strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") || name == "testdata") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}

		f, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
		if err != nil {
			return err
		}
		checked++
		for _, imp := range f.Imports {
			pkg, _ := strconv.Unquote(imp.Path.Value)
			rel, _ := filepath.Rel(root, path)
			assert.False(t, isNetworkPackage(pkg) || pkg == "net/url",
				"%s imports %s", rel, pkg)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Positive(t, checked)
}

const modulePath = "github.com/mikey/sms-spam-filter"

// Packages a message passes through from ingest to stored verdict
var classificationPath = []string{
	"./internal/core",
	"./internal/rules",
	"./internal/contextual",
	"./internal/reputation",
	"./internal/whitelist",
	"./internal/utils",
	"./internal/adapters/model",
	"./internal/adapters/notify",
	"./internal/adapters/storage/...",
}

// Dependencies that import a network package for something the filter never calls
var networkImportAllowed = map[string]string{
	"go.uber.org/zap":               "AtomicLevel HTTP handler, never served",
	"github.com/google/uuid":        "interface hardware addresses for version 1 IDs, only random IDs are generated",
	"github.com/rubenv/sql-migrate": "http.FileSystem migration source, migrations are embedded",
}

func isNetworkPackage(pkg string) bool {
	switch pkg {
	case "net/url", "net/netip":
		// parsers and value types only
		return false
	}
	return pkg == "net" || strings.HasPrefix(pkg, "net/") || pkg == "crypto/tls"
}

// Follows every dependency of the classification path, third-party ones included.
func TestClassificationPathDependenciesOffline(t *testing.T) {
	goBin, err := exec.LookPath("go")
	if err != nil {
		t.Skip("go command not available")
	}
	root, err := filepath.Abs(filepath.Join("..", ".."))
	require.NoError(t, err)

	format := `{{.ImportPath}}|{{.Standard}}|{{with .Module}}{{.Path}}{{end}}|{{join .Imports ","}}`
	cmd := exec.Command(goBin, append([]string{"list", "-deps", "-f", format}, classificationPath...)...)
	cmd.Dir = root
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	require.NoError(t, err, stderr.String())

	seen := make(map[string]bool)
	packages := 0
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		parts := strings.SplitN(line, "|", 4)
		require.Len(t, parts, 4, line)
		pkg, standard, module, imports := parts[0], parts[1] == "true", parts[2], parts[3]
		packages++
		if standard || imports == "" {
			continue
		}

		for _, imp := range strings.Split(imports, ",") {
			if !isNetworkPackage(imp) {
				continue
			}
			if _, ok := networkImportAllowed[module]; ok && module != modulePath {
				seen[module] = true
				continue
			}
			assert.Fail(t, "network import on the classification path", "%s (module %q) imports %s", pkg, module, imp)
		}
	}
	assert.Greater(t, packages, len(classificationPath))

	for module := range networkImportAllowed {
		assert.True(t, seen[module], "%s no longer imports a network package; drop it from the allow list", module)
	}
}
