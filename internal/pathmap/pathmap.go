// Package pathmap implements the bidirectional mapping between the
// fixed virtual workdir exposed to the editor UI and the platform's
// relative file-manager paths, plus the redeploy-trigger allowlist.
//
// Grounded on the traversal guards workspace_service.go builds paths
// with (filepath.Join under a fixed "/workspace/project" root before
// every K8sClient call) — the same pattern of "one boundary check before
// every remote file op", generalized here into a standalone, testable
// component per spec.md §4.1.
package pathmap

import "strings"

// Root is the fixed virtual workdir exposed to the UI.
const Root = "/home/project"

var redeployTriggers = map[string]struct{}{
	"package.json":       {},
	"package-lock.json":  {},
	"pnpm-lock.yaml":     {},
	"yarn.lock":          {},
	"bun.lockb":          {},
	"docker-compose.yml": {},
}

// ErrInvalidPath is returned (wrapped by callers as BAD_REQUEST) whenever
// a virtual or platform path escapes the workdir via a ".." segment.
type ErrInvalidPath struct{ Path string }

func (e *ErrInvalidPath) Error() string { return "Invalid runtime path" }

func normalize(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

func hasTraversal(platformPath string) bool {
	if platformPath == "" {
		return false
	}
	for _, seg := range strings.Split(platformPath, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

// ToPlatformPath normalizes a virtual path into the relative platform
// path the file-manager RPCs expect. Root and Root+"/" map to "".
func ToPlatformPath(virtualPath string) (string, error) {
	p := normalize(virtualPath)

	var rel string
	switch {
	case p == Root || p == Root+"/":
		rel = ""
	case strings.HasPrefix(p, Root+"/"):
		rel = strings.TrimPrefix(p, Root+"/")
	default:
		rel = strings.TrimLeft(p, "/")
	}

	if hasTraversal(rel) {
		return "", &ErrInvalidPath{Path: virtualPath}
	}
	return rel, nil
}

// ToVirtualPath is the inverse of ToPlatformPath: an empty platform path
// maps back to Root, everything else is joined under it.
func ToVirtualPath(platformPath string) (string, error) {
	p := normalize(platformPath)
	p = strings.TrimLeft(p, "/")

	if hasTraversal(p) {
		return "", &ErrInvalidPath{Path: platformPath}
	}
	if p == "" {
		return Root, nil
	}
	return Root + "/" + p, nil
}

// IsRedeployTriggerPath reports whether writing to virtualPath should
// cause the orchestrator to issue compose.redeploy. Only root-level
// dependency manifests trigger; nested files of the same name do not.
func IsRedeployTriggerPath(virtualPath string) bool {
	platformPath, err := ToPlatformPath(virtualPath)
	if err != nil {
		return false
	}
	_, ok := redeployTriggers[strings.ToLower(platformPath)]
	return ok
}
