package ignore

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// defaultNames are skipped wherever they appear as a path component.
var defaultNames = setOf(
	".tokenindex",
	".git", ".svn", ".hg", ".jj",
	"node_modules", "vendor", "bower_components", ".npm", ".yarn",
	"dist", "build", "out", "target", "bin", "obj",
	".idea", ".vscode", ".vs",
	".ds_store", "thumbs.db", "desktop.ini",
	"__pycache__", ".venv", "venv", ".env", ".tox", ".mypy_cache", ".pytest_cache",
	"coverage", ".nyc_output", "htmlcov",
	".cache", ".parcel-cache", ".next", ".nuxt", ".gradle", ".terraform",
	"package-lock.json", "yarn.lock", "pnpm-lock.yaml", "gemfile.lock",
	"poetry.lock", "cargo.lock", "go.sum", "composer.lock",
)

// defaultGlobs are matched against the lower-cased base name. They cover files
// that never yield searchable tokens: compiled output, archives, media and
// generated bundles.
var defaultGlobs = []string{
	"*.{exe,dll,so,dylib,o,a,lib,class,jar,war,pyc,pyo,wasm}",
	"*.{zip,tar,gz,tgz,bz2,xz,rar,7z}",
	"*.{png,jpg,jpeg,gif,bmp,ico,webp,tiff}",
	"*.{woff,woff2,ttf,eot,otf}",
	"*.{mp3,mp4,avi,mov,wav,flac}",
	"*.{pdf,doc,docx,xls,xlsx,ppt,pptx}",
	"*.{sqlite,sqlite3,db,log}",
	"*.min.{js,css}",
	"*.map",
	"*.{swp,swo}",
	"*~",
	".pnp.*",
}

// IsDefaultIgnored reports whether the built-in rules skip a slash-separated
// relative path.
func IsDefaultIgnored(relativePath string) bool {
	parts := strings.Split(strings.ToLower(relativePath), "/")
	for _, part := range parts {
		if _, ok := defaultNames[part]; ok {
			return true
		}
	}
	baseName := parts[len(parts)-1]
	for _, pattern := range defaultGlobs {
		if ok, _ := doublestar.Match(pattern, baseName); ok {
			return true
		}
	}
	return false
}

func setOf(names ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}
