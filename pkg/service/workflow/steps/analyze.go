package steps

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/Azure/containerization-assist/pkg/domain/errors"
	"github.com/Azure/containerization-assist/pkg/domain/workflow"
)

// analyzeStep inspects the repository to determine language, framework,
// build tooling, and the port the application likely listens on. Its output
// drives Dockerfile and manifest generation.
type analyzeStep struct {
	deps Deps
}

func (s *analyzeStep) Name() string           { return workflow.StepAnalyzeRepository }
func (s *analyzeStep) ResultKey() string      { return KeyAnalysisResult }
func (s *analyzeStep) Timeout() time.Duration { return 2 * time.Minute }

// Marker files checked in priority order; the first hit wins the language.
var languageMarkers = []struct {
	file      string
	language  string
	buildTool string
}{
	{"go.mod", "go", "go"},
	{"pom.xml", "java", "maven"},
	{"build.gradle", "java", "gradle"},
	{"build.gradle.kts", "java", "gradle"},
	{"package.json", "javascript", "npm"},
	{"requirements.txt", "python", "pip"},
	{"pyproject.toml", "python", "pip"},
	{"Cargo.toml", "rust", "cargo"},
	{"Gemfile", "ruby", "bundler"},
}

var frameworkPorts = map[string]int{
	"spring-boot": 8080,
	"express":     3000,
	"nextjs":      3000,
	"react":       3000,
	"django":      8000,
	"flask":       5000,
	"fastapi":     8000,
	"gin":         8080,
	"echo":        8080,
	"rails":       3000,
}

func (s *analyzeStep) Execute(ctx context.Context, req Request) (map[string]interface{}, error) {
	info, err := os.Stat(req.RepoPath)
	if err != nil || !info.IsDir() {
		return nil, errors.New(errors.CodeValidationFailed, "workflow",
			"repository path does not exist or is not a directory: "+req.RepoPath, err)
	}

	language, buildTool := "", ""
	for _, marker := range languageMarkers {
		if _, err := os.Stat(filepath.Join(req.RepoPath, marker.file)); err == nil {
			language, buildTool = marker.language, marker.buildTool
			break
		}
	}

	matcher, _ := ignore.CompileIgnoreFile(filepath.Join(req.RepoPath, ".gitignore"))

	extCounts := make(map[string]int)
	fileCount := 0
	hasDockerfile := false
	walkErr := filepath.WalkDir(req.RepoPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel, relErr := filepath.Rel(req.RepoPath, path)
		if relErr != nil || rel == "." {
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == "node_modules" || d.Name() == "vendor" {
				return filepath.SkipDir
			}
			if matcher != nil && matcher.MatchesPath(rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if matcher != nil && matcher.MatchesPath(rel) {
			return nil
		}
		fileCount++
		if d.Name() == "Dockerfile" {
			hasDockerfile = true
		}
		if ext := strings.TrimPrefix(filepath.Ext(d.Name()), "."); ext != "" {
			extCounts[ext]++
		}
		return nil
	})
	if walkErr != nil {
		return nil, errors.New(errors.CodeIoError, "workflow", "repository walk failed", walkErr)
	}

	if language == "" {
		language = dominantLanguage(extCounts)
	}
	if language == "javascript" && extCounts["ts"]+extCounts["tsx"] > extCounts["js"]+extCounts["jsx"] {
		language = "typescript"
	}

	framework := s.detectFramework(req.RepoPath, language)
	port := frameworkPorts[framework]
	if port == 0 {
		port = defaultPort(language)
	}

	result := map[string]interface{}{
		"language":       language,
		"build_tool":     buildTool,
		"port":           port,
		"app_name":       appName(req.RepoPath),
		"files_scanned":  fileCount,
		"has_dockerfile": hasDockerfile,
	}
	if framework != "" {
		result["framework"] = framework
	}
	s.deps.Logger.Info("repository analyzed",
		"repo_path", req.RepoPath,
		"language", language,
		"framework", framework,
		"files", fileCount)
	return result, nil
}

// detectFramework looks inside dependency manifests for known frameworks.
func (s *analyzeStep) detectFramework(repoPath, language string) string {
	switch language {
	case "javascript", "typescript":
		return nodeFramework(filepath.Join(repoPath, "package.json"))
	case "java":
		if contents := readHead(filepath.Join(repoPath, "pom.xml"), 64<<10); strings.Contains(contents, "spring-boot") {
			return "spring-boot"
		}
		if contents := readHead(filepath.Join(repoPath, "build.gradle"), 64<<10); strings.Contains(contents, "spring-boot") {
			return "spring-boot"
		}
	case "python":
		reqs := readHead(filepath.Join(repoPath, "requirements.txt"), 64<<10) +
			readHead(filepath.Join(repoPath, "pyproject.toml"), 64<<10)
		lower := strings.ToLower(reqs)
		switch {
		case strings.Contains(lower, "django"):
			return "django"
		case strings.Contains(lower, "fastapi"):
			return "fastapi"
		case strings.Contains(lower, "flask"):
			return "flask"
		}
	case "go":
		gomod := readHead(filepath.Join(repoPath, "go.mod"), 64<<10)
		switch {
		case strings.Contains(gomod, "gin-gonic/gin"):
			return "gin"
		case strings.Contains(gomod, "labstack/echo"):
			return "echo"
		}
	case "ruby":
		if gemfile := readHead(filepath.Join(repoPath, "Gemfile"), 64<<10); strings.Contains(gemfile, "rails") {
			return "rails"
		}
	}
	return ""
}

func nodeFramework(packageJSON string) string {
	data, err := os.ReadFile(packageJSON)
	if err != nil {
		return ""
	}
	var pkg struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return ""
	}
	has := func(name string) bool {
		_, inDeps := pkg.Dependencies[name]
		_, inDev := pkg.DevDependencies[name]
		return inDeps || inDev
	}
	switch {
	case has("next"):
		return "nextjs"
	case has("react"):
		return "react"
	case has("express"):
		return "express"
	}
	return ""
}

func dominantLanguage(extCounts map[string]int) string {
	extLanguage := map[string]string{
		"go": "go", "java": "java", "kt": "java",
		"js": "javascript", "jsx": "javascript", "ts": "typescript", "tsx": "typescript",
		"py": "python", "rb": "ruby", "rs": "rust", "cs": "dotnet",
	}
	best, bestCount := "", 0
	for ext, count := range extCounts {
		lang, ok := extLanguage[ext]
		if ok && count > bestCount {
			best, bestCount = lang, count
		}
	}
	return best
}

func defaultPort(language string) int {
	switch language {
	case "go", "java", "dotnet":
		return 8080
	case "python":
		return 8000
	case "javascript", "typescript", "ruby":
		return 3000
	default:
		return 8080
	}
}

func readHead(path string, limit int) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	if len(data) > limit {
		data = data[:limit]
	}
	return string(data)
}
