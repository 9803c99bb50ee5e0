package repoconfig

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/sasta-kro/magpie-previews/models"
)

// ResolveFramework returns the framework for the repository at workDir.
// an explicit framework in the repo config always wins. without one, ordered
// detectors probe the working tree and the first match is returned; when
// nothing matches the default is nestjs.
//
// rust and python have no detector and must be declared in the config.
func ResolveFramework(workDir string, repoConfig *models.RepoPreviewConfig) models.Framework {
	if repoConfig != nil && repoConfig.Framework != "" {
		return repoConfig.Framework
	}

	if looksLikeNestJS(workDir) {
		return models.FrameworkNestJS
	}
	if fileExists(filepath.Join(workDir, "go.mod")) {
		return models.FrameworkGo
	}
	if looksLikeLaravel(workDir) {
		return models.FrameworkLaravel
	}

	return models.FrameworkNestJS
}

// looksLikeNestJS matches repos that ship a nest-cli.json, or list
// @nestjs/core anywhere in their package.json dependency maps.
func looksLikeNestJS(workDir string) bool {
	if fileExists(filepath.Join(workDir, "nest-cli.json")) {
		return true
	}

	data, err := os.ReadFile(filepath.Join(workDir, "package.json"))
	if err != nil {
		return false
	}

	var manifest struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		// a malformed package.json is the repo's problem, not a detection hit
		return false
	}

	_, inDependencies := manifest.Dependencies["@nestjs/core"]
	_, inDevDependencies := manifest.DevDependencies["@nestjs/core"]
	return inDependencies || inDevDependencies
}

// looksLikeLaravel matches repos whose composer.json requires laravel/framework.
func looksLikeLaravel(workDir string) bool {
	data, err := os.ReadFile(filepath.Join(workDir, "composer.json"))
	if err != nil {
		return false
	}

	var manifest struct {
		Require    map[string]string `json:"require"`
		RequireDev map[string]string `json:"require-dev"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return false
	}

	_, inRequire := manifest.Require["laravel/framework"]
	_, inRequireDev := manifest.RequireDev["laravel/framework"]
	return inRequire || inRequireDev
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
