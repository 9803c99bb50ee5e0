package compose

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sasta-kro/magpie-previews/models"
	"github.com/sasta-kro/magpie-previews/util"
)

// ResolveDockerfile ensures workDir contains a file named exactly
// "Dockerfile" for the compose build context. resolution order:
//
//  1. a dockerfile named in preview-config.yml is copied into place
//  2. an existing Dockerfile is used as-is
//  3. a lowercase "dockerfile" is copied to "Dockerfile" for case-sensitive
//     filesystems
//  4. otherwise the framework's default Dockerfile is rendered
func ResolveDockerfile(workDir string, framework models.Framework, repoConfig *models.RepoPreviewConfig) error {
	dockerfilePath := filepath.Join(workDir, "Dockerfile")

	if repoConfig.Dockerfile != "" {
		configuredPath := filepath.Join(workDir, repoConfig.Dockerfile)
		if configuredPath == dockerfilePath {
			if !fileExists(dockerfilePath) {
				return fmt.Errorf("configured dockerfile %q not found in repository", repoConfig.Dockerfile)
			}
			return nil
		}
		if !fileExists(configuredPath) {
			return fmt.Errorf("configured dockerfile %q not found in repository", repoConfig.Dockerfile)
		}
		if err := util.CopyFile(configuredPath, dockerfilePath); err != nil {
			return fmt.Errorf("failed to install configured dockerfile: %w", err)
		}
		return nil
	}

	if fileExists(dockerfilePath) {
		return nil
	}

	lowercasePath := filepath.Join(workDir, "dockerfile")
	if fileExists(lowercasePath) {
		if err := util.CopyFile(lowercasePath, dockerfilePath); err != nil {
			return fmt.Errorf("failed to normalize lowercase dockerfile: %w", err)
		}
		return nil
	}

	return renderDefaultDockerfile(dockerfilePath, framework, repoConfig)
}

// renderDefaultDockerfile writes the framework template with the repo's
// entrypoint and port filled in.
func renderDefaultDockerfile(path string, framework models.Framework, repoConfig *models.RepoPreviewConfig) error {
	dockerfileTemplate, known := dockerfileTemplates[framework]
	if !known {
		return fmt.Errorf("no dockerfile template for framework %q", framework)
	}

	vars := templateVars{
		AppPort:       repoConfig.AppPort,
		AppEntrypoint: repoConfig.AppEntrypoint,
		DBType:        repoConfig.Database,
	}

	var buffer bytes.Buffer
	if err := dockerfileTemplate.Execute(&buffer, vars); err != nil {
		return fmt.Errorf("failed to render dockerfile template for %q: %w", framework, err)
	}

	if err := os.WriteFile(path, buffer.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write dockerfile %q: %w", path, err)
	}
	return nil
}
