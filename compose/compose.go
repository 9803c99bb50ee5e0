/*
Package compose materializes the docker compose file and Dockerfile for one
preview deployment inside its working tree.

Two modes. Repos that ship docker-compose.preview.yml keep their own service
topology; the daemon only injects what the host is authoritative for (the
published app port, the app container name) and applies the env and startup
settings from preview-config.yml. Repos without one get a full compose
document generated from templates: an app service built from the working
tree, the declared database with a healthcheck, and any extra services.

Either way the result is written to docker-compose.preview.generated.yml and
that file, never the repo's own, is what compose runs with.
*/
package compose

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/sasta-kro/magpie-previews/models"
)

const (
	// RepoComposeFileName is the repo-owned compose file probed at the repo
	// root; repoComposeAlternateName is its .yaml spelling, normalized by
	// renaming.
	RepoComposeFileName      = "docker-compose.preview.yml"
	repoComposeAlternateName = "docker-compose.preview.yaml"

	// GeneratedComposeFileName is the materialized output compose runs with.
	GeneratedComposeFileName = "docker-compose.preview.generated.yml"
)

// MaterializeCompose builds the compose document for the deployment and
// writes it to GeneratedComposeFileName inside workDir. it returns the path
// of the written file.
func MaterializeCompose(workDir string, deployment models.Deployment, repoConfig *models.RepoPreviewConfig) (string, error) {
	vars := templateVars{
		ProjectSlug:    deployment.ProjectSlug,
		PRNumber:       deployment.PRNumber,
		ExposedAppPort: deployment.ExposedAppPort,
		ExposedDbPort:  deployment.ExposedDbPort,
		AppPort:        repoConfig.AppPort,
		AppPortEnv:     repoConfig.AppPortEnv,
		AppEntrypoint:  repoConfig.AppEntrypoint,
		DBType:         deployment.DBType,
	}

	repoComposePath, repoOwned, err := normalizeRepoCompose(workDir)
	if err != nil {
		return "", err
	}

	var document map[string]any
	if repoOwned {
		document, err = loadRepoCompose(repoComposePath, vars)
	} else {
		document, err = generateCompose(vars, repoConfig)
	}
	if err != nil {
		return "", err
	}

	appService, err := lookupAppService(document)
	if err != nil {
		return "", err
	}
	applyRepoConfig(appService, repoConfig, deployment.Framework)

	outputPath := filepath.Join(workDir, GeneratedComposeFileName)
	if err := writeYAMLAtomic(outputPath, document); err != nil {
		return "", err
	}
	return outputPath, nil
}

// normalizeRepoCompose reports whether the repo ships its own preview compose
// file, renaming the .yaml spelling to .yml first. when both spellings exist
// the .yml wins and the .yaml is left alone.
func normalizeRepoCompose(workDir string) (string, bool, error) {
	canonicalPath := filepath.Join(workDir, RepoComposeFileName)
	alternatePath := filepath.Join(workDir, repoComposeAlternateName)

	if fileExists(canonicalPath) {
		return canonicalPath, true, nil
	}
	if fileExists(alternatePath) {
		if err := os.Rename(alternatePath, canonicalPath); err != nil {
			return "", false, fmt.Errorf("failed to normalize %q to %q: %w", alternatePath, canonicalPath, err)
		}
		return canonicalPath, true, nil
	}
	return "", false, nil
}

// loadRepoCompose parses the repo-owned compose file and injects the
// host-authoritative parts of the app service: the published port pair and
// the container name. the container name must be deterministic per
// deployment or two PRs of the same repo would collide, and status
// inspection depends on it.
func loadRepoCompose(path string, vars templateVars) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read repo compose file %q: %w", path, err)
	}

	var document map[string]any
	if err := yaml.Unmarshal(data, &document); err != nil {
		return nil, fmt.Errorf("failed to parse repo compose file %q: %w", path, err)
	}

	appService, err := lookupAppService(document)
	if err != nil {
		return nil, err
	}

	appService["ports"] = []string{fmt.Sprintf("%d:%d", vars.ExposedAppPort, vars.AppPort)}
	appService["container_name"] = fmt.Sprintf("%s-pr-%d-app", vars.ProjectSlug, vars.PRNumber)

	return document, nil
}

// generateCompose renders the app service template plus one block per
// declared service: always the database, then any extra services. each
// service gets a DATABASE_URL or REDIS_URL entry injected into the app
// environment and a service_healthy dependency so compose orders startup.
func generateCompose(vars templateVars, repoConfig *models.RepoPreviewConfig) (map[string]any, error) {
	document, err := renderYAMLTemplate(appTemplate, vars)
	if err != nil {
		return nil, err
	}

	services, err := lookupServices(document)
	if err != nil {
		return nil, err
	}
	appService, err := lookupAppService(document)
	if err != nil {
		return nil, err
	}

	serviceNames := append([]string{string(repoConfig.Database)}, repoConfig.ExtraServices...)
	for _, serviceName := range serviceNames {
		serviceTemplate, known := serviceTemplates[serviceName]
		if !known {
			return nil, fmt.Errorf("no service template for %q", serviceName)
		}

		block, err := renderYAMLTemplate(serviceTemplate, vars)
		if err != nil {
			return nil, err
		}
		services[serviceName] = block[serviceName]

		if serviceName == "redis" {
			setEnvEntry(appService, "REDIS_URL", "redis://redis:6379")
		} else {
			setEnvEntry(appService, "DATABASE_URL", databaseURL(repoConfig.Database, vars.PRNumber))
		}
		setDependsOn(appService, serviceName)
	}

	return document, nil
}

// databaseURL builds the connection string the app receives, pointing at the
// database service over the compose network with the fixed preview
// credentials and the per-PR database name.
func databaseURL(dbType models.DatabaseType, prNumber int) string {
	return fmt.Sprintf("%s://preview:preview@%s:%d/pr_%d",
		dbURLSchemes[dbType], string(dbType), dbConnectionPorts[dbType], prNumber)
}

// applyRepoConfig layers the repo's own settings onto the app service:
// env entries, the env file, and the startup command wrapper.
func applyRepoConfig(appService map[string]any, repoConfig *models.RepoPreviewConfig, framework models.Framework) {
	for _, entry := range repoConfig.Env {
		key, value, _ := strings.Cut(entry, "=")
		setEnvEntry(appService, key, value)
	}

	if repoConfig.EnvFile != "" {
		appService["env_file"] = repoConfig.EnvFile
	}

	if len(repoConfig.StartupCommands) > 0 {
		// run migrations and seeds in-container before the main process,
		// preserving the process as PID-inherited argv via exec "$@"
		script := strings.Join(repoConfig.StartupCommands, " && ") + ` && exec "$@"`
		appService["entrypoint"] = []string{"/bin/sh", "-c", script, "--"}
		appService["command"] = defaultProcessArgv(framework, repoConfig)
	}
}

// defaultProcessArgv is the framework's standard way of starting the app,
// used as compose command when startup_commands wrap the entrypoint.
func defaultProcessArgv(framework models.Framework, repoConfig *models.RepoPreviewConfig) []string {
	switch framework {
	case models.FrameworkGo, models.FrameworkRust:
		return []string{"./" + repoConfig.AppEntrypoint}
	case models.FrameworkPython:
		return []string{"uvicorn", repoConfig.AppEntrypoint, "--host", "0.0.0.0", "--port", strconv.Itoa(repoConfig.AppPort)}
	case models.FrameworkLaravel:
		return []string{"php", "artisan", "serve", "--host=0.0.0.0", "--port=" + strconv.Itoa(repoConfig.AppPort)}
	default:
		return []string{"node", repoConfig.AppEntrypoint}
	}
}

// setEnvEntry writes key=value into the service environment, handling both
// yaml shapes compose accepts: the map form and the "KEY=VAL" list form.
// an existing entry for the key is overwritten in place.
func setEnvEntry(service map[string]any, key, value string) {
	switch environment := service["environment"].(type) {
	case map[string]any:
		environment[key] = value
	case []any:
		prefix := key + "="
		for index, entry := range environment {
			if text, ok := entry.(string); ok && strings.HasPrefix(text, prefix) {
				environment[index] = prefix + value
				return
			}
		}
		service["environment"] = append(environment, prefix+value)
	default:
		service["environment"] = map[string]any{key: value}
	}
}

// setDependsOn adds a service_healthy dependency on the named service.
func setDependsOn(service map[string]any, dependencyName string) {
	dependsOn, ok := service["depends_on"].(map[string]any)
	if !ok {
		dependsOn = make(map[string]any)
		service["depends_on"] = dependsOn
	}
	dependsOn[dependencyName] = map[string]any{"condition": "service_healthy"}
}

func lookupServices(document map[string]any) (map[string]any, error) {
	services, ok := document["services"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("compose document has no services map")
	}
	return services, nil
}

func lookupAppService(document map[string]any) (map[string]any, error) {
	services, err := lookupServices(document)
	if err != nil {
		return nil, err
	}
	appService, ok := services["app"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("compose document has no app service")
	}
	return appService, nil
}

// renderYAMLTemplate executes the template and parses its output back into a
// generic yaml document, so rendered blocks can be merged structurally
// instead of by string concatenation.
func renderYAMLTemplate(tpl *template.Template, vars templateVars) (map[string]any, error) {
	var buffer bytes.Buffer
	if err := tpl.Execute(&buffer, vars); err != nil {
		return nil, fmt.Errorf("failed to render compose template: %w", err)
	}

	var node map[string]any
	if err := yaml.Unmarshal(buffer.Bytes(), &node); err != nil {
		return nil, fmt.Errorf("failed to parse rendered compose template: %w", err)
	}
	return node, nil
}

// writeYAMLAtomic encodes the document and writes it with a temp-then-rename
// so a crash mid-write never leaves a truncated compose file behind.
func writeYAMLAtomic(path string, document map[string]any) error {
	var buffer bytes.Buffer
	encoder := yaml.NewEncoder(&buffer)
	encoder.SetIndent(2)
	if err := encoder.Encode(document); err != nil {
		return fmt.Errorf("failed to encode compose document: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("failed to finalize compose document: %w", err)
	}

	temporaryPath := path + ".tmp"
	if err := os.WriteFile(temporaryPath, buffer.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write compose file %q: %w", temporaryPath, err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		return fmt.Errorf("failed to replace compose file %q: %w", path, err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
