package compose

import (
	"text/template"

	"github.com/sasta-kro/magpie-previews/models"
)

// templateVars is the single render context for every compose and Dockerfile
// template below.
type templateVars struct {
	ProjectSlug    string
	PRNumber       int
	ExposedAppPort int
	ExposedDbPort  int
	AppPort        int
	AppPortEnv     string
	AppEntrypoint  string
	DBType         models.DatabaseType
}

// appServiceTemplate is the base document for template-generated compose
// files. the container_name must stay "<slug>-pr-<N>-app": status inspection
// finds the app container by that exact name.
const appServiceTemplate = `services:
  app:
    build:
      context: .
      dockerfile: Dockerfile
    container_name: {{ .ProjectSlug }}-pr-{{ .PRNumber }}-app
    restart: unless-stopped
    ports:
      - "{{ .ExposedAppPort }}:{{ .AppPort }}"
    environment:
      {{ .AppPortEnv }}: "{{ .AppPort }}"
`

// database service blocks. each publishes its canonical in-container port on
// the allocated db host port and carries a healthcheck so the app service can
// depend on condition service_healthy.
const postgresServiceTemplate = `postgres:
  image: postgres:16-alpine
  restart: unless-stopped
  environment:
    POSTGRES_USER: preview
    POSTGRES_PASSWORD: preview
    POSTGRES_DB: pr_{{ .PRNumber }}
  ports:
    - "{{ .ExposedDbPort }}:5432"
  healthcheck:
    test: ["CMD-SHELL", "pg_isready -U preview -d pr_{{ .PRNumber }}"]
    interval: 5s
    timeout: 3s
    retries: 12
`

const mysqlServiceTemplate = `mysql:
  image: mysql:8.0
  restart: unless-stopped
  environment:
    MYSQL_USER: preview
    MYSQL_PASSWORD: preview
    MYSQL_ROOT_PASSWORD: preview
    MYSQL_DATABASE: pr_{{ .PRNumber }}
  ports:
    - "{{ .ExposedDbPort }}:3306"
  healthcheck:
    test: ["CMD", "mysqladmin", "ping", "-h", "localhost", "-ppreview"]
    interval: 5s
    timeout: 3s
    retries: 12
`

const mongodbServiceTemplate = `mongodb:
  image: mongo:7
  restart: unless-stopped
  environment:
    MONGO_INITDB_ROOT_USERNAME: preview
    MONGO_INITDB_ROOT_PASSWORD: preview
    MONGO_INITDB_DATABASE: pr_{{ .PRNumber }}
  ports:
    - "{{ .ExposedDbPort }}:27017"
  healthcheck:
    test: ["CMD", "mongosh", "--quiet", "--eval", "db.adminCommand('ping')"]
    interval: 5s
    timeout: 3s
    retries: 12
`

// redis is an extra service: internal-only, no published host port.
const redisServiceTemplate = `redis:
  image: redis:7-alpine
  restart: unless-stopped
  healthcheck:
    test: ["CMD", "redis-cli", "ping"]
    interval: 5s
    timeout: 3s
    retries: 12
`

// per-framework Dockerfiles, rendered only when the repo ships none.
const nestjsDockerfileTemplate = `FROM node:20-alpine
WORKDIR /app
COPY package*.json ./
RUN npm ci
COPY . .
RUN npm run build
EXPOSE {{ .AppPort }}
CMD ["node", "{{ .AppEntrypoint }}"]
`

const goDockerfileTemplate = `FROM golang:1.22-alpine AS build
WORKDIR /src
COPY go.* ./
RUN go mod download
COPY . .
RUN CGO_ENABLED=0 go build -o /out/{{ .AppEntrypoint }} .

FROM alpine:3.20
WORKDIR /app
COPY --from=build /out/{{ .AppEntrypoint }} ./{{ .AppEntrypoint }}
EXPOSE {{ .AppPort }}
CMD ["./{{ .AppEntrypoint }}"]
`

const laravelDockerfileTemplate = `FROM php:8.3-cli
RUN apt-get update && apt-get install -y git unzip libzip-dev libpq-dev \
    && docker-php-ext-install zip pdo pdo_mysql pdo_pgsql \
    && rm -rf /var/lib/apt/lists/*
COPY --from=composer:2 /usr/bin/composer /usr/bin/composer
WORKDIR /app
COPY . .
RUN composer install --no-interaction --prefer-dist --no-dev
EXPOSE {{ .AppPort }}
CMD ["php", "artisan", "serve", "--host=0.0.0.0", "--port={{ .AppPort }}"]
`

const rustDockerfileTemplate = `FROM rust:1.79 AS build
WORKDIR /src
COPY . .
RUN cargo build --release

FROM debian:bookworm-slim
WORKDIR /app
COPY --from=build /src/target/release/{{ .AppEntrypoint }} ./{{ .AppEntrypoint }}
EXPOSE {{ .AppPort }}
CMD ["./{{ .AppEntrypoint }}"]
`

const pythonDockerfileTemplate = `FROM python:3.12-slim
WORKDIR /app
COPY requirements.txt ./
RUN pip install --no-cache-dir -r requirements.txt
COPY . .
EXPOSE {{ .AppPort }}
CMD ["uvicorn", "{{ .AppEntrypoint }}", "--host", "0.0.0.0", "--port", "{{ .AppPort }}"]
`

var (
	appTemplate = template.Must(template.New("app").Parse(appServiceTemplate))

	serviceTemplates = map[string]*template.Template{
		string(models.DatabasePostgres): template.Must(template.New("postgres").Parse(postgresServiceTemplate)),
		string(models.DatabaseMySQL):    template.Must(template.New("mysql").Parse(mysqlServiceTemplate)),
		string(models.DatabaseMongoDB):  template.Must(template.New("mongodb").Parse(mongodbServiceTemplate)),
		"redis":                         template.Must(template.New("redis").Parse(redisServiceTemplate)),
	}

	dockerfileTemplates = map[models.Framework]*template.Template{
		models.FrameworkNestJS:  template.Must(template.New("dockerfile-nestjs").Parse(nestjsDockerfileTemplate)),
		models.FrameworkGo:      template.Must(template.New("dockerfile-go").Parse(goDockerfileTemplate)),
		models.FrameworkLaravel: template.Must(template.New("dockerfile-laravel").Parse(laravelDockerfileTemplate)),
		models.FrameworkRust:    template.Must(template.New("dockerfile-rust").Parse(rustDockerfileTemplate)),
		models.FrameworkPython:  template.Must(template.New("dockerfile-python").Parse(pythonDockerfileTemplate)),
	}
)

// connection details baked into the database service templates above.
// dbConnectionPort is the in-container port, dbURLScheme the scheme of the
// DATABASE_URL handed to the app.
var (
	dbConnectionPorts = map[models.DatabaseType]int{
		models.DatabasePostgres: 5432,
		models.DatabaseMySQL:    3306,
		models.DatabaseMongoDB:  27017,
	}

	dbURLSchemes = map[models.DatabaseType]string{
		models.DatabasePostgres: "postgresql",
		models.DatabaseMySQL:    "mysql",
		models.DatabaseMongoDB:  "mongodb",
	}
)
