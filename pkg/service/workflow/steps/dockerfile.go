package steps

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Azure/containerization-assist/pkg/domain/errors"
	"github.com/Azure/containerization-assist/pkg/domain/workflow"
)

// dockerfileStep renders a Dockerfile for the analyzed language and writes
// it into the repository. An existing Dockerfile is reused, not overwritten.
type dockerfileStep struct {
	deps Deps
}

func (s *dockerfileStep) Name() string           { return workflow.StepGenerateDockerfile }
func (s *dockerfileStep) ResultKey() string      { return KeyDockerfile }
func (s *dockerfileStep) Timeout() time.Duration { return time.Minute }

func (s *dockerfileStep) Execute(ctx context.Context, req Request) (map[string]interface{}, error) {
	path := filepath.Join(req.RepoPath, "Dockerfile")
	if _, err := os.Stat(path); err == nil {
		s.deps.Logger.Info("existing Dockerfile reused", "path", path)
		return map[string]interface{}{
			"path":      path,
			"generated": false,
		}, nil
	}

	language := stateString(req.State, KeyAnalysisResult, "language")
	if language == "" {
		return nil, errors.New(errors.CodeInvalidState, "workflow",
			"dockerfile generation requires a completed repository analysis", nil)
	}
	port := stateInt(req.State, KeyAnalysisResult, "port")
	if port == 0 {
		port = 8080
	}

	content, err := renderDockerfile(language, stateString(req.State, KeyAnalysisResult, "build_tool"), port)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, errors.New(errors.CodeIoError, "workflow", "failed to write Dockerfile", err)
	}

	s.deps.Logger.Info("Dockerfile generated", "path", path, "language", language, "port", port)
	return map[string]interface{}{
		"path":      path,
		"generated": true,
		"language":  language,
		"port":      port,
	}, nil
}

func renderDockerfile(language, buildTool string, port int) (string, error) {
	switch language {
	case "go":
		return fmt.Sprintf(`FROM golang:1.23-alpine AS build
WORKDIR /src
COPY go.mod go.sum* ./
RUN go mod download
COPY . .
RUN CGO_ENABLED=0 go build -o /out/app .

FROM gcr.io/distroless/static-debian12
COPY --from=build /out/app /app
EXPOSE %d
ENTRYPOINT ["/app"]
`, port), nil
	case "java":
		builder := "maven:3.9-eclipse-temurin-21 AS build\nWORKDIR /src\nCOPY . .\nRUN mvn -q -DskipTests package"
		artifact := "target/*.jar"
		if buildTool == "gradle" {
			builder = "gradle:8-jdk21 AS build\nWORKDIR /src\nCOPY . .\nRUN gradle --no-daemon build -x test"
			artifact = "build/libs/*.jar"
		}
		return fmt.Sprintf(`FROM %s

FROM eclipse-temurin:21-jre
WORKDIR /app
COPY --from=build /src/%s app.jar
EXPOSE %d
ENTRYPOINT ["java", "-jar", "app.jar"]
`, builder, artifact, port), nil
	case "javascript", "typescript":
		build := ""
		if language == "typescript" {
			build = "RUN npm run build\n"
		}
		return fmt.Sprintf(`FROM node:22-alpine
WORKDIR /app
COPY package*.json ./
RUN npm ci --omit=dev
COPY . .
%sEXPOSE %d
ENV NODE_ENV=production
CMD ["npm", "start"]
`, build, port), nil
	case "python":
		return fmt.Sprintf(`FROM python:3.12-slim
WORKDIR /app
COPY requirements.txt* pyproject.toml* ./
RUN pip install --no-cache-dir -r requirements.txt || pip install --no-cache-dir .
COPY . .
EXPOSE %d
CMD ["python", "app.py"]
`, port), nil
	case "rust":
		return fmt.Sprintf(`FROM rust:1.80 AS build
WORKDIR /src
COPY . .
RUN cargo build --release

FROM debian:bookworm-slim
COPY --from=build /src/target/release/ /app/
EXPOSE %d
ENTRYPOINT ["/bin/sh", "-c", "/app/$(ls /app | head -1)"]
`, port), nil
	case "ruby":
		return fmt.Sprintf(`FROM ruby:3.3-slim
WORKDIR /app
COPY Gemfile* ./
RUN bundle install
COPY . .
EXPOSE %d
CMD ["bundle", "exec", "rails", "server", "-b", "0.0.0.0"]
`, port), nil
	default:
		return "", errors.New(errors.CodeValidationFailed, "workflow",
			"no Dockerfile template for language: "+language, nil)
	}
}
