package steps

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"sigs.k8s.io/yaml"

	"github.com/Azure/containerization-assist/pkg/domain/errors"
	"github.com/Azure/containerization-assist/pkg/domain/workflow"
)

// manifestsStep renders Kubernetes Deployment and Service manifests for the
// built image into <repo>/manifests/.
type manifestsStep struct {
	deps Deps
}

func (s *manifestsStep) Name() string           { return workflow.StepGenerateManifests }
func (s *manifestsStep) ResultKey() string      { return KeyManifestsResult }
func (s *manifestsStep) Timeout() time.Duration { return time.Minute }

func (s *manifestsStep) Execute(ctx context.Context, req Request) (map[string]interface{}, error) {
	name := appName(req.RepoPath)
	if v := stateString(req.State, KeyAnalysisResult, "app_name"); v != "" {
		name = v
	}
	port := stateInt(req.State, KeyAnalysisResult, "port")
	if port == 0 {
		port = 8080
	}
	namespace := req.Options.Namespace
	if namespace == "" {
		namespace = "default"
	}
	image := builtImageRef(req)

	outDir := filepath.Join(req.RepoPath, "manifests")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, errors.New(errors.CodeIoError, "workflow", "failed to create manifests directory", err)
	}

	deploymentPath := filepath.Join(outDir, "deployment.yaml")
	servicePath := filepath.Join(outDir, "service.yaml")
	if err := writeYAML(deploymentPath, deploymentManifest(name, namespace, image, port)); err != nil {
		return nil, err
	}
	if err := writeYAML(servicePath, serviceManifest(name, namespace, port)); err != nil {
		return nil, err
	}

	s.deps.Logger.Info("manifests generated",
		"app", name,
		"namespace", namespace,
		"image", image,
		"dir", outDir)
	return map[string]interface{}{
		"app_name":  name,
		"namespace": namespace,
		"image_ref": image,
		"files":     []string{deploymentPath, servicePath},
	}, nil
}

func deploymentManifest(name, namespace, image string, port int) map[string]interface{} {
	labels := map[string]interface{}{"app": name}
	return map[string]interface{}{
		"apiVersion": "apps/v1",
		"kind":       "Deployment",
		"metadata": map[string]interface{}{
			"name":      name,
			"namespace": namespace,
			"labels":    labels,
		},
		"spec": map[string]interface{}{
			"replicas": 2,
			"selector": map[string]interface{}{"matchLabels": labels},
			"template": map[string]interface{}{
				"metadata": map[string]interface{}{"labels": labels},
				"spec": map[string]interface{}{
					"containers": []interface{}{
						map[string]interface{}{
							"name":  name,
							"image": image,
							"ports": []interface{}{
								map[string]interface{}{"containerPort": port},
							},
							"resources": map[string]interface{}{
								"requests": map[string]interface{}{"cpu": "100m", "memory": "128Mi"},
								"limits":   map[string]interface{}{"cpu": "500m", "memory": "512Mi"},
							},
							"readinessProbe": map[string]interface{}{
								"tcpSocket":           map[string]interface{}{"port": port},
								"initialDelaySeconds": 5,
								"periodSeconds":       10,
							},
						},
					},
				},
			},
		},
	}
}

func serviceManifest(name, namespace string, port int) map[string]interface{} {
	return map[string]interface{}{
		"apiVersion": "v1",
		"kind":       "Service",
		"metadata": map[string]interface{}{
			"name":      name,
			"namespace": namespace,
			"labels":    map[string]interface{}{"app": name},
		},
		"spec": map[string]interface{}{
			"type":     "ClusterIP",
			"selector": map[string]interface{}{"app": name},
			"ports": []interface{}{
				map[string]interface{}{
					"port":       80,
					"targetPort": port,
					"protocol":   "TCP",
				},
			},
		},
	}
}

func writeYAML(path string, manifest map[string]interface{}) error {
	data, err := yaml.Marshal(manifest)
	if err != nil {
		return errors.New(errors.CodeInternalError, "workflow", "failed to marshal manifest", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.New(errors.CodeIoError, "workflow", "failed to write manifest", err)
	}
	return nil
}
