// Package generate emits declarative service descriptions from a composed
// plan.Serve instead of executing it, per spec §4.K: a systemd Quadlet
// .container unit, a Kubernetes Pod YAML, or a Compose YAML. Grounded on
// pkg/engine's argv assembly (the same mounts/env/devices feed both paths)
// and using gopkg.in/yaml.v3 for the Kube/Compose documents the way the rest
// of the ecosystem serializes Kubernetes-shaped YAML.
package generate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/containers/ramalama/internal/plan"
	"github.com/containers/ramalama/internal/rlerr"
)

// Injection is one user-supplied "SECTION:KEY:VALUE" Quadlet override.
type Injection struct {
	Section string
	Key     string
	Value   string
}

// ParseInjection parses a repeatable --generate-config-value-style flag,
// per spec §4.K's "values must be of the form SECTION:KEY:VALUE".
func ParseInjection(s string) (Injection, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return Injection{}, rlerr.New(rlerr.KindBadName, fmt.Sprintf("injected config value %q is not SECTION:KEY:VALUE", s))
	}
	return Injection{Section: parts[0], Key: parts[1], Value: parts[2]}, nil
}

// Quadlet renders p as a systemd-compatible .container unit, with injections
// appended to their named section (spec §4.K).
func Quadlet(p plan.Serve, injections []Injection) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Unit]\nDescription=ramalama model service\n\n")
	fmt.Fprintf(&b, "[Container]\nImage=%s\n", p.Image)
	if p.ContainerName != "" {
		fmt.Fprintf(&b, "ContainerName=%s\n", p.ContainerName)
	}
	fmt.Fprintf(&b, "PublishPort=%d:%d\n", p.Port, p.Port)
	for _, m := range p.Mounts {
		mode := "rw"
		if m.ReadOnly {
			mode = "ro"
		}
		fmt.Fprintf(&b, "Volume=%s:%s:%s\n", m.Source, m.Dest, mode)
	}
	for _, d := range p.Devices {
		fmt.Fprintf(&b, "AddDevice=%s\n", d.Path)
	}
	for k, v := range p.Env {
		fmt.Fprintf(&b, "Environment=%s=%s\n", k, v)
	}
	for k, v := range p.Labels {
		fmt.Fprintf(&b, "Label=%s=%s\n", k, v)
	}
	fmt.Fprintf(&b, "Label=ai.ramalama=true\n")
	if p.SELinux {
		fmt.Fprintf(&b, "SecurityLabelType=container_runtime_t\n")
	}
	if len(p.Args) > 0 {
		fmt.Fprintf(&b, "Exec=%s\n", strings.Join(p.Args, " "))
	}

	fmt.Fprintf(&b, "\n[Install]\nWantedBy=default.target\n")

	bySection := map[string][]Injection{}
	for _, inj := range injections {
		bySection[inj.Section] = append(bySection[inj.Section], inj)
	}
	if len(bySection) > 0 {
		out := b.String()
		for section, injs := range bySection {
			marker := "[" + section + "]"
			var extra strings.Builder
			for _, inj := range injs {
				fmt.Fprintf(&extra, "%s=%s\n", inj.Key, inj.Value)
			}
			if strings.Contains(out, marker) {
				out = strings.Replace(out, marker+"\n", marker+"\n"+extra.String(), 1)
			} else {
				out += fmt.Sprintf("\n[%s]\n%s", section, extra.String())
			}
		}
		return out
	}
	return b.String()
}

// kubeContainer and kubePod mirror just enough of the Kubernetes Pod schema
// for spec §4.K's single-Pod emission; the full API types live in
// k8s.io/api, a dependency this core doesn't otherwise need.
type kubeVolumeMount struct {
	Name      string `yaml:"name"`
	MountPath string `yaml:"mountPath"`
	ReadOnly  bool   `yaml:"readOnly,omitempty"`
}

type kubeEnvVar struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

type kubeContainer struct {
	Name         string            `yaml:"name"`
	Image        string            `yaml:"image"`
	Args         []string          `yaml:"args,omitempty"`
	Ports        []kubePort        `yaml:"ports,omitempty"`
	Env          []kubeEnvVar      `yaml:"env,omitempty"`
	VolumeMounts []kubeVolumeMount `yaml:"volumeMounts,omitempty"`
}

type kubePort struct {
	ContainerPort int `yaml:"containerPort"`
}

type kubeHostPathVolume struct {
	Path string `yaml:"path"`
}

type kubeVolume struct {
	Name     string              `yaml:"name"`
	HostPath kubeHostPathVolume `yaml:"hostPath"`
}

type kubeMetadata struct {
	Name   string            `yaml:"name"`
	Labels map[string]string `yaml:"labels,omitempty"`
}

type kubePodSpec struct {
	Containers []kubeContainer `yaml:"containers"`
	Volumes    []kubeVolume    `yaml:"volumes,omitempty"`
}

type kubePod struct {
	APIVersion string       `yaml:"apiVersion"`
	Kind       string       `yaml:"kind"`
	Metadata   kubeMetadata `yaml:"metadata"`
	Spec       kubePodSpec  `yaml:"spec"`
}

// Kube renders p as a single Kubernetes Pod YAML document.
func Kube(p plan.Serve) (string, error) {
	name := p.ContainerName
	if name == "" {
		name = "ramalama"
	}

	c := kubeContainer{Name: name, Image: p.Image, Args: p.Args, Ports: []kubePort{{ContainerPort: p.Port}}}
	for k, v := range p.Env {
		c.Env = append(c.Env, kubeEnvVar{Name: k, Value: v})
	}

	var volumes []kubeVolume
	for i, m := range p.Mounts {
		volName := fmt.Sprintf("model-%d", i)
		c.VolumeMounts = append(c.VolumeMounts, kubeVolumeMount{Name: volName, MountPath: m.Dest, ReadOnly: m.ReadOnly})
		volumes = append(volumes, kubeVolume{Name: volName, HostPath: kubeHostPathVolume{Path: m.Source}})
	}

	labels := map[string]string{"ai.ramalama": "true"}
	for k, v := range p.Labels {
		labels[k] = v
	}

	pod := kubePod{
		APIVersion: "v1",
		Kind:       "Pod",
		Metadata:   kubeMetadata{Name: name, Labels: labels},
		Spec:       kubePodSpec{Containers: []kubeContainer{c}, Volumes: volumes},
	}
	out, err := yaml.Marshal(pod)
	if err != nil {
		return "", fmt.Errorf("marshaling Pod YAML: %w", err)
	}
	return string(out), nil
}

type composeService struct {
	Image       string            `yaml:"image"`
	Ports       []string          `yaml:"ports,omitempty"`
	Volumes     []string          `yaml:"volumes,omitempty"`
	Environment map[string]string `yaml:"environment,omitempty"`
	Devices     []string          `yaml:"devices,omitempty"`
	Deploy      *composeDeploy    `yaml:"deploy,omitempty"`
}

type composeDeploy struct {
	Resources composeResources `yaml:"resources"`
}

type composeResources struct {
	Reservations composeReservations `yaml:"reservations"`
}

type composeReservations struct {
	Devices []composeDeviceReservation `yaml:"devices"`
}

type composeDeviceReservation struct {
	Capabilities []string `yaml:"capabilities"`
}

type composeFile struct {
	Services map[string]composeService `yaml:"services"`
}

// gpuImageHints are substrings in an image name that imply a GPU
// reservation block is warranted, per spec §4.K ("when the image name hints
// at GPU").
var gpuImageHints = []string{"cuda", "rocm", "gpu"}

// Compose renders p as a docker-compose.yaml with one service named "ramalama".
func Compose(p plan.Serve) (string, error) {
	svc := composeService{
		Image: p.Image,
		Ports: []string{fmt.Sprintf("%d:%d", p.Port, p.Port)},
	}
	for _, m := range p.Mounts {
		mode := "rw"
		if m.ReadOnly {
			mode = "ro"
		}
		svc.Volumes = append(svc.Volumes, fmt.Sprintf("%s:%s:%s", m.Source, m.Dest, mode))
	}
	if len(p.Env) > 0 {
		svc.Environment = p.Env
	}
	for _, d := range p.Devices {
		svc.Devices = append(svc.Devices, fmt.Sprintf("%s:%s", d.Path, d.Path))
	}

	lowerImage := strings.ToLower(p.Image)
	for _, hint := range gpuImageHints {
		if strings.Contains(lowerImage, hint) {
			svc.Deploy = &composeDeploy{Resources: composeResources{Reservations: composeReservations{
				Devices: []composeDeviceReservation{{Capabilities: []string{"gpu"}}},
			}}}
			break
		}
	}

	cf := composeFile{Services: map[string]composeService{"ramalama": svc}}
	out, err := yaml.Marshal(cf)
	if err != nil {
		return "", fmt.Errorf("marshaling compose YAML: %w", err)
	}
	return string(out), nil
}

// WriteAll writes quadlet/kube/compose files with fixed names under dir
// (spec §4.K: "written under a user-chosen output directory with fixed
// names").
func WriteAll(dir string, p plan.Serve, injections []Injection) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating output directory %s: %w", dir, err)
	}

	quadlet := Quadlet(p, injections)
	if err := os.WriteFile(filepath.Join(dir, "ramalama.container"), []byte(quadlet), 0o644); err != nil {
		return fmt.Errorf("writing quadlet unit: %w", err)
	}

	kube, err := Kube(p)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "ramalama-pod.yaml"), []byte(kube), 0o644); err != nil {
		return fmt.Errorf("writing kube pod: %w", err)
	}

	compose, err := Compose(p)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "docker-compose.yaml"), []byte(compose), 0o644); err != nil {
		return fmt.Errorf("writing compose file: %w", err)
	}
	return nil
}
