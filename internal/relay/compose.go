package relay

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

type composeFile struct {
	Services map[string]composeService `yaml:"services"`
	Networks map[string]composeNetwork `yaml:"networks"`
}

type composeService struct {
	Image    string   `yaml:"image"`
	Ports    []string `yaml:"ports"`
	Networks []string `yaml:"networks"`
}

type composeNetwork struct {
	External bool `yaml:"external"`
}

// RenderCompose writes a compose file that runs the relay as service
// "proxy" on an existing network.
func RenderCompose(networkName string, opts Options) ([]byte, error) {
	opts = opts.withDefaults()
	if networkName == "" {
		return nil, fmt.Errorf("network name is required")
	}
	file := composeFile{
		Services: map[string]composeService{
			"proxy": {
				Image:    opts.Image,
				Ports:    []string{fmt.Sprintf("%d", opts.Port)},
				Networks: []string{networkName},
			},
		},
		Networks: map[string]composeNetwork{
			networkName: {External: true},
		},
	}
	out, err := yaml.Marshal(file)
	if err != nil {
		return nil, fmt.Errorf("render compose file: %w", err)
	}
	return out, nil
}
