package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ServerSeed is one MCP server declared in the optional seed file an
// operator points MCP_SERVERS_FILE at. Seeds whose server_id is not yet
// stored are created at startup so a fresh deployment comes up with its
// tool providers already registered; existing servers (including those
// created through the HTTP surface) are not updated.
type ServerSeed struct {
	ServerID  string `yaml:"server_id"`
	Name      string `yaml:"name"`
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	Transport string `yaml:"transport"`
}

type serverSeedFile struct {
	Servers []ServerSeed `yaml:"servers"`
}

// LoadServerSeeds parses the YAML seed file at path. A missing file is not
// an error; it simply means no seeds.
func LoadServerSeeds(path string) ([]ServerSeed, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read server seeds %s: %w", path, err)
	}

	var file serverSeedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("config: parse server seeds %s: %w", path, err)
	}

	for i, s := range file.Servers {
		if s.ServerID == "" || s.BaseURL == "" {
			return nil, fmt.Errorf("config: server seed %d: server_id and base_url are required", i)
		}
	}
	return file.Servers, nil
}
