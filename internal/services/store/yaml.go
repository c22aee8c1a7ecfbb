package store

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"ticketd/internal/authn"
	"ticketd/internal/services/models"
)

// File is the shape of the services YAML file. Users are optional and feed the
// static authenticator used in development.
type File struct {
	Services []*models.RegisteredService `yaml:"services"`
	Users    []authn.User                `yaml:"users"`
}

// LoadFile reads path and decodes it. Unknown keys are rejected so typos in
// access strategies do not silently open a service.
func LoadFile(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read services file: %w", err)
	}
	return Decode(bytes.NewReader(raw))
}

func Decode(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode services file: %w", err)
	}
	return &f, nil
}
