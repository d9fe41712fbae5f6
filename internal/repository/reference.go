package repository

import (
	"fmt"
	"io"
	"os"

	"ClarityPull/internal/domain/models"

	"gopkg.in/yaml.v3"
)

// DecodeReference reads regions, countries, markets and symbols from YAML.
// Unknown keys are rejected so typos do not silently drop data.
func DecodeReference(r io.Reader) (models.Reference, error) {
	var ref models.Reference
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&ref); err != nil && err != io.EOF {
		return ref, fmt.Errorf("decode reference: %w", err)
	}
	if err := validateReference(ref); err != nil {
		return ref, err
	}
	return ref, nil
}

func LoadReference(path string) (models.Reference, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.Reference{}, fmt.Errorf("open reference: %w", err)
	}
	defer f.Close()
	return DecodeReference(f)
}
