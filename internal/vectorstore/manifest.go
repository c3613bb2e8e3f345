package vectorstore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"pdf-chatbot/internal/models"
)

const manifestFile = "manifest.yaml"

// Manifest records how the persisted index was built.
type Manifest struct {
	BuildID     string    `yaml:"build_id"`
	EmbedModel  string    `yaml:"embed_model"`
	Chunks      int       `yaml:"chunks"`
	Fingerprint string    `yaml:"fingerprint"`
	BuiltAt     time.Time `yaml:"built_at"`
}

// ReadManifest returns nil and no error when dir has no manifest.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &m, nil
}

func WriteManifest(dir string, m *Manifest) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, manifestFile), data, 0o644)
}

// RemoveManifest deletes the manifest in dir, if any. A missing manifest marks
// the index as unverified until the next complete build.
func RemoveManifest(dir string) error {
	err := os.Remove(filepath.Join(dir, manifestFile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove manifest: %w", err)
	}
	return nil
}

// Fingerprint summarises chunk identity and content. Any edit to the
// documents changes it.
func Fingerprint(chunks []models.Chunk) string {
	h := sha256.New()
	for _, c := range chunks {
		h.Write([]byte(c.ID()))
		h.Write([]byte{0})
		h.Write([]byte(c.Content))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Mismatches lists the ways the current run differs from the manifest.
func (m *Manifest) Mismatches(embedModel, fingerprint string, count int) []string {
	var out []string
	if m.Chunks > 0 && m.Chunks != count {
		out = append(out, fmt.Sprintf("index holds %d chunks but the last build wrote %d", count, m.Chunks))
	}
	if m.EmbedModel != "" && m.EmbedModel != embedModel {
		out = append(out, fmt.Sprintf("index was built with embedding model %q but %q is configured", m.EmbedModel, embedModel))
	}
	if m.Fingerprint != "" && m.Fingerprint != fingerprint {
		out = append(out, "documents changed since the index was built")
	}
	return out
}
