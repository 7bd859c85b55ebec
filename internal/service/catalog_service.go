package service

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"autocare/internal/domain"
	"autocare/internal/models"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

// CatalogService holds the offered services. Requests snapshot the base price
// at creation, so edits here never touch existing requests.
type CatalogService struct {
	logger   *zerolog.Logger
	services []models.CatalogService
	mu       sync.RWMutex
}

func NewCatalogService(services []models.CatalogService, logger *zerolog.Logger) (*CatalogService, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if err := ValidateCatalog(services); err != nil {
		return nil, err
	}
	out := make([]models.CatalogService, len(services))
	copy(out, services)
	return &CatalogService{logger: logger, services: out}, nil
}

type catalogFile struct {
	Services []catalogEntry `yaml:"services"`
}

// catalogEntry treats a missing active flag as true.
type catalogEntry struct {
	ID          string  `yaml:"id"`
	Name        string  `yaml:"name"`
	Category    string  `yaml:"category"`
	BasePrice   float64 `yaml:"base_price"`
	Description string  `yaml:"description"`
	Active      *bool   `yaml:"active"`
}

// LoadCatalog reads a catalog YAML file; an empty path yields the built-in defaults.
func LoadCatalog(path string) ([]models.CatalogService, error) {
	if path == "" {
		return models.DefaultCatalog(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(file.Services) == 0 {
		return nil, fmt.Errorf("catalog %s has no services", path)
	}

	services := make([]models.CatalogService, 0, len(file.Services))
	for _, e := range file.Services {
		services = append(services, models.CatalogService{
			ID:          e.ID,
			Name:        e.Name,
			Category:    e.Category,
			BasePrice:   e.BasePrice,
			Description: e.Description,
			Active:      e.Active == nil || *e.Active,
		})
	}
	return services, nil
}

// ValidateCatalog checks ids are present and unique and prices non-negative.
func ValidateCatalog(services []models.CatalogService) error {
	ids := make(map[string]bool, len(services))
	for _, s := range services {
		if err := validateEntry(s); err != nil {
			return err
		}
		key := strings.ToLower(s.ID)
		if ids[key] {
			return &domain.ValidationError{Field: "id", Reason: fmt.Sprintf("duplicate catalog id %s", s.ID)}
		}
		ids[key] = true
	}
	return nil
}

func validateEntry(s models.CatalogService) error {
	if strings.TrimSpace(s.ID) == "" {
		return &domain.ValidationError{Field: "id", Reason: fmt.Sprintf("catalog entry %q has empty id", s.Name)}
	}
	if strings.TrimSpace(s.Name) == "" {
		return &domain.ValidationError{Field: "name", Reason: fmt.Sprintf("catalog entry %s has empty name", s.ID)}
	}
	if s.BasePrice < 0 {
		return &domain.ValidationError{Field: "basePrice", Reason: "must not be negative"}
	}
	return nil
}

// Lookup finds an entry by id or name, including inactive ones.
func (s *CatalogService) Lookup(key string) (*models.CatalogService, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.services {
		if s.services[i].Matches(key) {
			entry := s.services[i]
			return &entry, nil
		}
	}
	return nil, &domain.NotFoundError{Kind: "service", ID: key}
}

// List returns entries sorted by name; inactive ones only when requested.
func (s *CatalogService) List(includeInactive bool) []models.CatalogService {
	s.mu.RLock()
	out := make([]models.CatalogService, 0, len(s.services))
	for _, svc := range s.services {
		if svc.Active || includeInactive {
			out = append(out, svc)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Upsert adds a new entry or replaces the one with the same id.
func (s *CatalogService) Upsert(entry models.CatalogService) (models.CatalogService, error) {
	entry.ID = strings.TrimSpace(entry.ID)
	entry.Name = strings.TrimSpace(entry.Name)
	if err := validateEntry(entry); err != nil {
		return models.CatalogService{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.services {
		if strings.EqualFold(s.services[i].ID, entry.ID) {
			continue
		}
		if strings.EqualFold(s.services[i].Name, entry.Name) {
			return models.CatalogService{}, &domain.ValidationError{Field: "name", Reason: "already used by " + s.services[i].ID}
		}
	}

	for i := range s.services {
		if strings.EqualFold(s.services[i].ID, entry.ID) {
			s.services[i] = entry
			s.logger.Info().Str("service_id", entry.ID).Float64("base_price", entry.BasePrice).Msg("catalog entry updated")
			return entry, nil
		}
	}

	s.services = append(s.services, entry)
	s.logger.Info().Str("service_id", entry.ID).Float64("base_price", entry.BasePrice).Msg("catalog entry added")
	return entry, nil
}

// Deactivate hides an entry from new requests.
func (s *CatalogService) Deactivate(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.services {
		if strings.EqualFold(s.services[i].ID, strings.TrimSpace(id)) {
			s.services[i].Active = false
			s.logger.Info().Str("service_id", s.services[i].ID).Msg("catalog entry deactivated")
			return nil
		}
	}
	return &domain.NotFoundError{Kind: "service", ID: id}
}
