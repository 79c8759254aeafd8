// Package rulestore provides read-only access to the persisted fiscal rule
// tables. The store is opened once per process and is safe for concurrent
// reads; nothing writes to it during a validation run.
package rulestore

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/fiscalops/nfe-auditor/internal/models"
)

// ErrNotFound marks a lookup miss. Callers treat it as "insufficient
// information to judge", not as a failure.
var ErrNotFound = errors.New("rule not found")

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store { return &Store{db: db} }

// DB exposes the underlying handle for migration and seeding entry points.
func (s *Store) DB() *gorm.DB { return s.db }

// NCMRule returns the baseline rule for one classification code, skipping
// expired rows.
func (s *Store) NCMRule(ncm string) (*models.NCMRule, error) {
	var rule models.NCMRule
	err := s.db.
		Where("ncm = ?", ncm).
		Where("valid_until IS NULL OR valid_until >= ?", time.Now()).
		First(&rule).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ncm rule %s: %w", ncm, err)
	}
	return &rule, nil
}

// PISCofinsRule returns the situation rule for one 2-digit CST.
func (s *Store) PISCofinsRule(cst string) (*models.PISCofinsRule, error) {
	var rule models.PISCofinsRule
	err := s.db.Where("cst = ?", cst).First(&rule).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pis/cofins rule %s: %w", cst, err)
	}
	return &rule, nil
}

// IsCSTValid reports whether a CST is cataloged at all.
func (s *Store) IsCSTValid(cst string) (bool, error) {
	var count int64
	if err := s.db.Model(&models.PISCofinsRule{}).Where("cst = ?", cst).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// CFOPRule returns the rule for one 4-digit operation code.
func (s *Store) CFOPRule(cfop string) (*models.CFOPRule, error) {
	var rule models.CFOPRule
	err := s.db.Where("cfop = ?", cfop).First(&rule).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cfop rule %s: %w", cfop, err)
	}
	return &rule, nil
}

// StateRules returns the jurisdiction overlay for a state, scoped to one NCM.
// Rows without an NCM scope apply state-wide and are included.
func (s *Store) StateRules(uf, ncm string) ([]models.StateOverride, error) {
	var rules []models.StateOverride
	q := s.db.
		Where("state = ?", uf).
		Where("valid_until IS NULL OR valid_until >= ?", time.Now()).
		Order("override_type")
	if ncm != "" {
		q = q.Where("ncm = ? OR ncm = '' OR ncm IS NULL", ncm)
	}
	if err := q.Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("state rules %s/%s: %w", uf, ncm, err)
	}
	return rules, nil
}

// AllNCMRules lists every current classification rule, ordered by code.
func (s *Store) AllNCMRules() ([]models.NCMRule, error) {
	var rules []models.NCMRule
	err := s.db.
		Where("valid_until IS NULL OR valid_until >= ?", time.Now()).
		Order("ncm").
		Find(&rules).Error
	if err != nil {
		return nil, fmt.Errorf("list ncm rules: %w", err)
	}
	return rules, nil
}

// LegalRef returns one citable legal source by code.
func (s *Store) LegalRef(code string) (*models.LegalRef, error) {
	var ref models.LegalRef
	err := s.db.Where("code = ?", code).First(&ref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("legal ref %s: %w", code, err)
	}
	return &ref, nil
}

// FormatCitation renders a reference as "Lei 10.637/2002 - title". Unknown
// codes fall back to the code itself so findings always carry something.
func (s *Store) FormatCitation(code string) string {
	ref, err := s.LegalRef(code)
	if err != nil {
		return code
	}
	return fmt.Sprintf("%s %s/%d - %s", refTypeLabel(ref.RefType), ref.Number, ref.Year, ref.Title)
}

func refTypeLabel(refType string) string {
	switch refType {
	case "LEI":
		return "Lei"
	case "DECRETO":
		return "Decreto"
	case "INSTRUCAO_NORMATIVA":
		return "IN"
	case "AJUSTE_SINIEF":
		return "Ajuste SINIEF"
	default:
		return refType
	}
}

// Statistics returns per-table row counts, used by the CLI for diagnostics.
func (s *Store) Statistics() (map[string]int64, error) {
	stats := map[string]int64{}
	tables := map[string]interface{}{
		"ncm_rules":        &models.NCMRule{},
		"pis_cofins_rules": &models.PISCofinsRule{},
		"cfop_rules":       &models.CFOPRule{},
		"state_overrides":  &models.StateOverride{},
		"legal_refs":       &models.LegalRef{},
	}
	for name, model := range tables {
		var count int64
		if err := s.db.Model(model).Count(&count).Error; err != nil {
			return nil, fmt.Errorf("count %s: %w", name, err)
		}
		stats[name] = count
	}
	return stats, nil
}
