// Package override loads base_validacao.csv, the operator-editable rule sheet
// consulted before the persisted store. A hit returns the whole record; there
// is no per-field fallback to the database.
package override

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Record is one CSV row keyed by NCM. Rate pointers are nil when the cell is
// empty or unparseable.
type Record struct {
	NCM         string
	Description string

	PISCSTOut     string
	PISRateOut    *decimal.Decimal
	COFINSCSTOut  string
	COFINSRateOut *decimal.Decimal

	PISCSTIn     string
	PISRateIn    *decimal.Decimal
	COFINSCSTIn  string
	COFINSRateIn *decimal.Decimal

	AllowedCFOPsOut []string
	AllowedCFOPsIn  []string

	ICMSSPBaseReduction  string
	ICMSPEPresumedCredit string

	LegalBasis string
	Notes      string
}

// StateHint is the state-specific reading of a record, built on demand.
type StateHint struct {
	UF          string
	NCM         string
	Kind        string // REDUCAO_BC, CREDITO_PRESUMIDO, ISENCAO
	Percent     *decimal.Decimal
	Description string
	LegalBasis  string
	Note        string
}

// Layer holds the sheet in memory. Loads are exclusive, reads concurrent.
type Layer struct {
	path string
	log  *zap.Logger

	mu      sync.RWMutex
	records map[string]*Record
}

// New loads the sheet at path. A missing file is not an error: the layer stays
// empty and every lookup misses.
func New(path string, log *zap.Logger) *Layer {
	if log == nil {
		log = zap.NewNop()
	}
	l := &Layer{path: path, log: log, records: map[string]*Record{}}
	if err := l.Reload(); err != nil {
		log.Warn("override sheet unavailable", zap.String("path", path), zap.Error(err))
	}
	return l
}

// Reload re-reads the file, replacing the cache wholesale. Safe to call while
// lookups are in flight.
func (l *Layer) Reload() error {
	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		l.mu.Lock()
		l.records = map[string]*Record{}
		l.mu.Unlock()
		l.log.Warn("override sheet not found, layer disabled", zap.String("path", l.path))
		return nil
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", l.path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return fmt.Errorf("parse %s: %w", l.path, err)
	}
	if len(rows) == 0 {
		l.mu.Lock()
		l.records = map[string]*Record{}
		l.mu.Unlock()
		return nil
	}

	col := map[string]int{}
	for i, name := range rows[0] {
		col[strings.TrimSpace(name)] = i
	}
	cell := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	records := map[string]*Record{}
	for _, row := range rows[1:] {
		ncm := cell(row, "ncm")
		if ncm == "" || strings.HasPrefix(ncm, "#") {
			continue
		}
		records[ncm] = &Record{
			NCM:                  ncm,
			Description:          cell(row, "descricao"),
			PISCSTOut:            cell(row, "pis_cst_saida"),
			PISRateOut:           parseRate(cell(row, "pis_aliquota_saida")),
			COFINSCSTOut:         cell(row, "cofins_cst_saida"),
			COFINSRateOut:        parseRate(cell(row, "cofins_aliquota_saida")),
			PISCSTIn:             cell(row, "pis_cst_entrada"),
			PISRateIn:            parseRate(cell(row, "pis_aliquota_entrada")),
			COFINSCSTIn:          cell(row, "cofins_cst_entrada"),
			COFINSRateIn:         parseRate(cell(row, "cofins_aliquota_entrada")),
			AllowedCFOPsOut:      splitCodes(cell(row, "cfop_saida_permitidos")),
			AllowedCFOPsIn:       splitCodes(cell(row, "cfop_entrada_permitidos")),
			ICMSSPBaseReduction:  cell(row, "icms_sp_reducao_bc"),
			ICMSPEPresumedCredit: cell(row, "icms_pe_credito_presumido"),
			LegalBasis:           cell(row, "base_legal"),
			Notes:                cell(row, "observacoes"),
		}
	}

	l.mu.Lock()
	l.records = records
	l.mu.Unlock()
	l.log.Info("override sheet loaded", zap.String("path", l.path), zap.Int("records", len(records)))
	return nil
}

func parseRate(s string) *decimal.Decimal {
	if s == "" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	return &d
}

func splitCodes(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, c := range strings.Split(s, "|") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

// Available reports whether any records loaded.
func (l *Layer) Available() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records) > 0
}

// NCMRule returns the full record for one NCM, or a miss.
func (l *Layer) NCMRule(ncm string) (*Record, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.records[strings.TrimSpace(ncm)]
	return rec, ok
}

// CFOPListed reports whether any record allows the CFOP for its operation
// direction, derived from the leading digit.
func (l *Layer) CFOPListed(cfop string) bool {
	cfop = strings.TrimSpace(cfop)
	outbound := strings.HasPrefix(cfop, "5") || strings.HasPrefix(cfop, "6") || strings.HasPrefix(cfop, "7")
	inbound := strings.HasPrefix(cfop, "1") || strings.HasPrefix(cfop, "2") || strings.HasPrefix(cfop, "3")
	if !outbound && !inbound {
		return false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, rec := range l.records {
		list := rec.AllowedCFOPsIn
		if outbound {
			list = rec.AllowedCFOPsOut
		}
		for _, c := range list {
			if c == cfop {
				return true
			}
		}
	}
	return false
}

// CFOPAllowedForNCM reports whether the record for the NCM lists the CFOP.
// Second return is false when the NCM has no record.
func (l *Layer) CFOPAllowedForNCM(ncm, cfop string) (allowed, known bool) {
	rec, ok := l.NCMRule(ncm)
	if !ok {
		return false, false
	}
	cfop = strings.TrimSpace(cfop)
	list := rec.AllowedCFOPsIn
	if strings.HasPrefix(cfop, "5") || strings.HasPrefix(cfop, "6") || strings.HasPrefix(cfop, "7") {
		list = rec.AllowedCFOPsOut
	}
	for _, c := range list {
		if c == cfop {
			return true, true
		}
	}
	return false, true
}

// StateRule reads the SP/PE columns of the NCM record into a typed hint.
// Returns a miss when the record exists but carries nothing for the state.
func (l *Layer) StateRule(uf, ncm string) (*StateHint, bool) {
	rec, ok := l.NCMRule(ncm)
	if !ok {
		return nil, false
	}
	hint := &StateHint{UF: uf, NCM: ncm, LegalBasis: rec.LegalBasis}
	switch uf {
	case "SP":
		if strings.EqualFold(rec.ICMSSPBaseReduction, "SIM") {
			hint.Kind = "REDUCAO_BC"
			hint.Description = "Redução de Base de Cálculo ICMS"
			if hint.LegalBasis == "" {
				hint.LegalBasis = "RICMS/SP Anexo II Art.3 V"
			}
			hint.Note = rec.Notes
			return hint, true
		}
	case "PE":
		credit := rec.ICMSPEPresumedCredit
		if pct := parseRate(credit); pct != nil {
			hint.Kind = "CREDITO_PRESUMIDO"
			hint.Percent = pct
			hint.Description = fmt.Sprintf("Crédito presumido %s%% sobre saídas", credit)
			hint.Note = "Regime substitutivo, não acumula com créditos normais"
			return hint, true
		}
		if strings.Contains(strings.ToUpper(credit), "ISENTO") {
			hint.Kind = "ISENCAO"
			hint.Description = "Isenção ICMS"
			hint.Note = rec.Notes
			return hint, true
		}
	}
	return nil, false
}

// AllNCMs lists the loaded keys.
func (l *Layer) AllNCMs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.records))
	for ncm := range l.records {
		out = append(out, ncm)
	}
	return out
}

// Statistics returns counts used by CLI diagnostics.
func (l *Layer) Statistics() map[string]int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	sugar := 0
	for ncm := range l.records {
		if strings.HasPrefix(ncm, "1701") {
			sugar++
		}
	}
	return map[string]int{
		"total":  len(l.records),
		"sugar":  sugar,
		"inputs": len(l.records) - sugar,
	}
}
