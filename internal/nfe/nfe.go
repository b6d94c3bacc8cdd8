// Package nfe ingests the two NF-e workbook formats uploaded by analysts:
// the invoice workbook (per-year production/sales/trade quantities keyed by
// 8-digit NCM) and the registry workbook (NCM-to-organization mapping plus
// entity contacts).
package nfe

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"comexlens/internal/model"
)

// ErrUnusableWorkbook reports a workbook the parser could not turn into
// records. The caller resets any derived tables instead of leaving them stale.
var ErrUnusableWorkbook = errors.New("nfe: workbook has no usable records")

// invoice workbook column synonyms, matched against normalized headers.
var invoiceColumns = map[string][]string{
	"year":          {"ano"},
	"ncm":           {"ncm", "codigo ncm"},
	"prodValue":     {"valor producao", "vl producao"},
	"prodQty":       {"qtd producao", "quantidade producao"},
	"exportValue":   {"valor exportacao", "vl exportacao"},
	"exportQty":     {"qtd exportacao", "quantidade exportacao"},
	"importValue":   {"valor importacao", "valor importacao cif", "vl importacao"},
	"importQty":     {"qtd importacao", "quantidade importacao"},
	"domesticSales": {"qtd venda interna", "venda interna", "qtd vendas internas"},
}

// ReadInvoices parses the invoice workbook into per-year records for each
// 8-digit NCM, ordered by NCM then year. An absent domestic-sales cell stays
// undefined so the resolver can derive it.
func ReadInvoices(r io.Reader, logger *slog.Logger) ([]model.InvoiceRecord, error) {
	if logger == nil {
		logger = slog.Default()
	}

	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnusableWorkbook, err)
	}
	defer f.Close()

	rows, sheet, err := findSheet(f, "ncm", "ano")
	if err != nil {
		return nil, err
	}
	logger.Debug("parsing invoice workbook",
		slog.String("sheet", sheet), slog.Int("rows", len(rows)))

	headerIdx, columns := mapColumns(rows, invoiceColumns)
	if columns == nil || !hasColumns(columns, "year", "ncm") {
		return nil, fmt.Errorf("%w: invoice header row not found", ErrUnusableWorkbook)
	}

	records := make([]model.InvoiceRecord, 0, len(rows))
	for _, row := range rows[headerIdx+1:] {
		ncm := digitsOnly(cell(row, columns, "ncm"))
		year := strings.TrimSpace(cell(row, columns, "year"))
		if len(ncm) != 8 || year == "" {
			continue
		}

		record := model.InvoiceRecord{
			Year:               year,
			NCM:                ncm,
			ProductionValue:    parseNumber(cell(row, columns, "prodValue")),
			ProductionQuantity: parseNumber(cell(row, columns, "prodQty")),
			ExportValue:        parseNumber(cell(row, columns, "exportValue")),
			ExportQuantity:     parseNumber(cell(row, columns, "exportQty")),
			ImportValueCIF:     parseNumber(cell(row, columns, "importValue")),
			ImportQuantity:     parseNumber(cell(row, columns, "importQty")),
		}
		if raw := strings.TrimSpace(cell(row, columns, "domesticSales")); raw != "" {
			record.DomesticSales = model.DefinedRatio(parseNumber(raw))
		}
		records = append(records, record)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no invoice rows", ErrUnusableWorkbook)
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].NCM != records[j].NCM {
			return records[i].NCM < records[j].NCM
		}
		return records[i].Year < records[j].Year
	})
	return records, nil
}

// InvoicesForNCM filters an invoice list down to one product code, keeping
// year order. Zero matches is a valid empty result, not an error.
func InvoicesForNCM(records []model.InvoiceRecord, ncm string) []model.InvoiceRecord {
	matched := make([]model.InvoiceRecord, 0)
	for _, record := range records {
		if record.NCM == ncm {
			matched = append(matched, record)
		}
	}
	return matched
}

var registryColumns = map[string][]string{
	"ncm":    {"ncm"},
	"name":   {"razao social", "empresa", "organizacao"},
	"cnpj":   {"cnpj"},
	"sector": {"setor", "segmento"},
}

var contactColumns = map[string][]string{
	"organization": {"razao social", "empresa", "organizacao"},
	"name":         {"contato", "nome"},
	"email":        {"email", "e-mail"},
	"phone":        {"telefone", "fone"},
}

// ReadRegistry parses the registry workbook: an NCM-to-organization sheet and
// an optional contacts sheet.
func ReadRegistry(r io.Reader, logger *slog.Logger) (map[string]model.Organization, []model.Contact, error) {
	if logger == nil {
		logger = slog.Default()
	}

	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUnusableWorkbook, err)
	}
	defer f.Close()

	organizations := make(map[string]model.Organization)
	contacts := make([]model.Contact, 0)

	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) == 0 {
			continue
		}

		if headerIdx, columns := mapColumns(rows, registryColumns); columns != nil && hasColumns(columns, "ncm", "name") {
			for _, row := range rows[headerIdx+1:] {
				ncm := digitsOnly(cell(row, columns, "ncm"))
				if len(ncm) != 8 {
					continue
				}
				organizations[ncm] = model.Organization{
					NCM:    ncm,
					Name:   strings.TrimSpace(cell(row, columns, "name")),
					CNPJ:   strings.TrimSpace(cell(row, columns, "cnpj")),
					Sector: strings.TrimSpace(cell(row, columns, "sector")),
				}
			}
			continue
		}

		if headerIdx, columns := mapColumns(rows, contactColumns); columns != nil && hasColumns(columns, "name", "email") {
			for _, row := range rows[headerIdx+1:] {
				name := strings.TrimSpace(cell(row, columns, "name"))
				if name == "" {
					continue
				}
				contacts = append(contacts, model.Contact{
					Organization: strings.TrimSpace(cell(row, columns, "organization")),
					Name:         name,
					Email:        strings.TrimSpace(cell(row, columns, "email")),
					Phone:        strings.TrimSpace(cell(row, columns, "phone")),
				})
			}
		}
	}

	if len(organizations) == 0 && len(contacts) == 0 {
		return nil, nil, fmt.Errorf("%w: no registry sheets recognized", ErrUnusableWorkbook)
	}
	logger.Debug("parsed registry workbook",
		slog.Int("organizations", len(organizations)), slog.Int("contacts", len(contacts)))
	return organizations, contacts, nil
}

// findSheet returns the rows of the first sheet whose early rows mention all
// probe tokens, mirroring how analysts ship these files with arbitrary sheet
// names.
func findSheet(f *excelize.File, probes ...string) ([][]string, string, error) {
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil || len(rows) == 0 {
			continue
		}
		limit := len(rows)
		if limit > 10 {
			limit = 10
		}
		joined := ""
		for _, row := range rows[:limit] {
			joined += " " + normalize(strings.Join(row, " "))
		}
		found := true
		for _, probe := range probes {
			if !strings.Contains(joined, probe) {
				found = false
				break
			}
		}
		if found {
			return rows, name, nil
		}
	}
	return nil, "", fmt.Errorf("%w: no sheet matches expected headers", ErrUnusableWorkbook)
}

// mapColumns locates the header row and maps logical column names to indexes.
func mapColumns(rows [][]string, synonyms map[string][]string) (int, map[string]int) {
	for rowIdx, row := range rows {
		columns := make(map[string]int)
		for colIdx, raw := range row {
			header := normalize(raw)
			if header == "" {
				continue
			}
			for key, names := range synonyms {
				if _, taken := columns[key]; taken {
					continue
				}
				for _, name := range names {
					if header == name {
						columns[key] = colIdx
						break
					}
				}
			}
		}
		if len(columns) >= 2 {
			return rowIdx, columns
		}
	}
	return 0, nil
}

func hasColumns(columns map[string]int, keys ...string) bool {
	for _, key := range keys {
		if _, ok := columns[key]; !ok {
			return false
		}
	}
	return true
}

func cell(row []string, columns map[string]int, key string) string {
	index, ok := columns[key]
	if !ok || index >= len(row) {
		return ""
	}
	return row[index]
}

// normalize lowercases a header and strips the accents and punctuation these
// spreadsheets vary on.
func normalize(value string) string {
	replacer := strings.NewReplacer(
		"á", "a", "ã", "a", "â", "a", "à", "a",
		"é", "e", "ê", "e",
		"í", "i",
		"ó", "o", "õ", "o", "ô", "o",
		"ú", "u",
		"ç", "c",
		"(", "", ")", "", ".", "", ":", "",
	)
	value = replacer.Replace(strings.ToLower(strings.TrimSpace(value)))
	return strings.Join(strings.Fields(value), " ")
}

// parseNumber reads Brazilian-formatted numbers ("1.234,56") as well as
// plain decimals. Unparseable cells count as zero; quantities genuinely
// absent from the sheet are handled by the column being empty.
func parseNumber(raw string) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	if strings.Contains(raw, ",") {
		raw = strings.ReplaceAll(raw, ".", "")
		raw = strings.ReplaceAll(raw, ",", ".")
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return value
}

func digitsOnly(raw string) string {
	var builder strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			builder.WriteRune(r)
		}
	}
	return builder.String()
}
