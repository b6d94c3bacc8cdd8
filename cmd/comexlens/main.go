package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"comexlens/internal/model"
	"comexlens/internal/nfe"
	"comexlens/internal/providers/comexstat"
	"comexlens/internal/session"
	"comexlens/internal/store"
	"comexlens/internal/store/sqlite"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "analyze":
		analyze(os.Args[2:])
	case "export":
		export(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func analyze(args []string) {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	ncm := fs.String("ncm", "", "8-digit NCM product code")
	fromYear := fs.Int("from", 0, "first year of the series (0 = lookback from the last published year)")
	toYear := fs.Int("to", 0, "last year of the series (0 = last published year)")
	dbPath := fs.String("db", "comexlens.db", "sqlite cache path (empty disables caching)")
	nfePath := fs.String("nfe", "", "path to an NF-e invoice workbook (optional)")
	asJSON := fs.Bool("json", false, "print the whole session as JSON")
	verbose := fs.Bool("verbose", false, "log every source request")
	fs.Parse(args)

	if err := runAnalyze(*ncm, *fromYear, *toYear, *dbPath, *nfePath, *asJSON, *verbose); err != nil {
		fmt.Fprintln(os.Stderr, "analyze failed:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: comexlens analyze [options]")
	fmt.Fprintln(os.Stderr, "       comexlens export [options]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "analyze options:")
	fmt.Fprintln(os.Stderr, "  -ncm       8-digit NCM product code (required)")
	fmt.Fprintln(os.Stderr, "  -from      first year of the series (default: lookback)")
	fmt.Fprintln(os.Stderr, "  -to        last year of the series (default: last published)")
	fmt.Fprintln(os.Stderr, "  -db        sqlite cache path (default: comexlens.db)")
	fmt.Fprintln(os.Stderr, "  -nfe       NF-e invoice workbook path")
	fmt.Fprintln(os.Stderr, "  -json      print the whole session as JSON")
	fmt.Fprintln(os.Stderr, "  -verbose   log every source request")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "export options:")
	fmt.Fprintln(os.Stderr, "  -ncm   8-digit NCM product code (required)")
	fmt.Fprintln(os.Stderr, "  -db    sqlite cache path (default: comexlens.db)")
	fmt.Fprintln(os.Stderr, "  -out   output directory (default: site/data)")
}

// export writes the cached series for one NCM as JSON artifacts, one file
// per flow plus a generation marker, from the local cache only.
func export(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	ncm := fs.String("ncm", "", "8-digit NCM product code")
	dbPath := fs.String("db", "comexlens.db", "sqlite cache path")
	outDir := fs.String("out", "site/data", "output directory")
	fs.Parse(args)

	if err := runExport(*ncm, *dbPath, *outDir); err != nil {
		fmt.Fprintln(os.Stderr, "export failed:", err)
		os.Exit(1)
	}
}

type metaFile struct {
	GeneratedAt string `json:"generated_at"`
	NCM         string `json:"ncm"`
}

type recordsFile struct {
	GeneratedAt string                    `json:"generated_at"`
	NCM         string                    `json:"ncm"`
	Flow        model.Flow                `json:"flow"`
	Records     []model.DirectionalRecord `json:"records"`
}

func runExport(ncm, dbPath, outDir string) error {
	if strings.TrimSpace(ncm) == "" {
		return fmt.Errorf("ncm is required")
	}
	if strings.TrimSpace(dbPath) == "" {
		return fmt.Errorf("db path is required")
	}

	records, err := sqlite.New(dbPath)
	if err != nil {
		return err
	}
	defer records.Close()

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}

	ctx := context.Background()
	now := time.Now().UTC().Format(time.RFC3339)
	if err := writeJSON(filepath.Join(outDir, "meta.json"), metaFile{GeneratedAt: now, NCM: ncm}); err != nil {
		return err
	}

	for _, flow := range []model.Flow{model.FlowExport, model.FlowImport} {
		rows, err := records.ListRecords(ctx, ncm, flow, 0, 9999)
		if err != nil {
			return err
		}
		name := fmt.Sprintf("%s_%s.json", ncm, flow)
		if err := writeJSON(filepath.Join(outDir, name), recordsFile{
			GeneratedAt: now,
			NCM:         ncm,
			Flow:        flow,
			Records:     rows,
		}); err != nil {
			return err
		}
		fmt.Printf("export wrote %s (records=%d)\n", name, len(rows))
	}
	return nil
}

func writeJSON(path string, value any) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func runAnalyze(ncm string, fromYear, toYear int, dbPath, nfePath string, asJSON, verbose bool) error {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	provider, err := comexstat.New(logger)
	if err != nil {
		return err
	}

	records, err := openStore(dbPath)
	if err != nil {
		return err
	}
	defer records.Close()

	var invoices []model.InvoiceRecord
	if strings.TrimSpace(nfePath) != "" {
		file, err := os.Open(nfePath)
		if err != nil {
			return err
		}
		invoices, err = nfe.ReadInvoices(file, logger)
		file.Close()
		if err != nil {
			return err
		}
	}

	analyzer := session.NewAnalyzer(provider, records, logger)
	result, err := analyzer.Analyze(context.Background(), session.Request{
		NCM:      ncm,
		FromYear: fromYear,
		ToYear:   toYear,
		Invoices: invoices,
	})
	if err != nil {
		return err
	}

	if asJSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(result)
	}

	printSession(result)
	return nil
}

func openStore(path string) (store.Store, error) {
	if strings.TrimSpace(path) == "" {
		return &store.NopStore{}, nil
	}
	return sqlite.New(path)
}

func printSession(result *session.Session) {
	fmt.Printf("%s  %s (%s)\n", result.Product.NCM, result.Product.Description, result.Product.Unit)
	fmt.Printf("source updated through %04d-%02d\n\n", result.LastUpdate.Year, result.LastUpdate.Month)

	fmt.Println("trade balance (FOB USD)")
	fmt.Printf("%-6s %15s %15s %15s\n", "year", "export", "import", "balance")
	for _, row := range result.Resumed {
		fmt.Printf("%-6s %15.2f %15.2f %15.2f\n", row.Year, row.ExportFOB, row.ImportFOB, row.BalanceFOB)
	}

	printVariations("exports", result.ExportVariations)
	printVariations("imports", result.ImportVariations)

	if result.CountryYear != "" {
		printCountries("export partners "+result.CountryYear, result.ExportCountries)
		printCountries("import origins "+result.CountryYear, result.ImportCountries)
	}

	if len(result.Sales) > 0 {
		fmt.Println("\nsales (NF-e)")
		fmt.Printf("%-6s %15s %15s %15s %10s\n", "year", "total", "domestic", "exported", "var")
		for _, row := range result.Sales {
			fmt.Printf("%-6s %15.2f %15.2f %15.2f %10s\n",
				row.Year, row.Total, row.Domestic, row.Exported, formatRatio(row.TotalVariation))
		}
	}

	if len(result.Consumption) > 0 {
		fmt.Println("\napparent national consumption")
		fmt.Printf("%-6s %15s %15s %15s %12s\n", "year", "consumption", "imports", "domestic", "penetration")
		for _, row := range result.Consumption {
			fmt.Printf("%-6s %15.2f %15.2f %15.2f %12s\n",
				row.Year, row.Consumption, row.Imports, row.Domestic, formatRatio(row.Penetration))
		}
	}
}

func printVariations(title string, rows []model.VariationRow) {
	if len(rows) == 0 {
		return
	}
	fmt.Printf("\n%s\n", title)
	fmt.Printf("%-6s %15s %15s %12s %10s %10s %10s\n",
		"year", "fob", "kg", "price", "fob%", "kg%", "price%")
	for _, row := range rows {
		fmt.Printf("%-6s %15.2f %15.2f %12s %10s %10s %10s\n",
			row.Year, row.FOB, row.KG,
			formatRatio(row.Price),
			formatRatio(row.FOBVariation),
			formatRatio(row.KGVariation),
			formatRatio(row.PriceVariation))
	}
}

func printCountries(title string, rows []model.CountryRow) {
	if len(rows) == 0 {
		return
	}
	fmt.Printf("\n%s\n", title)
	fmt.Printf("%-30s %15s %15s %10s\n", "country", "fob", "kg", "share")
	for _, row := range rows {
		fmt.Printf("%-30s %15.2f %15.2f %10s\n",
			row.Country, row.FOB, row.KG, formatRatio(row.FOBShare))
	}
}

func formatRatio(r model.Ratio) string {
	value, defined := r.Float64()
	if !defined {
		return "-"
	}
	return fmt.Sprintf("%.2f", value)
}
