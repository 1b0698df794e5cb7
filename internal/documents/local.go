package documents

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// LocalRenderer writes notice and allotment artifacts to a working directory.
// It stands in for the production template/PDF pipeline.
type LocalRenderer struct {
	Dir string
}

func NewLocalRenderer(dir string) *LocalRenderer {
	return &LocalRenderer{Dir: dir}
}

// RenderNotice writes a single-investor capital call notice as HTML and
// returns the file path.
func (r *LocalRenderer) RenderNotice(payload NoticePayload) (string, error) {
	if payload.InvestorName == "" {
		return "", fmt.Errorf("notice payload missing investor name")
	}
	if err := os.MkdirAll(r.Dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to prepare render directory: %w", err)
	}

	var b strings.Builder
	b.WriteString("<html><body>\n")
	b.WriteString(fmt.Sprintf("<h1>Capital Call Notice: %s</h1>\n", payload.FundName))
	b.WriteString(fmt.Sprintf("<p>Investor: %s</p>\n", payload.InvestorName))
	b.WriteString(fmt.Sprintf("<p>Notice date: %s</p>\n", payload.NoticeDate.Format("2006-01-02")))
	b.WriteString(fmt.Sprintf("<p>Amount due: %s</p>\n", payload.AmountDue.StringFixed(2)))
	b.WriteString(fmt.Sprintf("<p>Contribution due date: %s</p>\n", payload.DueDate.Format("2006-01-02")))
	b.WriteString(fmt.Sprintf("<p>Total commitment: %s</p>\n", payload.TotalCommitment.StringFixed(2)))
	b.WriteString(fmt.Sprintf("<p>Amount called up: %s</p>\n", payload.AmountCalledUp.StringFixed(2)))
	b.WriteString(fmt.Sprintf("<p>Remaining commitment: %s</p>\n", payload.RemainingCommitment.StringFixed(2)))
	b.WriteString(fmt.Sprintf("<p>Forecast next quarter (%s): %s%%</p>\n", payload.ForecastQuarter, payload.ForecastPercentage.String()))
	b.WriteString(fmt.Sprintf("<p>Remit to: %s, %s, a/c %s, IFSC %s, contact %s</p>\n",
		payload.BankName, payload.BankAccountName, payload.BankAccountNo, payload.BankIFSC, payload.BankContact))
	b.WriteString("</body></html>\n")

	name := fmt.Sprintf("notice_%s_%d.html", sanitize(payload.InvestorName), time.Now().UnixNano())
	path := filepath.Join(r.Dir, name)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("failed to write notice artifact: %w", err)
	}
	return path, nil
}

// RenderAllotmentSheet writes the batch allotment sheet as CSV and returns
// the file path.
func (r *LocalRenderer) RenderAllotmentSheet(payload SheetPayload) (string, error) {
	if len(payload.Rows) == 0 {
		return "", fmt.Errorf("allotment sheet payload has no rows")
	}
	if err := os.MkdirAll(r.Dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to prepare render directory: %w", err)
	}

	var b strings.Builder
	b.WriteString("investor,call_amount,nav,allotted_units,mgmt_fees,stamp_duty\n")
	for _, row := range payload.Rows {
		b.WriteString(fmt.Sprintf("%s,%s,%d,%d,%s,%s\n",
			row.InvestorName,
			row.CallAmount.StringFixed(2),
			row.NAV,
			row.AllottedUnits,
			row.MgmtFees.StringFixed(2),
			row.StampDuty.StringFixed(2),
		))
	}

	name := fmt.Sprintf("allotment_%s_%s_%d.csv", sanitize(payload.FundName), sanitize(payload.Quarter), time.Now().UnixNano())
	path := filepath.Join(r.Dir, name)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("failed to write allotment sheet: %w", err)
	}
	return path, nil
}

// LocalStorage keeps artifacts on the local filesystem and hands back file
// URLs. It stands in for the production object store.
type LocalStorage struct {
	Root string
}

func NewLocalStorage(root string) *LocalStorage {
	return &LocalStorage{Root: root}
}

func (s *LocalStorage) Put(localPath, key string, metadata map[string]string) (string, error) {
	dest := filepath.Join(s.Root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("failed to prepare storage path: %w", err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open artifact: %w", err)
	}
	defer src.Close()

	out, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("failed to create stored artifact: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		return "", fmt.Errorf("failed to copy artifact: %w", err)
	}

	log.Debug().
		Str("key", key).
		Int("metadata_fields", len(metadata)).
		Msg("stored artifact")

	return "file://" + dest, nil
}

func (s *LocalStorage) Delete(key string) error {
	dest := filepath.Join(s.Root, filepath.FromSlash(key))
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete artifact: %w", err)
	}
	return nil
}

// LineExtractor parses plain-text statements with one credit per line in the
// form "payer,amount,YYYY-MM-DD". It stands in for the production
// LLM-based extraction service; malformed lines are skipped, not errors.
type LineExtractor struct{}

func NewLineExtractor() *LineExtractor {
	return &LineExtractor{}
}

func (e *LineExtractor) ExtractCandidates(statement []byte, investorNames []string) ([]Candidate, error) {
	var candidates []Candidate

	for _, line := range strings.Split(string(statement), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Split(line, ",")
		if len(parts) < 3 {
			log.Warn().Str("line", line).Msg("skipping statement line with too few fields")
			continue
		}

		amount, err := decimal.NewFromString(strings.TrimSpace(parts[1]))
		if err != nil {
			log.Warn().Str("line", line).Msg("skipping statement line with unparseable amount")
			continue
		}

		date, err := time.Parse("2006-01-02", strings.TrimSpace(parts[2]))
		if err != nil {
			log.Warn().Str("line", line).Msg("skipping statement line with unparseable date")
			continue
		}

		candidates = append(candidates, Candidate{
			PayerHint: strings.TrimSpace(parts[0]),
			Amount:    amount,
			Date:      date,
		})
	}

	return candidates, nil
}

func sanitize(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			b.WriteRune(c)
		case c == ' ', c == '-', c == '_':
			b.WriteRune('_')
		}
	}
	return b.String()
}
