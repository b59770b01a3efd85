// Package normalize turns raw scanner reports into a deterministic,
// deduplicated list of findings.
package normalize

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/danielolaszy/scanglue/internal/logging"
	"github.com/danielolaszy/scanglue/pkg/models"
)

// Normalizer converts reports into findings at or above a severity threshold.
type Normalizer struct {
	threshold models.Severity
}

// New creates a Normalizer. models.SeverityUnknown keeps every finding.
func New(threshold models.Severity) *Normalizer {
	return &Normalizer{threshold: threshold}
}

// probe detects the report format without decoding it fully.
type probe struct {
	Runs     json.RawMessage `json:"runs"`
	Findings json.RawMessage `json:"findings"`
}

// Normalize parses raw and returns findings ordered by severity (highest
// first), then path, line and category. Reports that are neither SARIF nor
// the native format fail with models.ErrScanFailed.
func (n *Normalizer) Normalize(raw []byte) ([]models.Finding, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty report", models.ErrScanFailed)
	}

	var p probe
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: malformed report: %v", models.ErrScanFailed, err)
	}

	var (
		findings []models.Finding
		err      error
	)
	switch {
	case p.Runs != nil:
		findings, err = parseSARIF(raw)
	case p.Findings != nil:
		findings, err = parseNative(raw)
	default:
		return nil, fmt.Errorf("%w: unrecognized report format", models.ErrScanFailed)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: malformed report: %v", models.ErrScanFailed, err)
	}

	return n.finalize(findings), nil
}

func (n *Normalizer) finalize(findings []models.Finding) []models.Finding {
	unique := make(map[string]models.Finding, len(findings))
	order := make([]string, 0, len(findings))
	dropped := 0

	for _, f := range findings {
		f.FilePath = NormalizePath(f.FilePath)
		f.Description = models.CanonicalDescription(f.Description)
		f.Fingerprint = Fingerprint(f.Category, f.FilePath, f.Line)

		existing, ok := unique[f.Fingerprint]
		if !ok {
			unique[f.Fingerprint] = f
			order = append(order, f.Fingerprint)
			continue
		}
		if f.Severity.Rank() > existing.Severity.Rank() {
			unique[f.Fingerprint] = f
		}
	}

	result := make([]models.Finding, 0, len(unique))
	for _, fp := range order {
		f := unique[fp]
		if !f.Severity.AtLeast(n.threshold) {
			dropped++
			continue
		}
		result = append(result, f)
	}

	sort.SliceStable(result, func(i, j int) bool {
		fi, fj := result[i], result[j]

		// Severity DESC
		if ri, rj := fi.Severity.Rank(), fj.Severity.Rank(); ri != rj {
			return ri > rj
		}
		if fi.FilePath != fj.FilePath {
			return fi.FilePath < fj.FilePath
		}
		if fi.Line != fj.Line {
			return fi.Line < fj.Line
		}
		return fi.Category < fj.Category
	})

	logging.Debug("normalized findings",
		"raw", len(findings),
		"unique", len(unique),
		"below_threshold", dropped,
		"kept", len(result))

	return result
}

// NormalizePath makes file paths comparable across scans: backslashes become
// slashes, leading "./" and "/" are removed and the result is cleaned.
func NormalizePath(p string) string {
	p = strings.TrimSpace(p)
	p = strings.TrimPrefix(p, "file://")
	p = strings.ReplaceAll(p, "\\", "/")
	if p == "" {
		return ""
	}
	p = path.Clean(p)
	for strings.HasPrefix(p, "/") || strings.HasPrefix(p, "./") {
		p = strings.TrimPrefix(strings.TrimPrefix(p, "/"), "./")
	}
	if p == "." {
		return ""
	}
	return p
}

// Fingerprint derives the stable identity of a finding from its category,
// normalized path and line. The column is not part of the identity.
func Fingerprint(category, filePath string, line int) string {
	h := sha256.New()
	h.Write([]byte(category))
	h.Write([]byte{0})
	h.Write([]byte(filePath))
	h.Write([]byte{0})
	fmt.Fprintf(h, "L%d", line)
	return hex.EncodeToString(h.Sum(nil)[:16])
}
