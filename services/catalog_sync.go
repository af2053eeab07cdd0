package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// MatchCutoff is the minimum name similarity for a catalog entry to be linked
// to an agency service.
const MatchCutoff = 0.6

// ServiceLister is the part of the agency API catalog sync needs.
type ServiceLister interface {
	Services(ctx context.Context) ([]AgencyService, error)
}

type SyncMatch struct {
	Key        string
	AgencyID   int
	AgencyName string
	Similarity float64
}

type SyncReport struct {
	Matched   []SyncMatch
	Unmatched []string
}

// Similarity is 1 - levenshtein(a, b) / max(len(a), len(b)), case-insensitive.
func Similarity(a, b string) float64 {
	a, b = strings.ToLower(strings.TrimSpace(a)), strings.ToLower(strings.TrimSpace(b))
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

// BestMatch returns the most similar agency service at or above MatchCutoff.
func BestMatch(name string, services []AgencyService) (AgencyService, float64, bool) {
	var (
		best  AgencyService
		score = -1.0
	)
	for _, s := range services {
		if sim := Similarity(name, s.Name); sim > score {
			best, score = s, sim
		}
	}
	if score < MatchCutoff {
		return AgencyService{}, score, false
	}
	return best, score, true
}

// SyncCatalog links the catalog at path to the agency's service list: matched
// entries get the agency service id and quantity bounds. The file is rewritten
// only if the result still validates.
func SyncCatalog(ctx context.Context, path string, agency ServiceLister) (*SyncReport, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var doc catalogDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &CatalogError{Reason: "decode: " + err.Error()}
	}
	services, err := agency.Services(ctx)
	if err != nil {
		return nil, err
	}
	if len(services) == 0 {
		return nil, &FulfillmentError{Reason: "agency returned no services"}
	}

	report := &SyncReport{}
	for _, platform := range sortedKeys(doc) {
		for _, cat := range sortedKeys(doc[platform]) {
			entries := doc[platform][cat]
			for i := range entries {
				e := &entries[i]
				if e.Name == nil {
					continue
				}
				key := platform + "/" + cat + "/" + *e.Name
				match, sim, ok := BestMatch(*e.Name, services)
				if !ok {
					report.Unmatched = append(report.Unmatched, key)
					continue
				}
				e.APIServiceID = match.ID
				// Fixed packages keep their bounds when the package would fall outside the new ones.
				if match.Min > 0 && match.Max >= match.Min &&
					(e.PackageQuantity == 0 || (e.PackageQuantity >= match.Min && e.PackageQuantity <= match.Max)) {
					lo, hi := match.Min, match.Max
					e.MinQuantity, e.MaxQuantity = &lo, &hi
				}
				report.Matched = append(report.Matched, SyncMatch{
					Key: key, AgencyID: match.ID, AgencyName: match.Name, Similarity: sim,
				})
			}
		}
	}

	out, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return nil, err
	}
	out = append(out, '\n')
	if _, err := ParseCatalog(bytes.NewReader(out)); err != nil {
		return nil, fmt.Errorf("synced catalog invalid, file left unchanged: %w", err)
	}
	if err := writeFileAtomic(path, out); err != nil {
		return nil, err
	}
	return report, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".catalog-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
