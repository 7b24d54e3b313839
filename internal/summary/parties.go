package summary

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/caseloom/caseloom/internal/analyze"
)

// PartiesArtifact is the case-context/parties.json payload: every party
// recognized across the case's documents, merged by name.
type PartiesArtifact struct {
	Parties   []analyze.Party `json:"parties"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// mergeParties folds the parties from every record into one deduplicated
// list. Names are matched case-insensitively; mentions accumulate and the
// first non-empty role wins. The result is ordered most-mentioned first.
func mergeParties(records []metadataRecord) ([]byte, error) {
	merged := make(map[string]*analyze.Party)
	for _, rec := range records {
		for _, p := range rec.meta.Entities.Parties {
			name := strings.TrimSpace(p.Name)
			if name == "" {
				continue
			}
			key := strings.ToLower(name)
			existing, ok := merged[key]
			if !ok {
				cp := p
				cp.Name = name
				merged[key] = &cp
				continue
			}
			existing.Mentions += p.Mentions
			if existing.Role == "" {
				existing.Role = p.Role
			}
		}
	}

	parties := make([]analyze.Party, 0, len(merged))
	for _, p := range merged {
		parties = append(parties, *p)
	}
	sort.Slice(parties, func(i, j int) bool {
		if parties[i].Mentions != parties[j].Mentions {
			return parties[i].Mentions > parties[j].Mentions
		}
		return parties[i].Name < parties[j].Name
	})

	data, err := json.MarshalIndent(PartiesArtifact{
		Parties:   parties,
		UpdatedAt: time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode parties artifact: %w", err)
	}
	return append(data, '\n'), nil
}
