package control

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/vietddude/valuator/internal/core/domain"
)

// ParseSeed parses PLATE[:MILEAGE[:SALVAGE]] entries into pending records.
// Ids are assigned as seed-1, seed-2 and so on.
func ParseSeed(entries []string) ([]domain.Record, error) {
	records := make([]domain.Record, 0, len(entries))
	for i, entry := range entries {
		parts := strings.SplitN(entry, ":", 3)
		plate := strings.TrimSpace(parts[0])
		if plate == "" {
			return nil, fmt.Errorf("seed entry %d: empty plate", i+1)
		}
		rec := domain.Record{ID: fmt.Sprintf("seed-%d", i+1), Plate: plate}
		if len(parts) > 1 && strings.TrimSpace(parts[1]) != "" {
			m, err := strconv.Atoi(strings.TrimSpace(parts[1]))
			if err != nil {
				return nil, fmt.Errorf("seed entry %d: invalid mileage %q: %w", i+1, parts[1], err)
			}
			rec.Mileage = m
		}
		if len(parts) > 2 {
			rec.SalvageCategory = domain.SalvageCategory(strings.ToUpper(strings.TrimSpace(parts[2])))
		}
		records = append(records, rec)
	}
	return records, nil
}
