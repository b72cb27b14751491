package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"evolver/internal/fsutil"
)

// Summary is the decoded view of the state summary file.
type Summary struct {
	LastIterationID string `json:"last_iteration_id"`
	LastStatus      Status `json:"last_status"`
	LastUpdatedUTC  string `json:"last_updated_utc"`
	TotalIterations int64  `json:"total_iterations"`
}

// SummaryStore maintains the state summary file. Fields it does not own
// are preserved across updates.
type SummaryStore struct {
	path string
	now  func() time.Time
}

func NewSummaryStore(path string) (*SummaryStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("summary path is required")
	}
	return &SummaryStore{path: path, now: time.Now}, nil
}

func (s *SummaryStore) Path() string { return s.path }

// Update records iterID/status as the latest completion and increments
// total_iterations. An absent or unreadable file counts from zero.
func (s *SummaryStore) Update(iterID string, status Status) (Summary, error) {
	fields := s.readFields()

	total := totalFrom(fields["total_iterations"]) + 1
	updated := s.now().UTC().Format(time.RFC3339Nano)
	fields["last_iteration_id"] = iterID
	fields["last_status"] = string(status)
	fields["last_updated_utc"] = updated
	fields["total_iterations"] = total

	if err := fsutil.WriteJSON(s.path, fields); err != nil {
		return Summary{}, &PersistenceError{Op: "write summary", Path: s.path, Cause: err}
	}
	return Summary{
		LastIterationID: iterID,
		LastStatus:      status,
		LastUpdatedUTC:  updated,
		TotalIterations: total,
	}, nil
}

// Load reads the summary file. A missing file yields the zero Summary.
func (s *SummaryStore) Load() (Summary, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Summary{}, nil
		}
		return Summary{}, err
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return Summary{}, fmt.Errorf("decode summary %s: %w", s.path, err)
	}
	sum := Summary{TotalIterations: totalFrom(fields["total_iterations"])}
	sum.LastIterationID, _ = fields["last_iteration_id"].(string)
	status, _ := fields["last_status"].(string)
	sum.LastStatus = Status(status)
	sum.LastUpdatedUTC, _ = fields["last_updated_utc"].(string)
	return sum, nil
}

func (s *SummaryStore) readFields() map[string]any {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return map[string]any{}
	}
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil || fields == nil {
		return map[string]any{}
	}
	return fields
}

// totalFrom accepts only whole numbers; anything else restarts the count.
func totalFrom(v any) int64 {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil && i >= 0 {
			return i
		}
	case float64:
		if n >= 0 && n == math.Trunc(n) && n < math.MaxInt64 {
			return int64(n)
		}
	}
	return 0
}
