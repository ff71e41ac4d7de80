package storage

import (
	"fmt"
	"path"
	"regexp"
	"time"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildAuditBatchPath lays audit batches out by service and UTC hour so
// external engines can prune by partition.
func BuildAuditBatchPath(service string, flushedAt time.Time, sequence int) (string, error) {
	if err := validatePathComponent(service, "service name"); err != nil {
		return "", err
	}
	if sequence < 0 {
		return "", fmt.Errorf("sequence must be >= 0")
	}

	ts := flushedAt.UTC()
	return path.Join(
		service,
		"audit",
		fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		fmt.Sprintf("hour=%02d", ts.Hour()),
		fmt.Sprintf("batch-%d-%05d.parquet", ts.UnixMilli(), sequence),
	), nil
}

// AuditPrefix is the key prefix shared by every batch of service flushed on
// the UTC day of day.
func AuditPrefix(service string, day time.Time) (string, error) {
	if err := validatePathComponent(service, "service name"); err != nil {
		return "", err
	}
	ts := day.UTC()
	return path.Join(service, "audit", fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day())) + "/", nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
