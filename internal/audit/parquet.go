package audit

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/askdb/askdb/internal/repair"
)

const ParquetContentType = "application/vnd.apache.parquet"

type parquetRecord struct {
	RequestID       string `parquet:"request_id"`
	Question        string `parquet:"question"`
	SQL             string `parquet:"sql_text"`
	Status          string `parquet:"status"`
	AttemptCount    int32  `parquet:"attempt_count"`
	AttemptsJSON    string `parquet:"attempts_json"`
	Executed        bool   `parquet:"executed"`
	RowCount        int64  `parquet:"row_count"`
	Truncated       bool   `parquet:"truncated"`
	ErrorKind       string `parquet:"error_kind"`
	ErrorMessage    string `parquet:"error_message"`
	Answer          string `parquet:"answer"`
	DurationMs      int64  `parquet:"duration_ms"`
	CreatedAtUnixMs int64  `parquet:"created_at_unix_ms"`
}

func toParquetRecord(record Record) (parquetRecord, error) {
	attempts, err := json.Marshal(record.Attempts)
	if err != nil {
		return parquetRecord{}, fmt.Errorf("marshal attempts for %s: %w", record.RequestID, err)
	}
	return parquetRecord{
		RequestID:       record.RequestID,
		Question:        record.Question,
		SQL:             record.SQL,
		Status:          string(record.Status),
		AttemptCount:    int32(len(record.Attempts)),
		AttemptsJSON:    string(attempts),
		Executed:        record.Executed,
		RowCount:        int64(record.RowCount),
		Truncated:       record.Truncated,
		ErrorKind:       record.ErrorKind,
		ErrorMessage:    record.ErrorMessage,
		Answer:          record.Answer,
		DurationMs:      record.Duration.Milliseconds(),
		CreatedAtUnixMs: record.CreatedAt.UnixMilli(),
	}, nil
}

func encodeParquet(rows []parquetRecord) ([]byte, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("records are required")
	}
	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[parquetRecord](buf)
	if _, err := writer.Write(rows); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

func fromParquetRecord(row parquetRecord) (Record, error) {
	var attempts []repair.Attempt
	if row.AttemptsJSON != "" && row.AttemptsJSON != "null" {
		if err := json.Unmarshal([]byte(row.AttemptsJSON), &attempts); err != nil {
			return Record{}, fmt.Errorf("unmarshal attempts for %s: %w", row.RequestID, err)
		}
	}
	return Record{
		RequestID:    row.RequestID,
		Question:     row.Question,
		SQL:          row.SQL,
		Status:       repair.Status(row.Status),
		Attempts:     attempts,
		Executed:     row.Executed,
		RowCount:     int(row.RowCount),
		Truncated:    row.Truncated,
		ErrorKind:    row.ErrorKind,
		ErrorMessage: row.ErrorMessage,
		Answer:       row.Answer,
		Duration:     time.Duration(row.DurationMs) * time.Millisecond,
		CreatedAt:    time.UnixMilli(row.CreatedAtUnixMs).UTC(),
	}, nil
}

// decodeParquet opens the file once up front because the generic reader
// panics on a corrupt footer.
func decodeParquet(data []byte) ([]parquetRecord, error) {
	if _, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data))); err != nil {
		return nil, fmt.Errorf("open parquet file: %w", err)
	}
	reader := parquet.NewGenericReader[parquetRecord](bytes.NewReader(data))
	defer func() { _ = reader.Close() }()

	rows := make([]parquetRecord, reader.NumRows())
	count, err := reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read parquet rows: %w", err)
	}
	return rows[:count], nil
}
