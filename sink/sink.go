// Package sink writes member records to disk and reads them back.
package sink

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"linkedin-group-scraper/models"
)

// WriteCSV writes records with a header holding the union of their keys in
// canonical order. Missing values are written as empty cells. With no
// records, only the profile_url header is written.
func WriteCSV(records []models.MemberRecord, path string) error {
	f, err := create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := EncodeCSV(f, records); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

// EncodeCSV writes records as CSV to w.
func EncodeCSV(w io.Writer, records []models.MemberRecord) error {
	header := models.UnionKeys(records)
	if len(header) == 0 {
		header = []string{models.KeyProfileURL}
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	row := make([]string, len(header))
	for _, r := range records {
		for i, key := range header {
			row[i], _ = r.Get(key)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV reads records written by WriteCSV. Empty cells become absent fields
// and unknown columns are ignored.
func ReadCSV(path string) ([]models.MemberRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cr := csv.NewReader(f)
	header, err := cr.Read()
	if err == io.EOF {
		return []models.MemberRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header of %s: %w", path, err)
	}

	records := make([]models.MemberRecord, 0)
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		var r models.MemberRecord
		for i, key := range header {
			r.Set(key, row[i])
		}
		records = append(records, r)
	}
	return records, nil
}

// WriteJSON writes records as an indented UTF-8 JSON array. Absent fields
// are written as null.
func WriteJSON(records []models.MemberRecord, path string) error {
	if records == nil {
		records = []models.MemberRecord{}
	}
	return writeJSON(records, path)
}

// ReadJSON reads records written by WriteJSON.
func ReadJSON(path string) ([]models.MemberRecord, error) {
	var records []models.MemberRecord
	if err := readJSON(path, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// WriteURLs writes the profile URL list as a JSON array of strings.
func WriteURLs(urls []string, path string) error {
	if urls == nil {
		urls = []string{}
	}
	return writeJSON(urls, path)
}

// ReadURLs reads a list written by WriteURLs.
func ReadURLs(path string) ([]string, error) {
	var urls []string
	if err := readJSON(path, &urls); err != nil {
		return nil, err
	}
	return urls, nil
}

func writeJSON(v interface{}, path string) error {
	f, err := create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

func create(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	return f, nil
}
