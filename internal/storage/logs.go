package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// LogStorage saves step output and raw webhook deliveries to files
type LogStorage struct {
	BaseDir string
	now     func() time.Time
}

// NewLogStorage creates a new log storage rooted at baseDir
func NewLogStorage(baseDir string) *LogStorage {
	return &LogStorage{BaseDir: baseDir, now: time.Now}
}

// SaveLog saves output for a given stage/step and returns the file path
func (ls *LogStorage) SaveLog(stage, step string, output string) (string, error) {
	timestamp := ls.now().UTC().Format("20060102_150405.000000000")
	filename := fmt.Sprintf("%s_%s_%s.log", sanitize(stage), sanitize(step), timestamp)
	return ls.write(filepath.Join(ls.BaseDir, "steps"), filename, []byte(output))
}

// SaveDelivery archives the raw body of a webhook delivery
func (ls *LogStorage) SaveDelivery(deliveryID, kind string, body []byte) (string, error) {
	if deliveryID == "" {
		deliveryID = "no-delivery-" + ls.now().UTC().Format("20060102_150405.000000000")
	}
	filename := fmt.Sprintf("%s_%s.json", sanitize(kind), sanitize(deliveryID))
	return ls.write(filepath.Join(ls.BaseDir, "deliveries"), filename, body)
}

func (ls *LogStorage) write(dir, filename string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0775); err != nil {
		return "", err
	}
	filePath := filepath.Join(dir, filename)
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return "", err
	}
	return filePath, nil
}

// sanitize removes special characters from names for filenames
func sanitize(name string) string {
	clean := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			clean = append(clean, r)
		case r == ' ' || r == '.' || r == '/':
			clean = append(clean, '-')
		}
		if len(clean) >= 64 {
			break
		}
	}
	if len(clean) == 0 {
		return "step"
	}
	return string(clean)
}
