package storage

import (
	"fmt"
	"os"
)

// ConsumeBlob reads the blob at path and removes the file. Stores call it to
// take ownership of an uploaded source message.
func ConsumeBlob(path string) ([]byte, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading blob: %w", err)
	}
	if err := os.Remove(path); err != nil {
		return nil, fmt.Errorf("removing blob: %w", err)
	}
	return buf, nil
}
