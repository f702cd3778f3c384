package notify

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// FileSender appends every message to a local file.
type FileSender struct {
	filePath string
	mu       sync.Mutex
}

// NewFileSender creates the directory of filePath if needed.
func NewFileSender(filePath string) (*FileSender, error) {
	if strings.TrimSpace(filePath) == "" {
		return nil, fmt.Errorf("notification log file path cannot be empty")
	}
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for notification log '%s': %w", dir, err)
	}
	return &FileSender{filePath: filePath}, nil
}

func (s *FileSender) Send(ctx context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(s.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open notification log file: %w", err)
	}
	defer file.Close()

	entry := fmt.Sprintf("--- %s notification logged at %s (To: %s, Subject: %s) ---\n%s\n--- End ---\n\n",
		msg.Channel, time.Now().Format(time.RFC3339Nano), msg.To, msg.Subject, msg.Body)
	if _, err := file.WriteString(entry); err != nil {
		log.Printf("FileSender: failed to write to '%s': %v", s.filePath, err)
		return fmt.Errorf("failed to write notification to log file: %w", err)
	}
	return nil
}
