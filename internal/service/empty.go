package service

import (
	"context"
	"os"
	"sync"

	"docqa/internal/domain"
)

// memoryEmptyLog is used when no persistent empty-document log is wired.
type memoryEmptyLog struct {
	mu      sync.Mutex
	entries map[string]domain.FileStamp
}

func newMemoryEmptyLog() *memoryEmptyLog {
	return &memoryEmptyLog{entries: map[string]domain.FileStamp{}}
}

func (l *memoryEmptyLog) MarkEmpty(_ context.Context, sourcePath string, stamp domain.FileStamp) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[sourcePath] = stamp
	return nil
}

func (l *memoryEmptyLog) EmptyDocuments(context.Context) (map[string]domain.FileStamp, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]domain.FileStamp, len(l.entries))
	for k, v := range l.entries {
		out[k] = v
	}
	return out, nil
}

func stampOf(path string) (domain.FileStamp, error) {
	info, err := os.Stat(path)
	if err != nil {
		return domain.FileStamp{}, err
	}
	return domain.FileStamp{Size: info.Size(), ModTime: info.ModTime()}, nil
}
