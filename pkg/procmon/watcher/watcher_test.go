package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/antoxa-hide/procmon/pkg/procmon/logger"
)

func TestWatcher_PackageDBWriteTriggersEvent(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "packages.xml")
	require.NoError(t, os.WriteFile(dbPath, []byte("<manifest/>"), 0644))

	interpDir := t.TempDir()
	interpPath := filepath.Join(interpDir, "app_process")
	require.NoError(t, os.WriteFile(interpPath, []byte("binary"), 0755))

	w, err := New(dbPath, []string{interpPath}, logger.Logger{})
	require.NoError(t, err)
	defer w.Close()

	done := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.NoError(t, os.WriteFile(dbPath, []byte("<manifest/><package/>"), 0644))

	select {
	case ev := <-w.Events:
		require.Equal(t, PackageDBChanged, ev.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for package db event")
	}

	cancel()
	<-done
}
