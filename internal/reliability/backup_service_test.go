package reliability

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neolight/smarttrader/internal/database"
)

type fakeObjectStore struct {
	uploads map[string]int64
	objects []BackupObject
	deleted []string
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{uploads: make(map[string]int64)}
}

func (f *fakeObjectStore) Upload(_ context.Context, key string, body io.Reader, size int64) error {
	n, err := io.Copy(io.Discard, body)
	if err != nil {
		return err
	}
	f.uploads[key] = n
	_ = size
	return nil
}

func (f *fakeObjectStore) List(_ context.Context, prefix string) ([]BackupObject, error) {
	_ = prefix
	return f.objects, nil
}

func (f *fakeObjectStore) Delete(_ context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	return nil
}

func TestCreateAndUploadBackup(t *testing.T) {
	dataDir := t.TempDir()

	db, err := database.New(database.Config{
		Path:    filepath.Join(dataDir, "ledger.db"),
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec("CREATE TABLE trades (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)

	store := newFakeObjectStore()
	svc := NewBackupService(store, map[string]*database.DB{"ledger": db},
		filepath.Join(dataDir, "rl"), dataDir, zerolog.Nop())

	require.NoError(t, svc.CreateAndUploadBackup(context.Background()))

	require.Len(t, store.uploads, 1)
	for key, size := range store.uploads {
		assert.Contains(t, key, backupPrefix)
		assert.Contains(t, key, ".tar.gz")
		assert.Greater(t, size, int64(0))
	}
}

func TestCreateArchiveRoundTrip(t *testing.T) {
	dir := t.TempDir()

	payload := bytes.Repeat([]byte("cycle returns\n"), 4096)
	srcPath := filepath.Join(dir, "returns.db")
	require.NoError(t, os.WriteFile(srcPath, payload, 0644))

	svc := NewBackupService(newFakeObjectStore(), nil, "", dir, zerolog.Nop())

	archivePath := filepath.Join(dir, "backup.tar.gz")
	require.NoError(t, svc.createArchive(archivePath, []string{srcPath}))

	// The archive must decompress and stream back completely: a flush
	// error swallowed on close would truncate it.
	f, err := os.Open(archivePath)
	require.NoError(t, err)
	defer f.Close()

	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer gz.Close()

	tr := tar.NewReader(gz)
	header, err := tr.Next()
	require.NoError(t, err)
	assert.Equal(t, "returns.db", header.Name)

	extracted, err := io.ReadAll(tr)
	require.NoError(t, err)
	assert.Equal(t, payload, extracted)

	_, err = tr.Next()
	assert.Equal(t, io.EOF, err)
}

func TestRotateOldBackupsKeepsMinimum(t *testing.T) {
	store := newFakeObjectStore()
	old := time.Now().AddDate(0, 0, -90)
	store.objects = []BackupObject{
		{Key: backupPrefix + old.Format("2006-01-02-150405") + ".tar.gz", Size: 10},
		{Key: backupPrefix + old.Add(time.Hour).Format("2006-01-02-150405") + ".tar.gz", Size: 10},
	}

	svc := NewBackupService(store, nil, "", t.TempDir(), zerolog.Nop())
	require.NoError(t, svc.RotateOldBackups(context.Background(), 30))

	assert.Empty(t, store.deleted, "minimum of 3 backups always kept")
}

func TestRotateOldBackupsDeletesBeyondRetention(t *testing.T) {
	store := newFakeObjectStore()
	now := time.Now()
	for i := 0; i < 5; i++ {
		ts := now.AddDate(0, 0, -i*20)
		store.objects = append(store.objects, BackupObject{
			Key:  fmt.Sprintf("%s%s.tar.gz", backupPrefix, ts.Format("2006-01-02-150405")),
			Size: 10,
		})
	}

	svc := NewBackupService(store, nil, "", t.TempDir(), zerolog.Nop())
	require.NoError(t, svc.RotateOldBackups(context.Background(), 30))

	// Backups at -60 and -80 days are past retention and beyond the kept minimum
	assert.Len(t, store.deleted, 2)
}

func TestListBackupsIgnoresForeignObjects(t *testing.T) {
	store := newFakeObjectStore()
	store.objects = []BackupObject{
		{Key: "unrelated.txt", Size: 1},
		{Key: backupPrefix + "not-a-timestamp.tar.gz", Size: 1},
		{Key: backupPrefix + "2026-01-10-120000.tar.gz", Size: 42},
	}

	svc := NewBackupService(store, nil, "", t.TempDir(), zerolog.Nop())
	backups, err := svc.ListBackups(context.Background())
	require.NoError(t, err)

	require.Len(t, backups, 1)
	assert.Equal(t, int64(42), backups[0].SizeBytes)
}
