package recorder

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
)

func TestHMAC(t *testing.T) {
	key := []byte("integrity-key")
	data := []byte("payload")

	mac := CalculateHMAC(data, key)
	if len(mac) != 64 {
		t.Fatalf("Expected 64 hex chars, got %d", len(mac))
	}
	if !VerifyHMAC(data, key, mac) {
		t.Error("HMAC did not verify")
	}
	if VerifyHMAC([]byte("payload!"), key, mac) {
		t.Error("HMAC verified modified data")
	}
	if VerifyHMAC(data, []byte("other-key"), mac) {
		t.Error("HMAC verified with wrong key")
	}
}

func TestSealedRecords(t *testing.T) {
	key := []byte("integrity-key")
	rec := NewCallRecord(1, 2, 3, 4, 5, []byte{9, 9})

	line, err := sealRecord(rec, key)
	if err != nil {
		t.Fatalf("sealRecord failed: %v", err)
	}
	got, err := openRecord(line, key)
	if err != nil {
		t.Fatalf("openRecord failed: %v", err)
	}
	sameRecord(t, 0, rec, got)

	// Sealed lines read fine without a key
	if _, err := openRecord(line, nil); err != nil {
		t.Errorf("Unkeyed read of sealed line failed: %v", err)
	}

	if _, err := openRecord(line, []byte("wrong")); !errors.Is(err, ErrIntegrity) {
		t.Errorf("Expected ErrIntegrity with wrong key, got %v", err)
	}

	plain, _ := sealRecord(rec, nil)
	if _, err := openRecord(plain, key); !errors.Is(err, ErrIntegrity) {
		t.Errorf("Expected ErrIntegrity for unsealed line, got %v", err)
	}
}

func TestTamperedFile(t *testing.T) {
	key := []byte("integrity-key")
	path := filepath.Join(t.TempDir(), "trace.jsonl")

	recorder, err := NewFileRecorderWithOptions(path, FileRecorderOptions{
		CompressionType: NoCompression,
		IntegrityKey:    key,
	})
	if err != nil {
		t.Fatalf("Failed to create file recorder: %v", err)
	}
	for _, r := range testRecords() {
		recorder.RecordEvent(r)
	}
	if err := recorder.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	tampered := strings.Replace(string(data), "asan_HeapFree", "asan_HeapFrex", 1)
	if err := os.WriteFile(path, []byte(tampered), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	src, err := OpenFileSource(path, key)
	if err != nil {
		t.Fatalf("Failed to open source: %v", err)
	}
	defer src.Close()

	var good, bad int
	for {
		_, err := src.Next()
		if err != nil && !errors.Is(err, ErrIntegrity) {
			break
		}
		if err != nil {
			bad++
			continue
		}
		good++
	}
	if good != len(testRecords())-1 || bad != 1 {
		t.Errorf("Expected %d good and 1 bad record, got %d and %d", len(testRecords())-1, good, bad)
	}
}
