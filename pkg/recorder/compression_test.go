package recorder

import (
	"bytes"
	"io"
	"testing"
)

func TestCompressedWriter(t *testing.T) {
	var buf bytes.Buffer

	writer, err := NewCompressedWriter(&buf, ZstdCompression)
	if err != nil {
		t.Fatalf("Failed to create compressed writer: %v", err)
	}

	testData := []byte("This is test data for the compressed writer.")
	n, err := writer.Write(testData)
	if err != nil {
		t.Fatalf("Failed to write to compressed writer: %v", err)
	}
	if n != len(testData) {
		t.Fatalf("Expected to write %d bytes, wrote %d", len(testData), n)
	}

	if err := CloseCompressedWriter(writer, ZstdCompression); err != nil {
		t.Fatalf("Failed to close compressed writer: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatal("No data was written to buffer")
	}
	if !bytes.HasPrefix(buf.Bytes(), zstdMagic) {
		t.Fatalf("Output does not start with a zstd frame: %x", buf.Bytes()[:4])
	}

	reader, err := NewCompressedReader(bytes.NewReader(buf.Bytes()), ZstdCompression)
	if err != nil {
		t.Fatalf("Failed to create compressed reader: %v", err)
	}
	decompressed, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("Failed to read from compressed reader: %v", err)
	}
	if !bytes.Equal(decompressed, testData) {
		t.Fatalf("Decompressed data does not match original")
	}
}

func TestDetectingReader(t *testing.T) {
	plain := []byte("{\"kind\":0}\n")

	r, ct, err := NewDetectingReader(bytes.NewReader(plain))
	if err != nil {
		t.Fatalf("Detecting plain stream failed: %v", err)
	}
	if ct != NoCompression {
		t.Errorf("Expected NoCompression, got %v", ct)
	}
	got, _ := io.ReadAll(r)
	if !bytes.Equal(got, plain) {
		t.Errorf("Plain stream altered: %q", got)
	}

	var buf bytes.Buffer
	w, _ := NewCompressedWriter(&buf, ZstdCompression)
	w.Write(plain)
	CloseCompressedWriter(w, ZstdCompression)

	r, ct, err = NewDetectingReader(&buf)
	if err != nil {
		t.Fatalf("Detecting zstd stream failed: %v", err)
	}
	if ct != ZstdCompression {
		t.Errorf("Expected ZstdCompression, got %v", ct)
	}
	got, _ = io.ReadAll(r)
	if !bytes.Equal(got, plain) {
		t.Errorf("Zstd stream decoded to %q", got)
	}

	// Streams shorter than the magic are plain
	_, ct, err = NewDetectingReader(bytes.NewReader([]byte{0x28}))
	if err != nil || ct != NoCompression {
		t.Errorf("Short stream: got %v, %v", ct, err)
	}
}

func TestParseCompressionType(t *testing.T) {
	for _, ct := range []CompressionType{NoCompression, ZstdCompression} {
		got, err := ParseCompressionType(ct.String())
		if err != nil || got != ct {
			t.Errorf("ParseCompressionType(%q) = %v, %v", ct.String(), got, err)
		}
	}
	if _, err := ParseCompressionType("lz4"); err == nil {
		t.Error("Expected error for unsupported compression")
	}
}
