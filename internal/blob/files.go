package blob

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

var (
	ErrInvalidSignature = errors.New("signature must be a PNG data URL")
	ErrUnsupportedFile  = errors.New("unsupported file type")
	ErrFileTooLarge     = errors.New("file too large")
)

const MaxSignatureBytes = 512 << 10

const (
	ContentTypePDF  = "application/pdf"
	ContentTypeDOC  = "application/msword"
	ContentTypeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	ContentTypePNG  = "image/png"
	ContentTypeJPEG = "image/jpeg"
)

var (
	pngMagic  = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
	pdfMagic  = []byte("%PDF-")
	oleMagic  = []byte{0xd0, 0xcf, 0x11, 0xe0, 0xa1, 0xb1, 0x1a, 0xe1}
	zipMagic  = []byte{'P', 'K', 0x03, 0x04}
	jpegMagic = []byte{0xff, 0xd8, 0xff}
)

// DecodeSignature turns a canvas data URL into PNG bytes.
func DecodeSignature(dataURL string) ([]byte, error) {
	const prefix = "data:image/png;base64,"
	dataURL = strings.TrimSpace(dataURL)
	if !strings.HasPrefix(dataURL, prefix) {
		return nil, ErrInvalidSignature
	}
	encoded := dataURL[len(prefix):]
	if base64.StdEncoding.DecodedLen(len(encoded)) > MaxSignatureBytes {
		return nil, fmt.Errorf("%w: signature exceeds %d bytes", ErrFileTooLarge, MaxSignatureBytes)
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !bytes.HasPrefix(data, pngMagic) {
		return nil, ErrInvalidSignature
	}
	return data, nil
}

// DetectDocument sniffs a CV or attachment upload. Only PDF and Word files are
// accepted; the extension has to agree with the content.
func DetectDocument(fileName string, data []byte) (string, error) {
	ext := strings.ToLower(path.Ext(fileName))
	switch {
	case bytes.HasPrefix(data, pdfMagic) && ext == ".pdf":
		return ContentTypePDF, nil
	case bytes.HasPrefix(data, oleMagic) && ext == ".doc":
		return ContentTypeDOC, nil
	case bytes.HasPrefix(data, zipMagic) && ext == ".docx":
		return ContentTypeDOCX, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFile, fileName)
}

// DetectAttachment accepts documents and common photo formats, for complaint
// evidence.
func DetectAttachment(fileName string, data []byte) (string, error) {
	switch {
	case bytes.HasPrefix(data, pngMagic):
		return ContentTypePNG, nil
	case bytes.HasPrefix(data, jpegMagic):
		return ContentTypeJPEG, nil
	}
	return DetectDocument(fileName, data)
}

// ObjectKey builds kind/yyyy/mm/id/name with the file name reduced to a safe
// subset.
func ObjectKey(kind, id, fileName string, at time.Time) string {
	return path.Join(kind, at.UTC().Format("2006/01"), id, SafeName(fileName))
}

func SafeName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('-')
		}
	}
	out := strings.Trim(b.String(), ".")
	if len(out) > 80 {
		out = out[len(out)-80:]
	}
	if out == "" {
		out = "file"
	}
	return out
}
