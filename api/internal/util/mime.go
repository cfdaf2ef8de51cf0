package util

import (
	"bytes"
	"net/http"
	"strings"
)

// SniffImageMIME возвращает MIME изображения по сигнатуре, "" если это не картинка.
func SniffImageMIME(b []byte) string {
	// JPEG: FF D8
	if len(b) >= 2 && b[0] == 0xFF && b[1] == 0xD8 {
		return "image/jpeg"
	}
	// PNG
	if len(b) >= 8 &&
		b[0] == 0x89 && b[1] == 0x50 && b[2] == 0x4E && b[3] == 0x47 &&
		b[4] == 0x0D && b[5] == 0x0A && b[6] == 0x1A && b[7] == 0x0A {
		return "image/png"
	}
	if ct := http.DetectContentType(b); strings.HasPrefix(ct, "image/") {
		return ct
	}
	return ""
}

// SniffMimeForOCR maps an image to the Yandex Vision mimeType enum.
func SniffMimeForOCR(b []byte) string {
	switch SniffImageMIME(b) {
	case "image/jpeg":
		return "JPEG"
	case "image/png":
		return "PNG"
	}
	// PDF
	if len(b) >= 5 && bytes.Equal(b[:5], []byte("%PDF-")) {
		return "PDF"
	}
	return ""
}

// SniffAudioMIME recognizes the containers Telegram delivers for voice
// messages and audio files. It returns "" for anything else.
func SniffAudioMIME(b []byte) string {
	switch {
	case len(b) >= 4 && bytes.Equal(b[:4], []byte("OggS")):
		return "audio/ogg"
	case len(b) >= 4 && bytes.Equal(b[:4], []byte("fLaC")):
		return "audio/flac"
	case len(b) >= 12 && bytes.Equal(b[:4], []byte("RIFF")) && bytes.Equal(b[8:12], []byte("WAVE")):
		return "audio/wav"
	case len(b) >= 3 && bytes.Equal(b[:3], []byte("ID3")):
		return "audio/mpeg"
	case len(b) >= 2 && b[0] == 0xFF && b[1]&0xE0 == 0xE0:
		return "audio/mpeg"
	case len(b) >= 8 && bytes.Equal(b[4:8], []byte("ftyp")):
		return "audio/mp4"
	}
	return ""
}
