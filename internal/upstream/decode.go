package upstream

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
)

// acceptEncoding lists the codings decode understands
const acceptEncoding = "gzip, deflate, zstd"

// fallbackCharset is what charset.DetermineEncoding reports when it has no
// evidence
const fallbackCharset = "windows-1252"

// minDetectConfidence is the chardet confidence below which a guess is ignored
const minDetectConfidence = 50

func (c *Client) decode(status int, header http.Header, body io.Reader) (*Response, error) {
	plain, err := decompress(header.Get("Content-Encoding"), body)
	if err != nil {
		return nil, err
	}
	defer plain.Close()

	data, err := io.ReadAll(io.LimitReader(plain, c.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upstream body: %w", err)
	}
	if int64(len(data)) > c.maxBody {
		return nil, ErrTooLarge
	}

	resp := &Response{
		Status: status,
		Header: ResponseHeader(header),
		Body:   data,
	}

	contentType := header.Get("Content-Type")
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType == "" || mediaType == "application/octet-stream" {
		if len(data) == 0 {
			resp.MediaType = "application/octet-stream"
			return resp, nil
		}
		sniffed := mimetype.Detect(data).String()
		mediaType, _, _ = mime.ParseMediaType(sniffed)
		resp.Header.Set("Content-Type", sniffed)
	}
	resp.MediaType = mediaType

	if !isHTML(mediaType) || len(data) == 0 {
		return resp, nil
	}

	name := detectCharset(data, params["charset"])
	resp.Charset = name
	if name != "utf-8" {
		utf8, err := transcode(data, name)
		if err != nil {
			return nil, err
		}
		resp.Body = utf8
	}
	resp.Header.Set("Content-Type", mediaType+"; charset=utf-8")
	return resp, nil
}

// decompress undoes a single Content-Encoding
func decompress(encoding string, body io.Reader) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return io.NopCloser(body), nil
	case "gzip", "x-gzip":
		r, err := gzip.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip body: %w", err)
		}
		return r, nil
	case "deflate":
		// Servers disagree on whether deflate means zlib or raw deflate
		buffered := bufio.NewReader(body)
		head, err := buffered.Peek(2)
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("failed to read deflate body: %w", err)
		}
		if len(head) == 2 && head[0]&0x0f == 8 && (uint16(head[0])<<8|uint16(head[1]))%31 == 0 {
			r, err := zlib.NewReader(buffered)
			if err != nil {
				return nil, fmt.Errorf("failed to open zlib body: %w", err)
			}
			return r, nil
		}
		return flate.NewReader(buffered), nil
	case "zstd":
		d, err := zstd.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("failed to open zstd body: %w", err)
		}
		return d.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}
}

// detectCharset returns the canonical charset name of an HTML body. The
// declared charset, a BOM, the <meta> prescan and valid UTF-8 win in that
// order; otherwise chardet guesses.
func detectCharset(data []byte, declared string) string {
	if declared != "" {
		if _, name := charset.Lookup(declared); name != "" {
			return name
		}
	}
	_, name, certain := charset.DetermineEncoding(data, "")
	if certain || name != fallbackCharset {
		return name
	}
	if guess, err := chardet.NewHtmlDetector().DetectBest(data); err == nil && guess.Confidence >= minDetectConfidence {
		if _, guessed := charset.Lookup(guess.Charset); guessed != "" {
			return guessed
		}
	}
	return name
}

func transcode(data []byte, name string) ([]byte, error) {
	r, err := charset.NewReaderLabel(name, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s body: %w", name, err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s body: %w", name, err)
	}
	return out, nil
}

func isHTML(mediaType string) bool {
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}
