package apiclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/invoice-extractor/orderdesk/internal/enum"
	"github.com/invoice-extractor/orderdesk/internal/model"
)

// MaxUploadSize matches the back-end's limit.
const MaxUploadSize = 10 << 20

var (
	ErrNoFile              = errors.New("no file provided")
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrFileTooLarge        = errors.New("file too large")
)

var allowedExtensions = map[string]bool{
	enum.FileTypePDF:  true,
	enum.FileTypePNG:  true,
	enum.FileTypeJPG:  true,
	enum.FileTypeJPEG: true,
}

// CheckUpload validates the file name before anything is read.
func CheckUpload(filename string) error {
	if strings.TrimSpace(filename) == "" {
		return ErrNoFile
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if !allowedExtensions[ext] {
		return fmt.Errorf("%w: %q (allowed: pdf, png, jpg, jpeg)", ErrUnsupportedFileType, ext)
	}
	return nil
}

// Upload sends a document for extraction and returns the extracted draft shape.
func (c *Client) Upload(ctx context.Context, filename string, r io.Reader) (*model.ExtractedDocument, error) {
	if err := CheckUpload(filename); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return nil, fmt.Errorf("upload: create form file: %w", err)
	}
	n, err := io.Copy(part, io.LimitReader(r, MaxUploadSize+1))
	if err != nil {
		return nil, fmt.Errorf("upload: read file: %w", err)
	}
	if n > MaxUploadSize {
		return nil, ErrFileTooLarge
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("upload: close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, UploadURL(c.baseURL), &buf)
	if err != nil {
		return nil, fmt.Errorf("upload: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	var doc model.ExtractedDocument
	if err := c.send("upload", req, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}
