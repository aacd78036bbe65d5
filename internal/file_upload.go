package internal

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nfnt/resize"
	"github.com/rs/zerolog"

	"studyroom/internal/chat"
	"studyroom/internal/storage"
)

const (
	thumbnailSize = 300
	// multipart framing on top of the file itself
	multipartOverhead = 1 << 20
)

type uploadResponse struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	ThumbURL string `json:"thumbUrl,omitempty"`
	FileName string `json:"fileName"`
	FileType string `json:"fileType"`
	Size     int64  `json:"size"`
	SHA256   string `json:"sha256"`
}

// FileUploadHandler manages file upload/download operations
type FileUploadHandler struct {
	store       *storage.Store
	uploadDir   string
	maxFileSize int64
	metrics     *Metrics
	log         zerolog.Logger
}

func NewFileUploadHandler(store *storage.Store, uploadDir string, maxFileSize int64, metrics *Metrics, log zerolog.Logger) *FileUploadHandler {
	return &FileUploadHandler{
		store:       store,
		uploadDir:   uploadDir,
		maxFileSize: maxFileSize,
		metrics:     metrics,
		log:         log,
	}
}

// HandleUpload stores one multipart file for a room the caller belongs to.
func (h *FileUploadHandler) HandleUpload(c *gin.Context) {
	tooLarge := fmt.Errorf("file size too large, pick a file smaller than %s", chat.FormatSize(h.maxFileSize))
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxFileSize+multipartOverhead)
	if err := c.Request.ParseMultipartForm(h.maxFileSize); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(c, http.StatusRequestEntityTooLarge, tooLarge)
			return
		}
		writeError(c, http.StatusBadRequest, fmt.Errorf("invalid upload: %w", err))
		return
	}
	defer func() {
		_ = c.Request.MultipartForm.RemoveAll()
	}()

	roomID := strings.TrimSpace(c.Request.FormValue("roomId"))
	if roomID == "" {
		writeError(c, http.StatusBadRequest, errors.New("roomId required"))
		return
	}
	userID := currentUserID(c)
	member, err := h.store.IsMember(c.Request.Context(), roomID, userID)
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	if !member {
		writeError(c, http.StatusForbidden, storage.ErrNotMember)
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		writeError(c, http.StatusBadRequest, errors.New("no file provided"))
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	if filename == "" || filename == "." || filename == ".." || filename == string(filepath.Separator) {
		writeError(c, http.StatusBadRequest, errors.New("invalid filename"))
		return
	}
	if header.Size > h.maxFileSize {
		writeError(c, http.StatusRequestEntityTooLarge, tooLarge)
		return
	}

	fileID := uuid.NewString()
	roomDir := sanitizePathComponent(roomID)
	relPath := filepath.Join(roomDir, fmt.Sprintf("%s-%s", fileID, sanitizePathComponent(filename)))
	storagePath := filepath.Join(h.uploadDir, relPath)
	if err := os.MkdirAll(filepath.Join(h.uploadDir, roomDir), 0o755); err != nil {
		writeError(c, http.StatusInternalServerError, fmt.Errorf("create upload directory: %w", err))
		return
	}

	written, sum, err := saveWithHash(storagePath, file)
	if err != nil {
		_ = os.Remove(storagePath)
		writeError(c, http.StatusInternalServerError, fmt.Errorf("save file: %w", err))
		return
	}

	mimeType := detectMIME(storagePath, header.Header.Get("Content-Type"))
	record := &storage.File{
		ID:          fileID,
		RoomID:      roomID,
		UploaderID:  userID,
		Filename:    filename,
		MIMEType:    mimeType,
		SizeBytes:   written,
		SHA256:      sum,
		StoragePath: relPath,
	}
	if isThumbnailable(mimeType) {
		thumbRel := filepath.Join(roomDir, fileID+"-thumb.jpg")
		if err := writeThumbnail(storagePath, filepath.Join(h.uploadDir, thumbRel)); err != nil {
			h.log.Warn().Err(err).Str("file", fileID).Msg("thumbnail failed")
		} else {
			record.ThumbPath = thumbRel
		}
	}
	if err := h.store.CreateFile(c.Request.Context(), record); err != nil {
		_ = os.Remove(storagePath)
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	h.metrics.AddUpload(written)
	h.log.Info().Str("file", fileID).Str("room", roomID).Int64("size", written).Str("type", mimeType).Msg("file uploaded")

	resp := uploadResponse{
		ID:       fileID,
		URL:      "/api/files/" + fileID,
		FileName: filename,
		FileType: mimeType,
		Size:     written,
		SHA256:   sum,
	}
	if record.ThumbPath != "" {
		resp.ThumbURL = resp.URL + "/thumb"
	}
	c.JSON(http.StatusOK, resp)
}

// HandleDownload serves a stored file by id.
func (h *FileUploadHandler) HandleDownload(c *gin.Context) {
	record, ok := h.lookup(c)
	if !ok {
		return
	}
	h.serve(c, record.StoragePath, record.Filename, record.MIMEType, record)
}

// HandleThumbnail serves the image preview generated at upload time.
func (h *FileUploadHandler) HandleThumbnail(c *gin.Context) {
	record, ok := h.lookup(c)
	if !ok {
		return
	}
	if record.ThumbPath == "" {
		writeError(c, http.StatusNotFound, errors.New("no thumbnail for this file"))
		return
	}
	h.serve(c, record.ThumbPath, "thumb-"+record.Filename+".jpg", "image/jpeg", record)
}

func (h *FileUploadHandler) lookup(c *gin.Context) (*storage.File, bool) {
	record, err := h.store.GetFile(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return nil, false
	}
	if record == nil {
		writeError(c, http.StatusNotFound, errors.New("file not found"))
		return nil, false
	}
	return record, true
}

func (h *FileUploadHandler) serve(c *gin.Context, relPath, name, contentType string, record *storage.File) {
	filePath := filepath.Join(h.uploadDir, relPath)
	absPath, err := filepath.Abs(filePath)
	base, baseErr := filepath.Abs(h.uploadDir)
	if err != nil || baseErr != nil || !strings.HasPrefix(absPath, base+string(filepath.Separator)) {
		writeError(c, http.StatusForbidden, errors.New("invalid file path"))
		return
	}
	file, err := os.Open(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			writeError(c, http.StatusNotFound, errors.New("file not found on disk"))
		} else {
			writeError(c, http.StatusInternalServerError, err)
		}
		return
	}
	defer file.Close()

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", name))
	http.ServeContent(c.Writer, c.Request, name, record.CreatedAt, file)
}

func saveWithHash(path string, src io.Reader) (int64, string, error) {
	dest, err := os.Create(path)
	if err != nil {
		return 0, "", err
	}
	defer dest.Close()
	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(dest, hasher), src)
	if err != nil {
		return 0, "", err
	}
	return written, hex.EncodeToString(hasher.Sum(nil)), nil
}

// detectMIME sniffs the stored bytes and falls back to the declared type when
// the content is not recognised.
func detectMIME(path, declared string) string {
	detected, err := mimetype.DetectFile(path)
	if err == nil && !detected.Is("application/octet-stream") {
		return detected.String()
	}
	if declared != "" {
		return declared
	}
	return "application/octet-stream"
}

func isThumbnailable(mimeType string) bool {
	switch strings.SplitN(mimeType, ";", 2)[0] {
	case "image/jpeg", "image/png", "image/gif":
		return true
	}
	return false
}

func writeThumbnail(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()
	img, _, err := image.Decode(src)
	if err != nil {
		return fmt.Errorf("decode image: %w", err)
	}
	thumb := resize.Thumbnail(thumbnailSize, thumbnailSize, img, resize.Lanczos3)
	dst, err := os.Create(dstPath)
	if err != nil {
		return err
	}
	if err := jpeg.Encode(dst, thumb, &jpeg.Options{Quality: 85}); err != nil {
		_ = dst.Close()
		_ = os.Remove(dstPath)
		return fmt.Errorf("encode thumbnail: %w", err)
	}
	return dst.Close()
}

// sanitizePathComponent removes dangerous characters from path components
func sanitizePathComponent(s string) string {
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, "\x00", "")
	s = strings.TrimSpace(s)
	if s == "" || s == "." || s == ".." {
		return "unnamed"
	}
	return s
}
