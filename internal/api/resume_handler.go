package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dutchcoders/go-clamd"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"aimian/internal/api/middleware"
	"aimian/internal/database"
	"aimian/internal/interview"
	"aimian/internal/storage"
)

// 上传的简历大小上限。
const maxResumeSize = 10 << 20

// ResumeHandler 负责简历上传与查询。
type ResumeHandler struct {
	db        *gorm.DB
	storage   *storage.Client
	clamdAddr string
	logger    *slog.Logger
}

// NewResumeHandler 构造 ResumeHandler。clamdAddr 为空时跳过病毒扫描。
func NewResumeHandler(db *gorm.DB, storageClient *storage.Client, clamdAddr string, logger *slog.Logger) *ResumeHandler {
	return &ResumeHandler{
		db:        db,
		storage:   storageClient,
		clamdAddr: clamdAddr,
		logger:    logger,
	}
}

type resumeResponse struct {
	ID        uint      `json:"id"`
	UserID    uint      `json:"userId"`
	FileName  string    `json:"fileName"`
	RawText   string    `json:"rawText,omitempty"`
	URL       string    `json:"url,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// UploadResume 接收 multipart 简历文件，扫描后存入对象存储并落库。
// 纯文本文件的内容同时保留在 raw_text 列，供后续提示词使用。
func (h *ResumeHandler) UploadResume(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		BadRequest(c, "missing file")
		return
	}
	if file.Size > maxResumeSize {
		BadRequest(c, "文件过大，简历不能超过 10MB")
		return
	}

	if h.clamdAddr != "" {
		clean, err := h.scanFile(c)
		if err != nil {
			middleware.LoggerFromContext(c).Error("scan resume", slog.Any("error", err))
			Internal(c, "failed to scan file")
			return
		}
		if !clean {
			BadRequest(c, "malicious file detected")
			return
		}
	}

	fileReader, err := file.Open()
	if err != nil {
		Internal(c, "failed to open file")
		return
	}
	defer fileReader.Close()

	contentType := file.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	var rawText string
	if strings.HasPrefix(contentType, "text/") || strings.EqualFold(filepath.Ext(file.Filename), ".txt") {
		data, err := io.ReadAll(io.LimitReader(fileReader, maxResumeSize))
		if err != nil {
			Internal(c, "failed to read file")
			return
		}
		rawText = string(data)
		if _, err := fileReader.Seek(0, io.SeekStart); err != nil {
			Internal(c, "failed to rewind file")
			return
		}
	}

	userID := interview.DefaultUserID
	objectKey := fmt.Sprintf("resumes/%d/%s%s", userID, uuid.NewString(), filepath.Ext(file.Filename))
	if _, err := h.storage.UploadFile(c.Request.Context(), objectKey, fileReader, file.Size, contentType); err != nil {
		middleware.LoggerFromContext(c).Error("upload resume", slog.Any("error", err))
		Internal(c, "failed to upload file")
		return
	}

	resume := database.Resume{
		UserID:    userID,
		FileName:  file.Filename,
		ObjectKey: objectKey,
		RawText:   rawText,
	}
	if err := h.db.WithContext(c.Request.Context()).Create(&resume).Error; err != nil {
		Internal(c, "failed to create resume")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"code": 0, "message": "ok", "data": resume.ID})
}

// GetResume 返回简历元信息与预签名下载链接。
func (h *ResumeHandler) GetResume(c *gin.Context) {
	resumeID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		BadRequest(c, "invalid resume id")
		return
	}

	var resume database.Resume
	if err := h.db.WithContext(c.Request.Context()).First(&resume, uint(resumeID)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "resume not found")
		} else {
			Internal(c, "failed to query resume")
		}
		return
	}

	var url string
	if resume.ObjectKey != "" {
		url, err = h.storage.GeneratePresignedURL(c.Request.Context(), resume.ObjectKey, 10*time.Minute)
		if err != nil {
			middleware.LoggerFromContext(c).Error("generate resume url", slog.Any("error", err))
			Internal(c, "failed to generate download link")
			return
		}
	}

	Success(c, resumeResponse{
		ID:        resume.ID,
		UserID:    resume.UserID,
		FileName:  resume.FileName,
		RawText:   resume.RawText,
		URL:       url,
		CreatedAt: resume.CreatedAt,
	})
}

// scanFile 用 clamd 流式扫描上传文件，返回文件是否干净。
func (h *ResumeHandler) scanFile(c *gin.Context) (bool, error) {
	file, err := c.FormFile("file")
	if err != nil {
		return false, err
	}
	fileReader, err := file.Open()
	if err != nil {
		return false, err
	}
	defer fileReader.Close()

	clamdClient := clamd.NewClamd(h.clamdAddr)
	abortChan := make(chan bool)
	defer close(abortChan)

	scanChan, err := clamdClient.ScanStream(fileReader, abortChan)
	if err != nil {
		return false, err
	}
	for result := range scanChan {
		if result.Status != clamd.RES_OK {
			return false, nil
		}
	}
	return true, nil
}
