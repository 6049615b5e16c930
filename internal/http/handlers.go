package http

import (
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/collectiond/internal/auth"
	"github.com/fyrsmithlabs/collectiond/internal/lifecycle"
	"github.com/fyrsmithlabs/collectiond/internal/registry"
)

func (s *Server) handleCreateCollection(c echo.Context) error {
	owner, err := auth.Principal(c)
	if err != nil {
		return err
	}
	var req CreateCollectionRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}

	coll, err := s.coord.CreateCollection(c.Request().Context(), owner, req.Name, req.Metadata)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, coll)
}

func (s *Server) handleListCollections(c echo.Context) error {
	owner, err := auth.Principal(c)
	if err != nil {
		return err
	}
	colls, err := s.coord.ListCollections(c.Request().Context(), owner)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, colls)
}

func (s *Server) handleGetCollection(c echo.Context) error {
	owner, err := auth.Principal(c)
	if err != nil {
		return err
	}
	coll, err := s.coord.GetCollection(c.Request().Context(), owner, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, coll)
}

func (s *Server) handleUpdateCollection(c echo.Context) error {
	owner, err := auth.Principal(c)
	if err != nil {
		return err
	}
	var req UpdateCollectionRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}

	coll, err := s.coord.UpdateCollection(c.Request().Context(), owner, c.Param("id"), registry.Update{
		Name:     req.Name,
		Metadata: req.Metadata,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, coll)
}

func (s *Server) handleDeleteCollection(c echo.Context) error {
	owner, err := auth.Principal(c)
	if err != nil {
		return err
	}
	res, err := s.coord.DeleteCollection(c.Request().Context(), owner, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, DeleteResponse{Success: true, Deleted: res.Deleted, Warnings: warningsOrEmpty(res.Warnings)})
}

func (s *Server) handleCollectionStats(c echo.Context) error {
	owner, err := auth.Principal(c)
	if err != nil {
		return err
	}
	stats, err := s.coord.CollectionStats(c.Request().Context(), owner, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

// handleUploadDocuments accepts multipart field "files" (repeatable) and
// an optional "metadatas_json" holding a JSON array with one object per file.
func (s *Server) handleUploadDocuments(c echo.Context) error {
	owner, err := auth.Principal(c)
	if err != nil {
		return err
	}

	form, err := c.MultipartForm()
	if err != nil {
		return badRequest("expected a multipart form with field \"files\"")
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		return badRequest("at least one file is required in field \"files\"")
	}

	var metadatas []map[string]any
	if raw := c.FormValue("metadatas_json"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &metadatas); err != nil {
			return badRequest("metadatas_json must be a JSON array of objects")
		}
	}

	uploads := make([]lifecycle.Upload, 0, len(headers))
	for _, fh := range headers {
		up, err := readUpload(fh)
		if err != nil {
			s.logger.Warn("reading uploaded file", zap.String("filename", fh.Filename), zap.Error(err))
			return badRequest("could not read uploaded file " + strconv.Quote(fh.Filename))
		}
		uploads = append(uploads, up)
	}

	res, err := s.coord.IngestFiles(c.Request().Context(), owner, c.Param("id"), uploads, metadatas)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, UploadResponse{
		Success:       true,
		FileIDs:       res.FileIDs(),
		AddedChunkIDs: res.ChunkIDs(),
		Warnings:      warningsOrEmpty(res.Warnings),
	})
}

func readUpload(fh *multipart.FileHeader) (lifecycle.Upload, error) {
	f, err := fh.Open()
	if err != nil {
		return lifecycle.Upload{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return lifecycle.Upload{}, err
	}
	return lifecycle.Upload{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get(echo.HeaderContentType),
		Data:        data,
	}, nil
}

func (s *Server) handleListDocuments(c echo.Context) error {
	owner, err := auth.Principal(c)
	if err != nil {
		return err
	}
	limit, err := queryInt(c, "limit", lifecycle.DefaultFileLimit)
	if err != nil || limit < 1 || limit > lifecycle.MaxFileLimit {
		return badRequest("limit must be between 1 and " + strconv.Itoa(lifecycle.MaxFileLimit))
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil || offset < 0 {
		return badRequest("offset must be a non-negative integer")
	}

	chunks, err := s.coord.ListUniqueFiles(c.Request().Context(), owner, c.Param("id"), limit, offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toDocuments(chunks))
}

func (s *Server) handleDeleteDocument(c echo.Context) error {
	owner, err := auth.Principal(c)
	if err != nil {
		return err
	}
	res, err := s.coord.DeleteFile(c.Request().Context(), owner, c.Param("id"), c.Param("file_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, DeleteResponse{Success: true, Deleted: res.Deleted, Warnings: warningsOrEmpty(res.Warnings)})
}

func (s *Server) handleSearch(c echo.Context) error {
	owner, err := auth.Principal(c)
	if err != nil {
		return err
	}
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	if req.Limit < 0 || req.Limit > lifecycle.MaxSearchK {
		return badRequest("limit must be between 1 and " + strconv.Itoa(lifecycle.MaxSearchK))
	}

	hits, err := s.coord.SearchChunks(c.Request().Context(), owner, c.Param("id"), req.Query, req.Limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toSearchResults(hits))
}

func (s *Server) handleListFiles(c echo.Context) error {
	owner, err := auth.Principal(c)
	if err != nil {
		return err
	}
	limit, offset, err := page(c)
	if err != nil {
		return err
	}
	files, err := s.coord.ListFiles(c.Request().Context(), owner, c.Param("id"), limit, offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, files)
}

func (s *Server) handleListUserFiles(c echo.Context) error {
	owner, err := auth.Principal(c)
	if err != nil {
		return err
	}
	limit, offset, err := page(c)
	if err != nil {
		return err
	}
	files, err := s.coord.ListUserFiles(c.Request().Context(), owner, limit, offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, files)
}

func (s *Server) handleGetFile(c echo.Context) error {
	owner, err := auth.Principal(c)
	if err != nil {
		return err
	}
	rec, err := s.coord.GetFile(c.Request().Context(), owner, c.Param("id"), c.Param("file_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

func (s *Server) handleUpdateFile(c echo.Context) error {
	owner, err := auth.Principal(c)
	if err != nil {
		return err
	}
	// Path params must not end up in the patch.
	var patch map[string]any
	if err := json.NewDecoder(c.Request().Body).Decode(&patch); err != nil {
		return badRequest("request body must be a JSON object")
	}
	rec, err := s.coord.UpdateFileMetadata(c.Request().Context(), owner, c.Param("id"), c.Param("file_id"), patch)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

// handleDownload returns a presigned URL, or streams the bytes when the
// blob store cannot presign.
func (s *Server) handleDownload(c echo.Context) error {
	owner, err := auth.Principal(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	collectionID, fileID := c.Param("id"), c.Param("file_id")

	d, err := s.coord.Download(ctx, owner, collectionID, fileID)
	if err != nil {
		return err
	}
	if d.Content == nil {
		return c.JSON(http.StatusOK, DownloadResponse{
			FileID:      fileID,
			Filename:    d.Record.OriginalFilename,
			DownloadURL: d.URL,
			ExpiresIn:   int(d.ExpiresIn.Seconds()),
		})
	}

	f := d.Content
	defer f.Close()

	contentType := f.Record.ContentType
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}
	c.Response().Header().Set(echo.HeaderContentDisposition,
		"attachment; filename="+strconv.Quote(f.Record.Filename))
	if f.Info.Size > 0 {
		c.Response().Header().Set(echo.HeaderContentLength, strconv.FormatInt(f.Info.Size, 10))
	}
	return c.Stream(http.StatusOK, contentType, f)
}

func (s *Server) handleUserStats(c echo.Context) error {
	owner, err := auth.Principal(c)
	if err != nil {
		return err
	}
	stats, err := s.coord.UserStats(c.Request().Context(), owner)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

func queryInt(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func page(c echo.Context) (int, int, error) {
	limit, err := queryInt(c, "limit", 0)
	if err != nil || limit < 0 {
		return 0, 0, badRequest("limit must be a non-negative integer")
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil || offset < 0 {
		return 0, 0, badRequest("offset must be a non-negative integer")
	}
	return limit, offset, nil
}
